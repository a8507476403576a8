package core

import (
	"signpost-go/bus"
	"signpost-go/errcode"
	"signpost-go/types"
)

func (h *HAL) replyOK(m *bus.Message) {
	if m.CanReply() {
		h.conn.Reply(m, types.OKReply{OK: true}, false)
	}
}

func (h *HAL) replyValue(m *bus.Message, v any) {
	if m.CanReply() {
		h.conn.Reply(m, types.ValueReply{OK: true, Value: v}, false)
	}
}

func (h *HAL) replyErr(m *bus.Message, code errcode.Code) {
	if !m.CanReply() {
		return
	}
	if code == "" {
		code = errcode.Error
	}
	h.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
}

// replyFromError maps any error onto its stable code.
func (h *HAL) replyFromError(m *bus.Message, err error) {
	h.replyErr(m, errcode.Of(err))
}
