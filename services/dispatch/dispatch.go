// Package dispatch maps numbered driver calls onto HAL capabilities.
//
// User code addresses a driver by number: it sends a request on
// syscall/<num>/<verb> and gets back whatever the capability bound to that
// number replies. The table of bindings is board data, delivered on
// config/dispatch, and each binding is published retained on
// syscall/<num>/binding for discovery.
package dispatch

import (
	"context"
	"time"

	"signpost-go/bus"
	"signpost-go/errcode"
	"signpost-go/types"
)

const defaultTimeout = 2 * time.Second

// Topic is the request topic for one driver verb.
func Topic(num uint32, verb string) bus.Topic { return bus.T("syscall", num, verb) }

// BindingTopic carries the retained binding for num.
func BindingTopic(num uint32) bus.Topic { return bus.T("syscall", num, "binding") }

func capCtrl(b types.DriverBinding, verb string) bus.Topic {
	return bus.T("hal", "cap", b.Domain, string(b.Kind), b.Name, "control", verb)
}

type Service struct {
	conn    *bus.Connection
	timeout time.Duration

	table map[uint32]types.DriverBinding
	ready bool
}

// Start runs the dispatcher. It blocks until ctx is cancelled.
func Start(ctx context.Context, conn *bus.Connection) {
	New(conn, defaultTimeout).Run(ctx)
}

// New creates a dispatcher; timeout bounds each forwarded request.
func New(conn *bus.Connection, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{conn: conn, timeout: timeout, table: map[uint32]types.DriverBinding{}}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "dispatch"))
	callSub := s.conn.Subscribe(bus.T("syscall", "+", "+"))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(callSub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.DispatchConfig)
			if !ok {
				println("[dispatch] ignoring config/dispatch with unexpected payload")
				continue
			}
			s.apply(cfg)
		case msg := <-callSub.Channel():
			s.handle(ctx, msg)
		}
	}
}

// apply replaces the table and republishes the retained bindings.
func (s *Service) apply(cfg types.DispatchConfig) {
	next := make(map[uint32]types.DriverBinding, len(cfg.Drivers))
	for _, b := range cfg.Drivers {
		if _, dup := next[b.Num]; dup {
			println("[dispatch] duplicate driver number", b.Num)
			continue
		}
		next[b.Num] = b
	}
	for num := range s.table {
		if _, keep := next[num]; !keep {
			// A nil retained payload clears the old binding.
			s.conn.Publish(s.conn.NewMessage(BindingTopic(num), nil, true))
		}
	}
	for num, b := range next {
		s.conn.Publish(s.conn.NewMessage(BindingTopic(num), b, true))
	}
	s.table = next
	s.ready = true
}

func (s *Service) handle(ctx context.Context, msg *bus.Message) {
	verb, _ := msg.Topic.At(2).(string)
	if verb == "binding" {
		return // our own retained publications
	}
	num, ok := driverNum(msg.Topic.At(1))
	if !ok {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	if !s.ready {
		s.replyErr(msg, errcode.Unavailable)
		return
	}
	b, ok := s.table[num]
	if !ok {
		s.replyErr(msg, errcode.UnknownDriver)
		return
	}
	if !msg.CanReply() {
		s.conn.Publish(s.conn.NewMessage(capCtrl(b, verb), msg.Payload, false))
		return
	}
	go s.forward(ctx, msg, capCtrl(b, verb))
}

// forward relays one request and its reply. It runs off the service loop so
// a slow capability cannot stall other drivers.
func (s *Service) forward(ctx context.Context, req *bus.Message, to bus.Topic) {
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := s.conn.RequestWait(fctx, s.conn.NewMessage(to, req.Payload, false))
	if err != nil {
		s.replyErr(req, errcode.Timeout)
		return
	}
	s.conn.Reply(req, reply.Payload, false)
}

func (s *Service) replyErr(m *bus.Message, code errcode.Code) {
	if m.CanReply() {
		s.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
	}
}

func driverNum(tok bus.Token) (uint32, bool) {
	switch v := tok.(type) {
	case uint32:
		return v, true
	case int:
		if v >= 0 {
			return uint32(v), true
		}
	}
	return 0, false
}
