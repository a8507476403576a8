// Package nvstore exposes a window of a flash as byte-addressed storage with
// the numbered command surface user code expects: probe, size, read, write.
package nvstore

import (
	"context"
	"sync/atomic"
	"time"

	"signpost-go/errcode"
	"signpost-go/services/hal/flash"
	"signpost-go/services/hal/internal/core"
	"signpost-go/types"
	"signpost-go/x/timex"
)

// Command numbers (low byte of Command.Num). For read and write the upper
// bits carry the length: Num = length<<8 | op, Arg1 = offset.
const (
	CmdProbe = 0
	CmdSize  = 1
	CmdRead  = 2
	CmdWrite = 3
)

// Allow slots.
const (
	AllowRead  = 0
	AllowWrite = 1
)

// PackCommand builds Command.Num for a read or write.
func PackCommand(op uint32, length int) uint32 { return uint32(length)<<8 | op&0xFF }

type request struct {
	verb    string
	payload any
	reply   chan core.EnqueueResult
}

type done struct {
	write  bool
	buf    []byte // the buffer the operation was issued with
	length int
	err    error
}

// completions moves storage callbacks onto the worker goroutine.
type completions chan done

func (c completions) ReadDone(buf []byte, n int, err error)  { c <- done{false, buf, n, err} }
func (c completions) WriteDone(buf []byte, n int, err error) { c <- done{true, buf, n, err} }

// Device is a single-goroutine HAL device over a ToPages window.
type Device struct {
	id     string
	addr   core.CapAddr
	res    core.Resources
	params Params
	store  *flash.ToPages

	// Owned by the worker only:
	readBuf  []byte
	writeBuf []byte
	busy     bool
	offset   uint32

	reqCh  chan request
	doneCh completions
	alive  atomic.Bool
	cancel context.CancelFunc
	fin    chan struct{}
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindNonvolatile,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "nonvolatile_storage",
			Detail: types.StorageInfo{
				Flash:     d.params.Flash,
				StartPage: d.params.StartPage,
				Length:    d.params.Length,
			},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	d.reqCh = make(chan request, 4)
	d.doneCh = make(completions, 1)
	d.fin = make(chan struct{})
	d.store.SetClient(d.doneCh)

	wctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.alive.Store(true)
	go d.worker(wctx)
	return nil
}

func (d *Device) Close() error {
	if d.alive.Load() {
		d.cancel()
		t := time.NewTimer(300 * time.Millisecond)
		select {
		case <-d.fin:
		case <-t.C:
		}
		t.Stop()
	}
	d.res.Reg.ReleaseFlash(d.id, core.ResourceID(d.params.Flash))
	return nil
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.EnqueueResult, error) {
	if !d.alive.Load() {
		return core.EnqueueResult{OK: false, Error: errcode.Unavailable}, nil
	}
	req := request{verb: verb, payload: payload, reply: make(chan core.EnqueueResult, 1)}
	select {
	case d.reqCh <- req:
	case <-d.fin:
		return core.EnqueueResult{OK: false, Error: errcode.Unavailable}, nil
	}
	select {
	case r := <-req.reply:
		return r, nil
	case <-d.fin:
		return core.EnqueueResult{OK: false, Error: errcode.Unavailable}, nil
	}
}

// ---- Worker ----

func (d *Device) worker(ctx context.Context) {
	defer close(d.fin)
	defer d.alive.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.reqCh:
			req.reply <- d.handle(req.verb, req.payload)
		case c := <-d.doneCh:
			d.complete(c)
		}
	}
}

func (d *Device) handle(verb string, payload any) core.EnqueueResult {
	switch verb {
	case "allow":
		a, code := core.As[types.Allow](payload)
		if code != "" {
			return core.EnqueueResult{OK: false, Error: code}
		}
		switch a.Num {
		case AllowRead:
			d.readBuf = a.Buf
		case AllowWrite:
			d.writeBuf = a.Buf
		default:
			return core.EnqueueResult{OK: false, Error: errcode.Unsupported}
		}
		return core.EnqueueResult{OK: true}

	case "command":
		c, code := core.As[types.Command](payload)
		if code != "" {
			return core.EnqueueResult{OK: false, Error: code}
		}
		return d.command(c)

	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}
	}
}

func (d *Device) command(c types.Command) core.EnqueueResult {
	op := c.Num & 0xFF
	length := int(c.Num >> 8)
	switch op {
	case CmdProbe:
		return core.EnqueueResult{OK: true}
	case CmdSize:
		return core.EnqueueResult{OK: true, Value: types.StorageSize{Bytes: d.params.Length}}
	case CmdRead, CmdWrite:
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}
	}

	buf := d.readBuf
	if op == CmdWrite {
		buf = d.writeBuf
	}
	if buf == nil || length > len(buf) {
		return core.EnqueueResult{OK: false, Error: errcode.InvalidSize}
	}
	if uint64(c.Arg1)+uint64(length) > uint64(d.params.Length) {
		return core.EnqueueResult{OK: false, Error: errcode.InvalidParams}
	}
	if d.busy {
		return core.EnqueueResult{OK: false, Error: errcode.Busy}
	}

	var err error
	if op == CmdRead {
		err = d.store.Read(buf, int(c.Arg1), length)
	} else {
		err = d.store.Write(buf, int(c.Arg1), length)
	}
	if err != nil {
		return core.EnqueueResult{OK: false, Error: errcode.Of(err)}
	}
	d.busy = true
	d.offset = c.Arg1
	return core.EnqueueResult{OK: true}
}

func (d *Device) complete(c done) {
	d.busy = false
	ev := types.StorageDone{Offset: d.offset, Length: uint32(c.length)}
	tag := "read_done"
	if c.write {
		tag = "write_done"
	} else if c.err == nil {
		// d.readBuf may have been replaced by an allow while the read ran.
		ev.Data = append([]byte(nil), c.buf[:c.length]...)
	}
	if c.err != nil {
		println("[nvstore]", d.id, tag, "failed:", c.err.Error())
		ev.Error = string(errcode.Of(c.err))
	}
	ts := timex.NowMs()
	_ = d.res.Pub.Emit(core.Event{Addr: d.addr, IsEvent: true, EventTag: tag, Payload: ev, TSms: ts})
	// Published after the event so the retained status ends up degraded.
	if c.err != nil {
		_ = d.res.Pub.Emit(core.Event{Addr: d.addr, TSms: ts, Err: ev.Error})
	}
}
