package stfu

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

type request struct {
	verb    string
	payload any
	reply   chan core.EnqueueResult
}

type completion struct {
	op  flash.Op
	p   *flash.Page
	err error
}

// completions moves flash callbacks onto the worker goroutine.
// At most one operation is outstanding, so a buffer of one never blocks.
type completions chan completion

func (c completions) ReadComplete(p *flash.Page, err error)  { c <- completion{flash.OpRead, p, err} }
func (c completions) WriteComplete(p *flash.Page, err error) { c <- completion{flash.OpWrite, p, err} }
func (c completions) EraseComplete(err error)                { c <- completion{flash.OpErase, nil, err} }

// Device is a single-goroutine HAL device wrapping an Updater.
type Device struct {
	id      string
	addr    core.CapAddr
	res     core.Resources
	flashID core.ResourceID
	f       flash.Flash

	// Owned by the worker only:
	u       *Updater
	failure error // set by Failed, reported after the state value

	reqCh  chan request
	compCh completions
	alive  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindFirmwareUpdate,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "stfu",
			Detail: types.FirmwareUpdateInfo{
				Flash:     string(d.flashID),
				FlagsPage: FlagsPage,
				PageSize:  flash.PageSize,
			},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	d.reqCh = make(chan request, 4)
	d.compCh = make(completions, 1)
	d.done = make(chan struct{})
	d.f.SetClient(d.compCh)

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
		case <-d.done:
		case <-t.C:
		}
		t.Stop()
	}
	d.res.Reg.ReleaseFlash(d.id, d.flashID)
	return nil
}

// Control hands the request to the worker and waits for its verdict. The
// worker never blocks on flash I/O, so the wait is short.
func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.EnqueueResult, error) {
	if !d.alive.Load() {
		return core.EnqueueResult{OK: false, Error: errcode.Unavailable}, nil
	}
	req := request{verb: verb, payload: payload, reply: make(chan core.EnqueueResult, 1)}
	select {
	case d.reqCh <- req:
	case <-d.done:
		return core.EnqueueResult{OK: false, Error: errcode.Unavailable}, nil
	}
	select {
	case r := <-req.reply:
		return r, nil
	case <-d.done:
		return core.EnqueueResult{OK: false, Error: errcode.Unavailable}, nil
	}
}

// ---- Worker ----

func (d *Device) worker(ctx context.Context) {
	defer close(d.done)
	defer d.alive.Store(false)

	d.emitState()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.reqCh:
			req.reply <- d.handle(req.verb, req.payload)
		case c := <-d.compCh:
			switch c.op {
			case flash.OpRead:
				d.u.ReadComplete(c.p, c.err)
			case flash.OpWrite:
				d.u.WriteComplete(c.p, c.err)
			case flash.OpErase:
				d.u.EraseComplete(c.err)
			}
			d.emitState()
			if d.failure != nil {
				_ = d.res.Pub.Emit(core.Event{Addr: d.addr, TSms: timex.NowMs(), Err: string(errcode.Of(d.failure))})
				d.failure = nil
			}
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
		return result(d.u.Allow(a.Buf))

	case "command":
		c, code := core.As[types.Command](payload)
		if code != "" {
			return core.EnqueueResult{OK: false, Error: code}
		}
		err := d.u.Command(c.Num)
		if err == nil && c.Num == CmdTrigger {
			d.emitState()
		}
		return result(err)

	case "state":
		return core.EnqueueResult{OK: true, Value: d.snapshot()}

	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}
	}
}

func result(err error) core.EnqueueResult {
	if err != nil {
		return core.EnqueueResult{OK: false, Error: errcode.Of(err)}
	}
	return core.EnqueueResult{OK: true}
}

func (d *Device) snapshot() types.FirmwareUpdateState {
	r := d.u.Request()
	return types.FirmwareUpdateState{
		State:       d.u.State().String(),
		Source:      r.Source,
		Destination: r.Destination,
		Length:      r.Length,
		CRC:         r.CRC,
	}
}

func (d *Device) emitState() {
	_ = d.res.Pub.Emit(core.Event{Addr: d.addr, Payload: d.snapshot(), TSms: timex.NowMs()})
}

// ---- Listener (called from the worker via the Updater) ----

func (d *Device) Staged(r UpdateRequest) {
	println("[stfu] boot flags written, awaiting reset")
	_ = d.res.Pub.Emit(core.Event{
		Addr:     d.addr,
		IsEvent:  true,
		EventTag: "staged",
		TSms:     timex.NowMs(),
		Payload: types.FirmwareStaged{
			Source:      r.Source,
			Destination: r.Destination,
			Length:      r.Length,
			CRC:         r.CRC,
		},
	})
}

func (d *Device) Failed(op flash.Op, err error) { d.failure = err }
