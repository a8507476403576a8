package nvstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"signpost-go/errcode"
	"signpost-go/services/hal/flash"
	"signpost-go/services/hal/internal/core"
	"signpost-go/types"
)

type memRegistry struct {
	dev *flash.MemDevice
	mux *flash.Mux
}

func (r *memRegistry) ClaimFlash(_ string, id core.ResourceID) (flash.Flash, error) {
	if id != "fram0" {
		return nil, errcode.UnknownFlash
	}
	return r.mux.NewUser(), nil
}

func (r *memRegistry) ReleaseFlash(string, core.ResourceID) {}

type chanEmitter chan core.Event

func (c chanEmitter) Emit(ev core.Event) bool {
	select {
	case c <- ev:
		return true
	default:
		return false
	}
}

func waitEvent(t *testing.T, em chanEmitter, tag string) types.StorageDone {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-em:
			if ev.IsEvent && ev.EventTag == tag {
				return ev.Payload.(types.StorageDone)
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", tag)
		}
	}
}

// startDevice builds a 3000-byte region starting at page 4 of a 16-page flash.
// With run false the flash controller is returned unstarted and queues its
// first operation until the caller starts it.
func startDevice(t *testing.T, run bool) (*Device, *flash.MemDevice, chanEmitter) {
	t.Helper()
	d, mem, em, start := newDevice(t)
	if run {
		start()
	}
	return d, mem, em
}

func newDevice(t *testing.T) (d *Device, mem *flash.MemDevice, em chanEmitter, start func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem = flash.NewMemDevice(16)
	ctrl := flash.NewController(mem)
	reg := &memRegistry{dev: mem, mux: flash.NewMux(ctrl)}
	em = make(chanEmitter, 32)

	dev, err := builder{}.Build(ctx, core.BuilderInput{
		ID:     "holding",
		Params: Params{Flash: "fram0", StartPage: 4, Length: 3000},
		Res:    core.Resources{Reg: reg, Pub: em},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := dev.Init(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev.(*Device), mem, em, func() { ctrl.Start(ctx) }
}

func control(t *testing.T, d *Device, verb string, payload any) core.EnqueueResult {
	t.Helper()
	res, err := d.Control(d.addr, verb, payload)
	if err != nil {
		t.Fatalf("%s: %v", verb, err)
	}
	return res
}

func TestDevice_ProbeAndSize(t *testing.T) {
	d, _, _ := startDevice(t, true)
	if res := control(t, d, "command", types.Command{Num: CmdProbe}); !res.OK {
		t.Fatalf("probe = %+v", res)
	}
	res := control(t, d, "command", types.Command{Num: CmdSize})
	if diff := cmp.Diff(types.StorageSize{Bytes: 3000}, res.Value); diff != "" {
		t.Fatalf("size (-want +got):\n%s", diff)
	}
	if res := control(t, d, "command", types.Command{Num: 9}); res.Error != errcode.Unsupported {
		t.Fatalf("command 9 = %+v", res)
	}
}

func TestDevice_WriteThenRead(t *testing.T) {
	d, mem, em := startDevice(t, true)

	data := []byte("staged image chunk")
	control(t, d, "allow", types.Allow{Num: AllowWrite, Buf: data})
	const off = 510 // straddles the first page boundary of the region
	res := control(t, d, "command", types.Command{Num: PackCommand(CmdWrite, len(data)), Arg1: off})
	if !res.OK {
		t.Fatalf("write = %+v", res)
	}
	got := waitEvent(t, em, "write_done")
	if diff := cmp.Diff(types.StorageDone{Offset: off, Length: uint32(len(data))}, got); diff != "" {
		t.Fatalf("write_done (-want +got):\n%s", diff)
	}

	p4, p5 := mem.Snapshot(4), mem.Snapshot(5)
	if string(p4[510:]) != "st" || string(p5[:len(data)-2]) != "aged image chunk" {
		t.Fatal("bytes did not land at the region offset")
	}

	rbuf := make([]byte, 32)
	control(t, d, "allow", types.Allow{Num: AllowRead, Buf: rbuf})
	res = control(t, d, "command", types.Command{Num: PackCommand(CmdRead, len(data)), Arg1: off})
	if !res.OK {
		t.Fatalf("read = %+v", res)
	}
	rd := waitEvent(t, em, "read_done")
	if diff := cmp.Diff(data, rd.Data); diff != "" {
		t.Fatalf("read data (-want +got):\n%s", diff)
	}
}

func TestDevice_Validation(t *testing.T) {
	d, _, _ := startDevice(t, false)

	if res := control(t, d, "command", types.Command{Num: PackCommand(CmdRead, 4)}); res.Error != errcode.InvalidSize {
		t.Fatalf("read without buffer = %+v", res)
	}
	control(t, d, "allow", types.Allow{Num: AllowWrite, Buf: make([]byte, 8)})
	if res := control(t, d, "command", types.Command{Num: PackCommand(CmdWrite, 9)}); res.Error != errcode.InvalidSize {
		t.Fatalf("length > buffer = %+v", res)
	}
	if res := control(t, d, "command", types.Command{Num: PackCommand(CmdWrite, 8), Arg1: 2995}); res.Error != errcode.InvalidParams {
		t.Fatalf("past end of region = %+v", res)
	}
	if res := control(t, d, "allow", types.Allow{Num: 2, Buf: nil}); res.Error != errcode.Unsupported {
		t.Fatalf("allow slot 2 = %+v", res)
	}

	// One operation at a time; the first never completes here.
	control(t, d, "allow", types.Allow{Num: AllowWrite, Buf: make([]byte, 8)})
	if res := control(t, d, "command", types.Command{Num: PackCommand(CmdWrite, 8)}); !res.OK {
		t.Fatalf("write = %+v", res)
	}
	if res := control(t, d, "command", types.Command{Num: PackCommand(CmdWrite, 1)}); res.Error != errcode.Busy {
		t.Fatalf("second write = %+v", res)
	}
}

func TestPackCommand(t *testing.T) {
	if got := PackCommand(CmdWrite, 512); got != 0x20003 {
		t.Fatalf("PackCommand = %#x", got)
	}
}

func TestDevice_ReadCompletesIntoIssuingBuffer(t *testing.T) {
	d, mem, em, start := newDevice(t)
	var page flash.Page
	copy(page[:], "holding area contents")
	mem.Load(4, page)

	control(t, d, "allow", types.Allow{Num: AllowRead, Buf: make([]byte, 32)})
	if res := control(t, d, "command", types.Command{Num: PackCommand(CmdRead, 20)}); !res.OK {
		t.Fatalf("read = %+v", res)
	}
	// A shorter buffer arrives while the read is still queued.
	short := make([]byte, 4)
	if res := control(t, d, "allow", types.Allow{Num: AllowRead, Buf: short}); !res.OK {
		t.Fatalf("allow = %+v", res)
	}
	start()

	rd := waitEvent(t, em, "read_done")
	want := types.StorageDone{Offset: 0, Length: 20, Data: []byte("holding area content")}
	if diff := cmp.Diff(want, rd); diff != "" {
		t.Fatalf("read_done (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(make([]byte, 4), short); diff != "" {
		t.Fatalf("replacement buffer written (-want +got):\n%s", diff)
	}

	// The worker is still alive.
	if res := control(t, d, "command", types.Command{Num: CmdProbe}); !res.OK {
		t.Fatalf("probe after read = %+v", res)
	}
}
