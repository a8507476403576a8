package stfu

import (
	"context"
	"hash/crc32"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"signpost-go/bus"
	"signpost-go/errcode"
	"signpost-go/services/config"
	"signpost-go/services/dispatch"
	"signpost-go/services/hal"
	"signpost-go/types"
)

// boot starts the HAL, dispatcher and config service for the selected board
// and waits until the trigger is reachable.
func boot(t *testing.T) (*bus.Bus, *bus.Connection, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.NewBus(16)
	go hal.Run(ctx, b.NewConnection("hal"))
	go dispatch.Start(ctx, b.NewConnection("dispatch"))

	config.Register(hal.BoardName(), hal.BoardConfigs())
	config.NewConfigService().Start(context.WithValue(ctx, config.CtxDeviceKey, hal.BoardName()), b.NewConnection("config"))

	app := b.NewConnection("app")
	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := WaitReady(wctx, app); err != nil {
		t.Fatalf("trigger never became reachable: %v", err)
	}
	return b, app, ctx
}

func TestStageAndTrigger(t *testing.T) {
	b, app, ctx := boot(t)
	staged := b.NewConnection("watch").Subscribe(bus.T("hal", "cap", "system", "firmware_update", "stfu", "event", "staged"))

	image := make([]byte, 1500)
	for i := range image {
		image[i] = byte(i * 31)
	}
	for off := 0; off < len(image); off += 512 {
		end := min(off+512, len(image))
		if err := WriteBuffer(ctx, app, image[off:end], uint32(off)); err != nil {
			t.Fatalf("WriteBuffer at %d: %v", off, err)
		}
	}

	crc := crc32.ChecksumIEEE(image)
	if err := Go(ctx, app, 0x60000, 0x10000, uint32(len(image)), crc); err != nil {
		t.Fatalf("Go: %v", err)
	}
	select {
	case m := <-staged.Channel():
		want := types.FirmwareStaged{Source: 0x60000, Destination: 0x10000, Length: 1500, CRC: crc}
		if diff := cmp.Diff(want, m.Payload); diff != "" {
			t.Fatalf("staged (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no staged event")
	}

	if err := Go(ctx, app, 1, 2, 3, 4); err != errcode.ReservationConflict {
		t.Fatalf("second Go: got %v, want reserve", err)
	}
}

func TestWriteBuffer_OutOfRange(t *testing.T) {
	_, app, ctx := boot(t)
	if err := WriteBuffer(ctx, app, make([]byte, 16), 0x20000-8); err != errcode.InvalidParams {
		t.Fatalf("got %v, want invalid_params", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	_, app, ctx := boot(t)
	if err := call(ctx, app, 0x77777, "command", types.Command{}); err != errcode.UnknownDriver {
		t.Fatalf("got %v, want unknown_driver", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := Binding(cctx, app, 0x77777); err != errcode.UnknownDriver {
		t.Fatalf("Binding: got %v", err)
	}
}

func TestWaitReady_GivesUpOnUnboundTrigger(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b := bus.NewBus(4)
	go dispatch.Start(ctx, b.NewConnection("dispatch"))
	cfg := b.NewConnection("config")
	cfg.Publish(cfg.NewMessage(bus.T("config", "dispatch"), types.DispatchConfig{}, true))

	start := time.Now()
	if err := WaitReady(ctx, b.NewConnection("app")); err != errcode.UnknownDriver {
		t.Fatalf("got %v, want unknown_driver", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("unknown driver was retried until the deadline")
	}
}

func TestGo_SendsLittleEndianDescriptor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b := bus.NewBus(4)
	drv := b.NewConnection("driver")
	calls := drv.Subscribe(bus.T("syscall", uint32(DriverNumSTFU), "+"))

	var allowed []byte
	go func() {
		for m := range calls.Channel() {
			if a, ok := m.Payload.(types.Allow); ok {
				allowed = a.Buf
			}
			_ = drv.Reply(m, types.OKReply{OK: true}, false)
		}
	}()

	if err := Go(ctx, b.NewConnection("app"), 0x00010000, 0x00060000, 0x00004000, 0xDEADBEEF); err != nil {
		t.Fatalf("Go: %v", err)
	}
	want := []byte{
		0x00, 0x00, 0x01, 0x00,
		0x00, 0x00, 0x06, 0x00,
		0x00, 0x40, 0x00, 0x00,
		0xEF, 0xBE, 0xAD, 0xDE,
	}
	if diff := cmp.Diff(want, allowed); diff != "" {
		t.Fatalf("descriptor (-want +got):\n%s", diff)
	}
}
