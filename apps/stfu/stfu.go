// Package stfu is the application side of the firmware update trigger: stage
// an image in the holding area, then ask the system to copy it at boot.
package stfu

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"signpost-go/bus"
	"signpost-go/errcode"
	"signpost-go/services/dispatch"
	trigger "signpost-go/services/hal/devices/stfu"
	"signpost-go/types"
)

// Driver numbers.
const (
	DriverNumSTFU    = 0x11002
	DriverNumHolding = 0x51000
)

const (
	cmdProbe   = trigger.CmdProbe
	cmdTrigger = trigger.CmdTrigger
	cmdWrite   = 3
	allowWrite = 1
)

// Go shares the update descriptor with the trigger and fires it. A nil
// return means the boot flags update has started; the staged event on the
// capability reports when it is done.
func Go(ctx context.Context, conn *bus.Connection, source, destination, length, crc uint32) error {
	b := trigger.EncodeRequest(trigger.UpdateRequest{
		Source:      source,
		Destination: destination,
		Length:      length,
		CRC:         crc,
	})
	if err := call(ctx, conn, DriverNumSTFU, "allow", types.Allow{Buf: b[:]}); err != nil {
		return err
	}
	return call(ctx, conn, DriverNumSTFU, "command", types.Command{Num: cmdTrigger})
}

// WriteBuffer writes buf at offset into the holding area and waits for the
// write to complete.
func WriteBuffer(ctx context.Context, conn *bus.Connection, buf []byte, offset uint32) error {
	b, err := Binding(ctx, conn, DriverNumHolding)
	if err != nil {
		return err
	}
	done := conn.Subscribe(bus.T("hal", "cap", b.Domain, string(b.Kind), b.Name, "event", "write_done"))
	defer conn.Unsubscribe(done)

	if err := call(ctx, conn, DriverNumHolding, "allow", types.Allow{Num: allowWrite, Buf: buf}); err != nil {
		return err
	}
	cmd := types.Command{Num: uint32(len(buf))<<8 | cmdWrite, Arg1: offset}
	if err := call(ctx, conn, DriverNumHolding, "command", cmd); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-done.Channel():
			ev, ok := m.Payload.(types.StorageDone)
			if !ok || ev.Offset != offset {
				continue
			}
			if ev.Error != "" {
				return errcode.Code(ev.Error)
			}
			return nil
		}
	}
}

// WaitReady probes the trigger until it answers, backing off between
// attempts. Unknown or unbound driver numbers are not retried.
func WaitReady(ctx context.Context, conn *bus.Connection) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0 // bounded by ctx

	op := func() error {
		pctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		err := call(pctx, conn, DriverNumSTFU, "command", types.Command{Num: cmdProbe})
		if err == errcode.UnknownDriver {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// Binding looks up the capability behind a driver number.
func Binding(ctx context.Context, conn *bus.Connection, num uint32) (types.DriverBinding, error) {
	sub := conn.Subscribe(dispatch.BindingTopic(num))
	defer conn.Unsubscribe(sub)
	select {
	case <-ctx.Done():
		return types.DriverBinding{}, errcode.UnknownDriver
	case m := <-sub.Channel():
		b, ok := m.Payload.(types.DriverBinding)
		if !ok {
			return types.DriverBinding{}, errcode.InvalidPayload
		}
		return b, nil
	}
}

func call(ctx context.Context, conn *bus.Connection, num uint32, verb string, payload any) error {
	m, err := conn.RequestWait(ctx, conn.NewMessage(dispatch.Topic(num, verb), payload, false))
	if err != nil {
		return err
	}
	switch r := m.Payload.(type) {
	case types.OKReply, types.ValueReply:
		return nil
	case types.ErrorReply:
		return errcode.Code(r.Error)
	default:
		return errcode.InvalidPayload
	}
}
