package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"signpost-go/bus"
	"signpost-go/errcode"
	"signpost-go/types"
)

var table = types.DispatchConfig{Drivers: []types.DriverBinding{
	{Num: 0x11002, Domain: "system", Kind: types.KindFirmwareUpdate, Name: "stfu"},
	{Num: 0x51000, Domain: "storage", Kind: types.KindNonvolatile, Name: "holding"},
}}

// fakeCapability answers every control on one capability with the verb and
// payload it received.
func fakeCapability(ctx context.Context, b *bus.Bus, addr ...bus.Token) {
	conn := b.NewConnection("fake-hal")
	sub := conn.Subscribe(bus.T(append(append([]bus.Token{"hal", "cap"}, addr...), "control", "+")...))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-sub.Channel():
				conn.Reply(m, types.ValueReply{OK: true, Value: []any{m.Topic.At(6), m.Payload}}, false)
			}
		}
	}()
}

func setup(t *testing.T, timeout time.Duration, publishTable bool) (*bus.Bus, *bus.Connection, context.Context) {
	t.Helper()
	b := bus.NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go New(b.NewConnection("dispatch"), timeout).Run(ctx)

	app := b.NewConnection("app")
	if !publishTable {
		return b, app, ctx
	}
	// Wait until a binding is visible so calls do not race the config.
	sub := app.Subscribe(BindingTopic(0x11002))
	defer app.Unsubscribe(sub)
	app.Publish(app.NewMessage(bus.T("config", "dispatch"), table, true))
	select {
	case <-sub.Channel():
	case <-time.After(time.Second):
		t.Fatal("binding never published")
	}
	return b, app, ctx
}

func call(t *testing.T, c *bus.Connection, num uint32, verb string, payload any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := c.RequestWait(ctx, c.NewMessage(Topic(num, verb), payload, false))
	if err != nil {
		t.Fatalf("call %#x/%s: %v", num, verb, err)
	}
	return m.Payload
}

func TestDispatch_ForwardsToBoundCapability(t *testing.T) {
	b, app, ctx := setup(t, time.Second, true)
	fakeCapability(ctx, b, "system", "firmware_update", "stfu")

	got := call(t, app, 0x11002, "command", types.Command{Num: 1})
	want := types.ValueReply{OK: true, Value: []any{"command", types.Command{Num: 1}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reply (-want +got):\n%s", diff)
	}
}

func TestDispatch_UnknownDriver(t *testing.T) {
	_, app, _ := setup(t, time.Second, true)
	got := call(t, app, 0x99999, "command", types.Command{})
	if got != (types.ErrorReply{Error: string(errcode.UnknownDriver)}) {
		t.Fatalf("reply = %#v", got)
	}
}

func TestDispatch_NotReadyBeforeTable(t *testing.T) {
	_, app, _ := setup(t, time.Second, false)
	// Retry until the dispatcher is subscribed.
	deadline := time.Now().Add(time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		m, err := app.RequestWait(ctx, app.NewMessage(Topic(1, "command"), nil, false))
		cancel()
		if err == nil {
			if m.Payload != (types.ErrorReply{Error: string(errcode.Unavailable)}) {
				t.Fatalf("reply = %#v", m.Payload)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dispatcher never answered")
		}
	}
}

func TestDispatch_TimeoutWhenCapabilitySilent(t *testing.T) {
	_, app, _ := setup(t, 50*time.Millisecond, true)
	got := call(t, app, 0x51000, "command", types.Command{})
	if got != (types.ErrorReply{Error: string(errcode.Timeout)}) {
		t.Fatalf("reply = %#v", got)
	}
}

func TestDispatch_TableReplacementClearsBindings(t *testing.T) {
	b, app, _ := setup(t, time.Second, true)

	app.Publish(app.NewMessage(bus.T("config", "dispatch"), types.DispatchConfig{
		Drivers: table.Drivers[:1],
	}, true))

	// The removed binding disappears from the retained store.
	deadline := time.Now().Add(time.Second)
	for {
		sub := b.NewConnection("watch").Subscribe(BindingTopic(0x51000))
		select {
		case <-sub.Channel():
		case <-time.After(20 * time.Millisecond):
			return // nothing retained any more
		}
		sub.Unsubscribe()
		if time.Now().After(deadline) {
			t.Fatal("binding for 0x51000 still retained")
		}
	}
}
