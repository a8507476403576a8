package main

import (
	"context"
	"runtime"
	"time"

	"signpost-go/apps/stfu"
	"signpost-go/bus"
	"signpost-go/services/config"
	"signpost-go/services/dispatch"
	"signpost-go/services/hal"
	"signpost-go/x/conv"
)

// printTopicWith prints a topic without fmt. Driver numbers print in hex.
func printTopicWith(prefix string, t bus.Topic) {
	var hex [10]byte
	print(prefix)
	print(" ")
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			print("/")
		}
		switch v := t.At(i).(type) {
		case string:
			print(v)
		case int:
			print(v)
		case uint32:
			print(string(conv.Hex32(hex[:], v)))
		default:
			print("?")
		}
	}
	println()
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	ctx := context.Background()

	println("[main] bootstrapping bus …")
	b := bus.NewBus(4)
	uiConn := b.NewConnection("ui")

	println("[main] subscribing to hal/# and driver bindings for diagnostics …")
	for _, t := range []bus.Topic{bus.T("hal", "#"), bus.T("syscall", "+", "binding")} {
		mon := uiConn.Subscribe(t)
		go func() {
			for m := range mon.Channel() {
				printTopicWith("[monitor] <-", m.Topic)
			}
		}()
	}

	println("[main] starting hal.Run on board", hal.BoardName(), "…")
	go hal.Run(ctx, b.NewConnection("hal"))
	go dispatch.Start(ctx, b.NewConnection("dispatch"))

	config.Register(hal.BoardName(), hal.BoardConfigs())
	cctx := context.WithValue(ctx, config.CtxDeviceKey, hal.BoardName())
	config.NewConfigService().Start(cctx, b.NewConnection("config"))

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := stfu.WaitReady(wctx, uiConn); err != nil {
		println("[main] firmware update trigger unreachable:", err.Error())
	} else {
		println("[main] firmware update trigger ready")
	}
	cancel()

	for {
		printMem()
		time.Sleep(10 * time.Second)
	}
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
