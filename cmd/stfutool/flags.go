package main

import (
	"context"
	"flag"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/golang/glog"

	"signpost-go/services/hal/devices/stfu"
	"signpost-go/services/hal/flash"
)

func flagsCmd(args []string) {
	fs := flag.NewFlagSet("flags", flag.ExitOnError)
	fs.Parse(args)

	dev, closeDev := mustOpen()
	defer closeDev()

	var p flash.Page
	if err := dev.ReadPage(stfu.FlagsPage, p[:]); err != nil {
		glog.Exitf("read flags page: %v", err)
	}
	r, enabled := stfu.ReadFlags(&p)
	fmt.Printf("enabled\t%t\nsource\t%#08x\ndest\t%#08x\nlength\t%d\ncrc\t%#08x\n",
		enabled, r.Source, r.Destination, r.Length, r.CRC)
}

func triggerCmd(args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	var (
		src, dst, length, crc uint
		image                 string
		timeout               time.Duration
	)
	fs.UintVar(&src, "src", 0x60000, "address of the staged image")
	fs.UintVar(&dst, "dst", 0x10000, "address to copy the image to")
	fs.UintVar(&length, "len", 0, "image length in bytes")
	fs.UintVar(&crc, "crc", 0, "CRC-32 (IEEE) of the image")
	fs.StringVar(&image, "image", "", "take -len and -crc from this file")
	fs.DurationVar(&timeout, "timeout", 5*time.Second, "give up after")
	fs.Parse(args)

	if image != "" {
		data, err := os.ReadFile(image)
		if err != nil {
			glog.Exitf("read image: %v", err)
		}
		length, crc = uint(len(data)), uint(crc32.ChecksumIEEE(data))
	}
	req := stfu.UpdateRequest{
		Source:      uint32(src),
		Destination: uint32(dst),
		Length:      uint32(length),
		CRC:         uint32(crc),
	}

	dev, closeDev := mustOpen()
	defer closeDev()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := runTrigger(ctx, dev, req); err != nil {
		glog.Exitf("trigger: %v", err)
	}
	glog.Infof("boot flags staged: %+v", req)
}

type completion struct {
	op  flash.Op
	p   *flash.Page
	err error
}

// completions hands flash completions back to the goroutine driving the
// updater.
type completions chan completion

func (c completions) ReadComplete(p *flash.Page, err error)  { c <- completion{flash.OpRead, p, err} }
func (c completions) WriteComplete(p *flash.Page, err error) { c <- completion{flash.OpWrite, p, err} }
func (c completions) EraseComplete(err error)                { c <- completion{flash.OpErase, nil, err} }

type outcome struct {
	staged bool
	err    error
}

func (o *outcome) Staged(stfu.UpdateRequest)     { o.staged = true }
func (o *outcome) Failed(op flash.Op, err error) { o.err = fmt.Errorf("%s page: %w", op, err) }

// runTrigger drives the same read-patch-write transaction the device runs.
func runTrigger(ctx context.Context, dev flash.PageDevice, req stfu.UpdateRequest) error {
	ctrl := flash.NewController(dev)
	ctrl.Start(ctx)
	comp := make(completions, 1)
	ctrl.SetClient(comp)

	var res outcome
	u := stfu.NewUpdater(ctrl, new(flash.Page), &res)
	cfg := stfu.EncodeRequest(req)
	if err := u.Allow(cfg[:]); err != nil {
		return err
	}
	if err := u.Command(stfu.CmdTrigger); err != nil {
		return err
	}
	for !res.staged && res.err == nil {
		select {
		case c := <-comp:
			glog.V(1).Infof("%s completion, err=%v", c.op, c.err)
			switch c.op {
			case flash.OpRead:
				u.ReadComplete(c.p, c.err)
			case flash.OpWrite:
				u.WriteComplete(c.p, c.err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return res.err
}

func mustOpen() (flash.PageDevice, func()) {
	dev, closer, err := openDevice(*devSpec, *devPages)
	if err != nil {
		glog.Exitf("open %s: %v", *devSpec, err)
	}
	return dev, func() {
		if err := closer(); err != nil {
			glog.Warningf("close %s: %v", *devSpec, err)
		}
	}
}
