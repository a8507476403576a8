package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/marcinbor85/gohex"

	"signpost-go/services/hal/flash"
)

func stageCmd(args []string) {
	fs := flag.NewFlagSet("stage", flag.ExitOnError)
	var (
		offset  uint
		timeout time.Duration
	)
	fs.UintVar(&offset, "offset", 0x60000, "byte offset of the image in the device")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "give up after")
	fs.Usage = func() {
		os.Stderr.WriteString("Usage:\n  stfutool stage [OPTIONS] IMAGE\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	data, base, err := loadImage(fs.Arg(0))
	if err != nil {
		glog.Exitf("load %s: %v", fs.Arg(0), err)
	}
	if base != nil {
		offset = uint(*base)
	}

	dev, closeDev := mustOpen()
	defer closeDev()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := writeBytes(ctx, dev, int(offset), data); err != nil {
		glog.Exitf("stage: %v", err)
	}
	glog.Infof("staged %d bytes at %#x", len(data), offset)
}

// loadImage reads a binary or, for .hex files, an Intel HEX image. For HEX
// the lowest segment address is returned as base and gaps are filled with 0xFF.
func loadImage(path string) (data []byte, base *uint32, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".hex") {
		return raw, nil, nil
	}
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
		return nil, nil, fmt.Errorf("parse intel hex: %w", err)
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, nil, fmt.Errorf("no data in %s", path)
	}
	lo, hi := segs[0].Address, segs[0].Address
	for _, s := range segs {
		lo = min(lo, s.Address)
		hi = max(hi, s.Address+uint32(len(s.Data)))
	}
	return mem.ToBinary(lo, hi-lo, 0xFF), &lo, nil
}

type storageDone struct {
	n   int
	err error
}

type storageClient chan storageDone

func (c storageClient) ReadDone(_ []byte, n int, err error)  { c <- storageDone{n, err} }
func (c storageClient) WriteDone(_ []byte, n int, err error) { c <- storageDone{n, err} }

// writeBytes writes data at a byte offset, rewriting partial pages in place.
func writeBytes(ctx context.Context, dev flash.PageDevice, offset int, data []byte) error {
	ctrl := flash.NewController(dev)
	ctrl.Start(ctx)
	s := flash.NewToPages(ctrl, 0, dev.NumPages(), new(flash.Page))
	done := make(storageClient, 1)
	s.SetClient(done)

	if err := s.Write(data, offset, len(data)); err != nil {
		return err
	}
	select {
	case d := <-done:
		if d.err == nil && d.n != len(data) {
			return fmt.Errorf("short write: %d of %d bytes", d.n, len(data))
		}
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dumpCmd(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	var (
		first, count int
		outFile      string
	)
	fs.IntVar(&first, "first", 0, "first page")
	fs.IntVar(&count, "n", 0, "number of pages (default: to the end)")
	fs.StringVar(&outFile, "o", "", "output file (default: stdout)")
	fs.Parse(args)

	dev, closeDev := mustOpen()
	defer closeDev()

	if count == 0 {
		count = dev.NumPages() - first
	}
	var w io.Writer = os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			glog.Exitf("create %s: %v", outFile, err)
		}
		defer f.Close()
		w = f
	}
	if err := dumpHex(w, dev, first, count); err != nil {
		glog.Exitf("dump: %v", err)
	}
}

// dumpHex writes pages [first, first+count) as Intel HEX addressed by their
// byte offset in the device. Fully erased pages are skipped.
func dumpHex(w io.Writer, dev flash.PageDevice, first, count int) error {
	mem := gohex.NewMemory()
	var p flash.Page
	for n := first; n < first+count; n++ {
		if err := dev.ReadPage(n, p[:]); err != nil {
			return fmt.Errorf("read page %d: %w", n, err)
		}
		if bytes.Count(p[:], []byte{0xFF}) == flash.PageSize {
			continue
		}
		if err := mem.AddBinary(uint32(n*flash.PageSize), bytes.Clone(p[:])); err != nil {
			return err
		}
	}
	return mem.DumpIntelHex(w, 16)
}
