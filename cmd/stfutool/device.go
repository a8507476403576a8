package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"signpost-go/drivers/fm25cl"
	"signpost-go/services/hal/flash"
)

// openDevice resolves spec to a page backend. The returned func releases it.
func openDevice(spec string, pages int) (flash.PageDevice, func() error, error) {
	switch {
	case spec == "ftdi":
		return openFRAM(pages)
	case strings.HasPrefix(spec, "file:"):
		img, err := openImage(strings.TrimPrefix(spec, "file:"), pages)
		if err != nil {
			return nil, nil, err
		}
		return img, img.f.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", spec)
	}
}

// imageFile is a raw page image on disk.
type imageFile struct {
	f     *os.File
	pages int
}

func openImage(path string, pages int) (*imageFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	have := int(st.Size() / flash.PageSize)
	if pages == 0 {
		pages = have
	}
	if pages == 0 {
		f.Close()
		return nil, errors.New("empty image, pass -pages")
	}
	img := &imageFile{f: f, pages: pages}
	for n := have; n < pages; n++ {
		if err := img.ErasePage(n); err != nil {
			f.Close()
			return nil, fmt.Errorf("grow image: %w", err)
		}
	}
	return img, nil
}

func (m *imageFile) NumPages() int { return m.pages }

func (m *imageFile) ReadPage(n int, p []byte) error {
	if err := m.check(n, p); err != nil {
		return err
	}
	_, err := m.f.ReadAt(p, int64(n)*flash.PageSize)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (m *imageFile) WritePage(n int, p []byte) error {
	if err := m.check(n, p); err != nil {
		return err
	}
	_, err := m.f.WriteAt(p, int64(n)*flash.PageSize)
	return err
}

func (m *imageFile) ErasePage(n int) error {
	var blank flash.Page
	for i := range blank {
		blank[i] = 0xFF
	}
	_, err := m.f.WriteAt(blank[:], int64(n)*flash.PageSize)
	return err
}

func (m *imageFile) check(n int, p []byte) error {
	if n < 0 || n >= m.pages {
		return fmt.Errorf("page %d out of range [0,%d)", n, m.pages)
	}
	if len(p) != flash.PageSize {
		return fmt.Errorf("buffer is %d bytes, want %d", len(p), flash.PageSize)
	}
	return nil
}

// spiConn adds the single byte exchange the FRAM driver expects.
type spiConn struct{ spi.Conn }

func (c spiConn) Transfer(b byte) (byte, error) {
	r := []byte{0}
	err := c.Tx([]byte{b}, r)
	return r[0], err
}

func openFRAM(pages int) (flash.PageDevice, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("host initialization failed: %w", err)
	}
	ft, err := openFT232H()
	if err != nil {
		return nil, nil, err
	}
	port, err := ft.SPI()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get SPI port: %w", err)
	}
	// FM25CL supports mode 0 and mode 3; MPSSE only does mode 0 and 2.
	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	cs := ft.D4
	dev := fm25cl.New(spiConn{conn}, func(level bool) { cs.Out(gpio.Level(level)) })
	if pages == 0 {
		pages = fm25cl.DefaultCapacity / fm25cl.PageSize
	}
	if err := dev.Configure(fm25cl.Config{Capacity: pages * fm25cl.PageSize, VerifyWEL: true}); err != nil {
		return nil, nil, err
	}
	if err := dev.ClearProtection(); err != nil {
		return nil, nil, fmt.Errorf("clear block protect: %w", err)
	}
	return dev, port.Close, nil
}

func openFT232H() (*ftdi.FT232H, error) {
	const vendorID = 0x0403 // FTDI

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			return ft, nil
		}
	}
	return nil, errors.New("FT232H not found")
}
