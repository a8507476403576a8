// Package fm25cl provides a driver for FM25CL-family SPI FRAM, presented as
// fixed-size pages so it can back the HAL flash layer.
//
// FRAM has no erase cycle and no page program limit: every write goes
// straight to the array. Erase is emulated by writing 0xFF.
//
// Every operation is a single SPI transaction. When cs is nil the bus is
// expected to assert chip select for the duration of each Tx (periph spi.Conn
// does this); otherwise cs(false) selects the device and cs(true) releases it.
package fm25cl

import (
	"errors"

	"tinygo.org/x/drivers"
)

const (
	cmdWREN  = 0x06
	cmdWRDI  = 0x04
	cmdRDSR  = 0x05
	cmdWRSR  = 0x01
	cmdREAD  = 0x03
	cmdWRITE = 0x02

	statusWEL = 0x02
	statusBP  = 0x0C // block protect bits

	headerLen = 3 // opcode + 16-bit address
)

// PageSize matches the HAL flash page.
const PageSize = 512

// DefaultCapacity is the FM25CL64 array size in bytes.
const DefaultCapacity = 8 * 1024

var (
	ErrBadPage     = errors.New("fm25cl: page out of range")
	ErrBadLength   = errors.New("fm25cl: buffer must be one page")
	ErrBadCapacity = errors.New("fm25cl: capacity must be a page multiple up to 64 KiB")
	ErrProtected   = errors.New("fm25cl: write enable latch not set")
)

// Config controls the array geometry. All fields are optional.
type Config struct {
	// Capacity in bytes; defaults to DefaultCapacity.
	Capacity int
	// VerifyWEL reads the status register after WREN and fails the write if
	// the latch did not set (e.g. /WP asserted).
	VerifyWEL bool
}

// Device wraps an SPI connection to an FM25CL.
type Device struct {
	bus drivers.SPI
	cs  func(level bool)

	cfg   Config
	pages int
	buf   [headerLen + PageSize]byte
}

// New creates a Device; the SPI bus must already be configured (mode 0).
func New(bus drivers.SPI, cs func(level bool)) *Device {
	d := &Device{bus: bus, cs: cs}
	_ = d.Configure(Config{})
	if cs != nil {
		cs(true)
	}
	return d
}

func (d *Device) Configure(cfg Config) error {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Capacity%PageSize != 0 || cfg.Capacity > 1<<16 || cfg.Capacity < 0 {
		return ErrBadCapacity
	}
	d.cfg = cfg
	d.pages = cfg.Capacity / PageSize
	return nil
}

func (d *Device) NumPages() int { return d.pages }

func (d *Device) tx(w, r []byte) error {
	if d.cs != nil {
		d.cs(false)
		defer d.cs(true)
	}
	return d.bus.Tx(w, r)
}

// ReadStatus returns the status register.
func (d *Device) ReadStatus() (uint8, error) {
	var b [2]byte
	b[0] = cmdRDSR
	if err := d.tx(b[:], b[:]); err != nil {
		return 0, err
	}
	return b[1], nil
}

// ClearProtection clears the block-protect bits so the whole array is writable.
func (d *Device) ClearProtection() error {
	if err := d.writeEnable(); err != nil {
		return err
	}
	sr, err := d.ReadStatus()
	if err != nil {
		return err
	}
	return d.tx([]byte{cmdWRSR, sr &^ statusBP}, nil)
}

func (d *Device) writeEnable() error {
	if err := d.tx([]byte{cmdWREN}, nil); err != nil {
		return err
	}
	if !d.cfg.VerifyWEL {
		return nil
	}
	sr, err := d.ReadStatus()
	if err != nil {
		return err
	}
	if sr&statusWEL == 0 {
		return ErrProtected
	}
	return nil
}

func (d *Device) header(cmd byte, n int) {
	addr := n * PageSize
	d.buf[0] = cmd
	d.buf[1] = byte(addr >> 8)
	d.buf[2] = byte(addr)
}

func (d *Device) check(n int, p []byte) error {
	if n < 0 || n >= d.pages {
		return ErrBadPage
	}
	if p != nil && len(p) != PageSize {
		return ErrBadLength
	}
	return nil
}

// ReadPage reads page n into p.
func (d *Device) ReadPage(n int, p []byte) error {
	if err := d.check(n, p); err != nil {
		return err
	}
	d.header(cmdREAD, n)
	for i := headerLen; i < len(d.buf); i++ {
		d.buf[i] = 0
	}
	if err := d.tx(d.buf[:], d.buf[:]); err != nil {
		return err
	}
	copy(p, d.buf[headerLen:])
	return nil
}

// WritePage writes p to page n. The write latch resets itself at the end of
// the transaction.
func (d *Device) WritePage(n int, p []byte) error {
	if err := d.check(n, p); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	d.header(cmdWRITE, n)
	copy(d.buf[headerLen:], p)
	return d.tx(d.buf[:], nil)
}

// ErasePage fills page n with 0xFF.
func (d *Device) ErasePage(n int) error {
	if err := d.check(n, nil); err != nil {
		return err
	}
	var blank [PageSize]byte
	for i := range blank {
		blank[i] = 0xFF
	}
	return d.WritePage(n, blank[:])
}

// WriteDisable drops a write latch left set by an aborted sequence.
func (d *Device) WriteDisable() error { return d.tx([]byte{cmdWRDI}, nil) }
