// Package stfu is the firmware update trigger. It accepts a 16-byte update
// descriptor and, on command, patches the boot flags held in flash page 2 so
// the bootloader copies the staged image on the next reset.
package stfu

import (
	"encoding/binary"

	"signpost-go/errcode"
	"signpost-go/services/hal/flash"
)

const (
	// ConfigLen is the size of the descriptor shared through allow.
	ConfigLen = 16

	// FlagsPage is the flash page holding the boot flags.
	FlagsPage = 2

	// Byte offsets of the boot flags within FlagsPage.
	offEnable = 492
	offSource = 496
	offDest   = 500
	offLength = 504
	offCRC    = 508
)

// Command numbers.
const (
	CmdProbe   = 0
	CmdTrigger = 1
)

// UpdateRequest describes an image to copy at boot.
type UpdateRequest struct {
	Source      uint32
	Destination uint32
	Length      uint32
	CRC         uint32
}

// DecodeRequest parses a descriptor: source, destination, length, crc, all
// little-endian.
func DecodeRequest(b []byte) (UpdateRequest, error) {
	if len(b) != ConfigLen {
		return UpdateRequest{}, errcode.InvalidSize
	}
	return UpdateRequest{
		Source:      binary.LittleEndian.Uint32(b[0:]),
		Destination: binary.LittleEndian.Uint32(b[4:]),
		Length:      binary.LittleEndian.Uint32(b[8:]),
		CRC:         binary.LittleEndian.Uint32(b[12:]),
	}, nil
}

// EncodeRequest is the inverse of DecodeRequest.
func EncodeRequest(r UpdateRequest) [ConfigLen]byte {
	var b [ConfigLen]byte
	binary.LittleEndian.PutUint32(b[0:], r.Source)
	binary.LittleEndian.PutUint32(b[4:], r.Destination)
	binary.LittleEndian.PutUint32(b[8:], r.Length)
	binary.LittleEndian.PutUint32(b[12:], r.CRC)
	return b
}

// PatchPage writes the boot flags for r into bytes 492..511 of p.
// Bytes before offEnable are left as they are.
func PatchPage(p *flash.Page, r UpdateRequest) {
	p[offEnable] = 1
	p[offEnable+1] = 0
	p[offEnable+2] = 0
	p[offEnable+3] = 0
	binary.LittleEndian.PutUint32(p[offSource:], r.Source)
	binary.LittleEndian.PutUint32(p[offDest:], r.Destination)
	binary.LittleEndian.PutUint32(p[offLength:], r.Length)
	binary.LittleEndian.PutUint32(p[offCRC:], r.CRC)
}

// ReadFlags decodes the boot flags of a flags page. enabled reports
// whether the enable byte is set.
func ReadFlags(p *flash.Page) (r UpdateRequest, enabled bool) {
	r = UpdateRequest{
		Source:      binary.LittleEndian.Uint32(p[offSource:]),
		Destination: binary.LittleEndian.Uint32(p[offDest:]),
		Length:      binary.LittleEndian.Uint32(p[offLength:]),
		CRC:         binary.LittleEndian.Uint32(p[offCRC:]),
	}
	return r, p[offEnable] == 1
}

type State uint8

const (
	Idle State = iota
	AwaitingRead
	AwaitingWrite
	Staged // flags written; waiting for an external reset
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRead:
		return "awaiting_read"
	case AwaitingWrite:
		return "awaiting_write"
	case Staged:
		return "staged"
	default:
		return "unknown"
	}
}

// Listener is told about transitions that happen in flash completions.
type Listener interface {
	Staged(r UpdateRequest)
	Failed(op flash.Op, err error)
}

// Updater runs the read-patch-write transaction. It is not safe for
// concurrent use; the owner serialises calls, completions included.
//
// The page buffer is owned by exactly one party at a time: the updater
// while page is non-nil, the flash layer otherwise.
type Updater struct {
	f    flash.Flash
	page *flash.Page
	l    Listener

	cfg     [ConfigLen]byte
	haveCfg bool

	req   UpdateRequest
	state State
}

// NewUpdater takes ownership of page. The caller routes f's completions to
// the updater (directly or through its own goroutine).
func NewUpdater(f flash.Flash, page *flash.Page, l Listener) *Updater {
	return &Updater{f: f, page: page, l: l}
}

func (u *Updater) State() State           { return u.state }
func (u *Updater) Request() UpdateRequest { return u.req }
func (u *Updater) HoldsPage() bool        { return u.page != nil }
func (u *Updater) Configured() bool       { return u.haveCfg }

// Allow stores a copy of the descriptor for the next trigger. A buffer of
// the wrong size is rejected and the previous descriptor is kept.
func (u *Updater) Allow(buf []byte) error {
	if len(buf) != ConfigLen {
		return errcode.InvalidSize
	}
	copy(u.cfg[:], buf)
	u.haveCfg = true
	return nil
}

// Command runs a numbered command. For CmdTrigger a nil return means the
// flags page read has been issued.
func (u *Updater) Command(num uint32) error {
	switch num {
	case CmdProbe:
		return nil
	case CmdTrigger:
		return u.trigger()
	default:
		return errcode.Unsupported
	}
}

func (u *Updater) trigger() error {
	if !u.haveCfg {
		return errcode.NoConfiguration
	}
	if u.state != Idle || u.page == nil {
		return errcode.ReservationConflict
	}
	r, err := DecodeRequest(u.cfg[:])
	if err != nil {
		return err
	}
	u.req = r

	p := u.page
	u.page = nil
	u.state = AwaitingRead
	if err := u.f.ReadPage(FlagsPage, p); err != nil {
		u.page = p
		u.state = Idle
		return err
	}
	return nil
}

// ReadComplete patches the returned page and writes it back.
func (u *Updater) ReadComplete(p *flash.Page, err error) {
	u.page = p
	if u.state != AwaitingRead {
		println("[stfu] unexpected read completion in state", u.state.String())
		return
	}
	if err != nil {
		u.state = Idle
		println("[stfu] flags read failed:", err.Error())
		u.failed(flash.OpRead, err)
		return
	}
	PatchPage(p, u.req)
	u.page = nil
	u.state = AwaitingWrite
	if werr := u.f.WritePage(FlagsPage, p); werr != nil {
		u.page = p
		u.state = Idle
		println("[stfu] flags write refused:", werr.Error())
		u.failed(flash.OpWrite, werr)
	}
}

// WriteComplete ends the transaction. On success the updater stays Staged
// and refuses further triggers; the reset that applies the update comes
// from elsewhere.
func (u *Updater) WriteComplete(p *flash.Page, err error) {
	u.page = p
	if u.state != AwaitingWrite {
		println("[stfu] unexpected write completion in state", u.state.String())
		return
	}
	if err != nil {
		u.state = Idle
		println("[stfu] flags write failed:", err.Error())
		u.failed(flash.OpWrite, err)
		return
	}
	u.state = Staged
	if u.l != nil {
		u.l.Staged(u.req)
	}
}

func (u *Updater) EraseComplete(error) {}

func (u *Updater) failed(op flash.Op, err error) {
	if u.l != nil {
		u.l.Failed(op, err)
	}
}
