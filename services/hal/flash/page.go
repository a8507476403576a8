// Package flash is the non-volatile page layer shared by HAL devices.
//
// A Flash moves a *Page to the backend for the duration of an operation and
// hands it back through the Client when the operation completes. Whoever does
// not hold the pointer must not touch the page.
package flash

import "signpost-go/errcode"

// PageSize is the size of one page in bytes.
const PageSize = 512

// Page is one page worth of data.
type Page [PageSize]byte

// Op identifies a page operation.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Client receives completions. The page passed back is the one handed to the
// matching ReadPage/WritePage call.
type Client interface {
	ReadComplete(p *Page, err error)
	WriteComplete(p *Page, err error)
	EraseComplete(err error)
}

// Flash is an asynchronous page store. A nil error means the operation was
// issued and exactly one completion will follow; a non-nil error means the
// page (if any) was not taken.
type Flash interface {
	NumPages() int
	ReadPage(n int, p *Page) error
	WritePage(n int, p *Page) error
	ErasePage(n int) error
	SetClient(c Client)
}

// PageDevice is a synchronous page backend (RAM, FRAM, image file).
type PageDevice interface {
	NumPages() int
	ReadPage(n int, p []byte) error
	WritePage(n int, p []byte) error
	ErasePage(n int) error
}

func checkPage(n, numPages int) error {
	if n < 0 || n >= numPages {
		return errcode.InvalidParams
	}
	return nil
}
