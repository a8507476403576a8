package flash

import (
	"sync"

	"signpost-go/errcode"
)

// StorageClient receives ToPages completions. buf is the caller's buffer.
type StorageClient interface {
	ReadDone(buf []byte, length int, err error)
	WriteDone(buf []byte, length int, err error)
}

type stage uint8

const (
	stageIdle stage = iota
	// plain read of a page
	stageRead
	// read of a page that is about to be partially rewritten
	stageFetch
	stageWrite
)

// ToPages is a byte-addressed store over a window of pages. Partial page
// writes are done as read-modify-write through a single page buffer.
type ToPages struct {
	f      Flash
	start  int
	npages int

	mu     sync.Mutex
	page   *Page // nil while the flash holds it
	client StorageClient

	stage  stage
	write  bool
	buf    []byte
	off    int
	length int
	done   int
	chunk  int // bytes covered by the operation in flight
}

// NewToPages claims f's client slot.
func NewToPages(f Flash, startPage, numPages int, page *Page) *ToPages {
	t := &ToPages{f: f, start: startPage, npages: numPages, page: page}
	f.SetClient(t)
	return t
}

func (t *ToPages) Size() int { return t.npages * PageSize }

func (t *ToPages) SetClient(c StorageClient) {
	t.mu.Lock()
	t.client = c
	t.mu.Unlock()
}

func (t *ToPages) Read(buf []byte, offset, length int) error {
	return t.begin(false, buf, offset, length)
}

func (t *ToPages) Write(buf []byte, offset, length int) error {
	return t.begin(true, buf, offset, length)
}

func (t *ToPages) begin(write bool, buf []byte, offset, length int) error {
	if length < 0 || length > len(buf) {
		return errcode.InvalidSize
	}
	if offset < 0 || offset+length > t.Size() {
		return errcode.InvalidParams
	}
	t.mu.Lock()
	if t.stage != stageIdle || t.page == nil {
		t.mu.Unlock()
		return errcode.Busy
	}
	t.write, t.buf, t.off, t.length, t.done = write, buf, offset, length, 0
	if length == 0 {
		t.mu.Unlock()
		t.notify(write, buf, 0, nil)
		return nil
	}
	err := t.step()
	if err != nil {
		t.stage = stageIdle
	}
	t.mu.Unlock()
	return err
}

// step issues the next page operation. Called with mu held and the page here.
func (t *ToPages) step() error {
	pos := t.off + t.done
	idx := pos / PageSize
	in := pos % PageSize
	t.chunk = min(PageSize-in, t.length-t.done)

	p := t.page
	if t.write && t.chunk == PageSize {
		copy(p[:], t.buf[t.done:t.done+t.chunk])
		t.stage = stageWrite
		t.page = nil
		if err := t.f.WritePage(t.start+idx, p); err != nil {
			t.page = p
			return err
		}
		return nil
	}
	t.stage = stageRead
	if t.write {
		t.stage = stageFetch
	}
	t.page = nil
	if err := t.f.ReadPage(t.start+idx, p); err != nil {
		t.page = p
		return err
	}
	return nil
}

// advance moves past the finished chunk and either issues the next operation
// or ends the transfer. Called with mu held.
func (t *ToPages) advance() (finished bool, err error) {
	t.done += t.chunk
	if t.done >= t.length {
		t.stage = stageIdle
		return true, nil
	}
	if err := t.step(); err != nil {
		t.stage = stageIdle
		return true, err
	}
	return false, nil
}

func (t *ToPages) ReadComplete(p *Page, err error) {
	t.mu.Lock()
	t.page = p
	write, buf, done := t.write, t.buf, t.done
	if err != nil {
		t.stage = stageIdle
		t.mu.Unlock()
		t.notify(write, buf, done, err)
		return
	}
	in := (t.off + t.done) % PageSize
	switch t.stage {
	case stageRead:
		copy(t.buf[t.done:t.done+t.chunk], p[in:in+t.chunk])
		finished, ferr := t.advance()
		done = t.done
		t.mu.Unlock()
		if finished {
			t.notify(false, buf, done, ferr)
		}
	case stageFetch:
		copy(p[in:in+t.chunk], t.buf[t.done:t.done+t.chunk])
		idx := (t.off + t.done) / PageSize
		t.stage = stageWrite
		t.page = nil
		if werr := t.f.WritePage(t.start+idx, p); werr != nil {
			t.page = p
			t.stage = stageIdle
			t.mu.Unlock()
			t.notify(true, buf, done, werr)
			return
		}
		t.mu.Unlock()
	default:
		t.mu.Unlock()
		println("[flash] unexpected read completion")
	}
}

func (t *ToPages) WriteComplete(p *Page, err error) {
	t.mu.Lock()
	t.page = p
	if t.stage != stageWrite {
		t.mu.Unlock()
		println("[flash] unexpected write completion")
		return
	}
	buf := t.buf
	if err != nil {
		t.stage = stageIdle
		done := t.done
		t.mu.Unlock()
		t.notify(true, buf, done, err)
		return
	}
	finished, ferr := t.advance()
	done := t.done
	t.mu.Unlock()
	if finished {
		t.notify(true, buf, done, ferr)
	}
}

func (t *ToPages) EraseComplete(error) {}

func (t *ToPages) notify(write bool, buf []byte, n int, err error) {
	t.mu.Lock()
	cl := t.client
	t.mu.Unlock()
	if cl == nil {
		return
	}
	if write {
		cl.WriteDone(buf, n, err)
	} else {
		cl.ReadDone(buf, n, err)
	}
}
