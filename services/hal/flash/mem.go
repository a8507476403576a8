package flash

import (
	"sync"

	"signpost-go/errcode"
)

// MemDevice is a RAM-backed PageDevice. Erased bytes read as 0xFF.
type MemDevice struct {
	mu    sync.Mutex
	pages []Page
	fail  map[Op]error
}

func NewMemDevice(numPages int) *MemDevice {
	m := &MemDevice{pages: make([]Page, numPages), fail: map[Op]error{}}
	for i := range m.pages {
		m.erase(i)
	}
	return m
}

func (m *MemDevice) NumPages() int { return len(m.pages) }

// FailNext makes the next operation of the given kind return err.
func (m *MemDevice) FailNext(op Op, err error) {
	m.mu.Lock()
	m.fail[op] = err
	m.mu.Unlock()
}

func (m *MemDevice) takeFail(op Op) error {
	err := m.fail[op]
	delete(m.fail, op)
	return err
}

func (m *MemDevice) ReadPage(n int, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(n, p); err != nil {
		return err
	}
	if err := m.takeFail(OpRead); err != nil {
		return err
	}
	copy(p, m.pages[n][:])
	return nil
}

func (m *MemDevice) WritePage(n int, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(n, p); err != nil {
		return err
	}
	if err := m.takeFail(OpWrite); err != nil {
		return err
	}
	copy(m.pages[n][:], p)
	return nil
}

func (m *MemDevice) ErasePage(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkPage(n, len(m.pages)); err != nil {
		return err
	}
	if err := m.takeFail(OpErase); err != nil {
		return err
	}
	m.erase(n)
	return nil
}

func (m *MemDevice) erase(n int) {
	for i := range m.pages[n] {
		m.pages[n][i] = 0xFF
	}
}

func (m *MemDevice) check(n int, p []byte) error {
	if err := checkPage(n, len(m.pages)); err != nil {
		return err
	}
	if len(p) != PageSize {
		return errcode.InvalidSize
	}
	return nil
}

// Snapshot returns a copy of page n.
func (m *MemDevice) Snapshot(n int) Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages[n]
}

// Load overwrites page n without going through the controller.
func (m *MemDevice) Load(n int, p Page) {
	m.mu.Lock()
	m.pages[n] = p
	m.mu.Unlock()
}
