package flash

import (
	"sync"

	"signpost-go/errcode"
)

// Mux shares one Flash between several Users. Each user may have a single
// operation outstanding; operations reach the underlying flash one at a time
// in the order they were submitted.
type Mux struct {
	f Flash

	mu     sync.Mutex
	queue  []*User
	active *User
}

func NewMux(f Flash) *Mux {
	m := &Mux{f: f}
	f.SetClient(m)
	return m
}

// User is a virtual flash handed to one HAL device.
type User struct {
	mux     *Mux
	client  Client
	pending *job
}

func (m *Mux) NewUser() *User { return &User{mux: m} }

func (u *User) NumPages() int { return u.mux.f.NumPages() }

func (u *User) SetClient(c Client) {
	u.mux.mu.Lock()
	u.client = c
	u.mux.mu.Unlock()
}

func (u *User) ReadPage(n int, p *Page) error {
	return u.mux.submit(u, job{op: OpRead, n: n, p: p})
}

func (u *User) WritePage(n int, p *Page) error {
	return u.mux.submit(u, job{op: OpWrite, n: n, p: p})
}

func (u *User) ErasePage(n int) error {
	return u.mux.submit(u, job{op: OpErase, n: n})
}

func (m *Mux) submit(u *User, j job) error {
	if j.op != OpErase && j.p == nil {
		return errcode.InvalidParams
	}
	if err := checkPage(j.n, m.f.NumPages()); err != nil {
		return err
	}
	m.mu.Lock()
	if u.pending != nil || m.active == u {
		m.mu.Unlock()
		return errcode.Busy
	}
	u.pending = &j
	m.queue = append(m.queue, u)
	idle := m.active == nil
	m.mu.Unlock()

	if idle {
		m.next()
	}
	return nil
}

// next starts queued operations until one is accepted by the flash.
func (m *Mux) next() {
	for {
		m.mu.Lock()
		if m.active != nil || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		u := m.queue[0]
		m.queue = m.queue[1:]
		j := *u.pending
		u.pending = nil
		m.active = u
		m.mu.Unlock()

		var err error
		switch j.op {
		case OpRead:
			err = m.f.ReadPage(j.n, j.p)
		case OpWrite:
			err = m.f.WritePage(j.n, j.p)
		case OpErase:
			err = m.f.ErasePage(j.n)
		}
		if err == nil {
			return
		}

		// The user was already told the op was issued; report the failure as
		// a completion, off this call stack.
		m.mu.Lock()
		m.active = nil
		cl := u.client
		m.mu.Unlock()
		if cl != nil {
			go complete(cl, j, err)
		}
	}
}

func (m *Mux) finish() Client {
	m.mu.Lock()
	u := m.active
	m.active = nil
	m.mu.Unlock()
	if u == nil {
		return nil
	}
	return u.client
}

// ---- Client for the underlying flash ----

func (m *Mux) ReadComplete(p *Page, err error) {
	if cl := m.finish(); cl != nil {
		cl.ReadComplete(p, err)
	}
	m.next()
}

func (m *Mux) WriteComplete(p *Page, err error) {
	if cl := m.finish(); cl != nil {
		cl.WriteComplete(p, err)
	}
	m.next()
}

func (m *Mux) EraseComplete(err error) {
	if cl := m.finish(); cl != nil {
		cl.EraseComplete(err)
	}
	m.next()
}
