package flash

import (
	"context"
	"sync"

	"signpost-go/errcode"
)

type job struct {
	op Op
	n  int
	p  *Page
}

// Controller turns a synchronous PageDevice into an asynchronous Flash.
// One worker goroutine owns the device; at most one operation is in flight.
type Controller struct {
	dev  PageDevice
	jobs chan job

	mu     sync.Mutex
	busy   bool
	client Client
}

func NewController(dev PageDevice) *Controller {
	return &Controller{dev: dev, jobs: make(chan job, 1)}
}

func (c *Controller) NumPages() int { return c.dev.NumPages() }

func (c *Controller) SetClient(cl Client) {
	c.mu.Lock()
	c.client = cl
	c.mu.Unlock()
}

func (c *Controller) ReadPage(n int, p *Page) error  { return c.issue(job{op: OpRead, n: n, p: p}) }
func (c *Controller) WritePage(n int, p *Page) error { return c.issue(job{op: OpWrite, n: n, p: p}) }
func (c *Controller) ErasePage(n int) error          { return c.issue(job{op: OpErase, n: n}) }

func (c *Controller) issue(j job) error {
	if j.op != OpErase && j.p == nil {
		return errcode.InvalidParams
	}
	if err := checkPage(j.n, c.dev.NumPages()); err != nil {
		return err
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return errcode.Busy
	}
	c.busy = true
	c.mu.Unlock()
	c.jobs <- j // capacity 1, gated by busy
	return nil
}

// Start runs the worker until ctx is cancelled. Operations issued before
// Start are queued and run once it begins.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-c.jobs:
				c.run(j)
			}
		}
	}()
}

func (c *Controller) run(j job) {
	var err error
	switch j.op {
	case OpRead:
		err = c.dev.ReadPage(j.n, j.p[:])
	case OpWrite:
		err = c.dev.WritePage(j.n, j.p[:])
	case OpErase:
		err = c.dev.ErasePage(j.n)
	}
	if err != nil {
		err = errcode.Wrap(errcode.FlashError, j.op.String()+"_page", err)
	}

	c.mu.Lock()
	c.busy = false
	cl := c.client
	c.mu.Unlock()

	if cl == nil {
		println("[flash] completion dropped, no client, op:", j.op.String())
		return
	}
	complete(cl, j, err)
}

func complete(cl Client, j job, err error) {
	switch j.op {
	case OpRead:
		cl.ReadComplete(j.p, err)
	case OpWrite:
		cl.WriteComplete(j.p, err)
	case OpErase:
		cl.EraseComplete(err)
	}
}
