package flash

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"signpost-go/errcode"
)

type completion struct {
	op  Op
	p   *Page
	err error
}

// chanClient forwards completions to a channel, the way HAL devices do.
type chanClient chan completion

func (c chanClient) ReadComplete(p *Page, err error)  { c <- completion{OpRead, p, err} }
func (c chanClient) WriteComplete(p *Page, err error) { c <- completion{OpWrite, p, err} }
func (c chanClient) EraseComplete(err error)          { c <- completion{OpErase, nil, err} }

func wait(t *testing.T, c chanClient) completion {
	t.Helper()
	select {
	case got := <-c:
		return got
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for completion")
	}
	return completion{}
}

func startController(t *testing.T, dev PageDevice) *Controller {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := NewController(dev)
	c.Start(ctx)
	return c
}

func TestController_ReadWriteErase(t *testing.T) {
	dev := NewMemDevice(4)
	c := startController(t, dev)
	cl := make(chanClient, 1)
	c.SetClient(cl)

	var page Page
	for i := range page {
		page[i] = byte(i)
	}
	if err := c.WritePage(1, &page); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if got := wait(t, cl); got.op != OpWrite || got.p != &page || got.err != nil {
		t.Fatalf("write completion = %+v", got)
	}

	var back Page
	if err := c.ReadPage(1, &back); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if got := wait(t, cl); got.p != &back || got.err != nil {
		t.Fatalf("read completion = %+v", got)
	}
	if diff := cmp.Diff(page, back); diff != "" {
		t.Fatalf("read back mismatch (-want +got):\n%s", diff)
	}

	if err := c.ErasePage(1); err != nil {
		t.Fatalf("ErasePage: %v", err)
	}
	wait(t, cl)
	if snap := dev.Snapshot(1); snap[0] != 0xFF || snap[PageSize-1] != 0xFF {
		t.Fatal("page not erased")
	}
}

func TestController_RejectsBadPageAndSecondOp(t *testing.T) {
	c := NewController(NewMemDevice(2)) // not started: first op stays queued
	var a, b Page
	if err := c.ReadPage(2, &a); err != errcode.InvalidParams {
		t.Fatalf("out of range: got %v", err)
	}
	if err := c.ReadPage(0, nil); err != errcode.InvalidParams {
		t.Fatalf("nil page: got %v", err)
	}
	if err := c.ReadPage(0, &a); err != nil {
		t.Fatalf("first op: %v", err)
	}
	if err := c.ReadPage(1, &b); err != errcode.Busy {
		t.Fatalf("second op: got %v, want busy", err)
	}
}

func TestController_DeviceErrorIsWrapped(t *testing.T) {
	dev := NewMemDevice(2)
	c := startController(t, dev)
	cl := make(chanClient, 1)
	c.SetClient(cl)

	cause := errors.New("spi: nak")
	dev.FailNext(OpRead, cause)
	var p Page
	if err := c.ReadPage(0, &p); err != nil {
		t.Fatal(err)
	}
	got := wait(t, cl)
	if errcode.Of(got.err) != errcode.FlashError || !errors.Is(got.err, cause) {
		t.Fatalf("err = %v", got.err)
	}
	if got.p != &p {
		t.Fatal("page not returned on error")
	}
}

func TestMux_SerialisesUsers(t *testing.T) {
	dev := NewMemDevice(4)
	m := NewMux(NewController(dev)) // started below, after both users queue
	u1, u2 := m.NewUser(), m.NewUser()
	c1, c2 := make(chanClient, 1), make(chanClient, 1)
	u1.SetClient(c1)
	u2.SetClient(c2)

	var p1, p2, p3 Page
	p1[0], p2[0] = 0x11, 0x22
	if err := u1.WritePage(0, &p1); err != nil {
		t.Fatal(err)
	}
	if err := u2.WritePage(1, &p2); err != nil {
		t.Fatal(err)
	}
	if err := u1.ReadPage(0, &p3); err != errcode.Busy {
		t.Fatalf("second op for same user: got %v, want busy", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.f.(*Controller).Start(ctx)

	if got := wait(t, c1); got.p != &p1 || got.err != nil {
		t.Fatalf("u1 completion = %+v", got)
	}
	if got := wait(t, c2); got.p != &p2 || got.err != nil {
		t.Fatalf("u2 completion = %+v", got)
	}
	if dev.Snapshot(0)[0] != 0x11 || dev.Snapshot(1)[0] != 0x22 {
		t.Fatal("writes did not land")
	}
}

type storageEvent struct {
	write bool
	n     int
	err   error
}

type chanStorage chan storageEvent

func (c chanStorage) ReadDone(_ []byte, n int, err error)  { c <- storageEvent{false, n, err} }
func (c chanStorage) WriteDone(_ []byte, n int, err error) { c <- storageEvent{true, n, err} }

func TestToPages_UnalignedWritePreservesNeighbours(t *testing.T) {
	dev := NewMemDevice(8)
	var seed Page
	for i := range seed {
		seed[i] = 0xA5
	}
	for n := 2; n < 6; n++ {
		dev.Load(n, seed)
	}
	m := NewMux(startController(t, dev))
	var page Page
	s := NewToPages(m.NewUser(), 2, 4, &page)
	done := make(chanStorage, 1)
	s.SetClient(done)

	// Spans the tail of page 0, all of page 1 and the head of page 2 (window-relative).
	data := make([]byte, PageSize+200)
	for i := range data {
		data[i] = byte(i * 7)
	}
	const off = PageSize - 100
	if err := s.Write(data, off, len(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case ev := <-done:
		if !ev.write || ev.n != len(data) || ev.err != nil {
			t.Fatalf("write done = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	got := make([]byte, s.Size())
	if err := s.Read(got, 0, len(got)); err != nil {
		t.Fatalf("Read: %v", err)
	}
	select {
	case ev := <-done:
		if ev.write || ev.n != len(got) || ev.err != nil {
			t.Fatalf("read done = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	want := make([]byte, s.Size())
	for i := range want {
		want[i] = 0xA5
	}
	copy(want[off:], data)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("window contents (-want +got):\n%s", diff)
	}
	if dev.Snapshot(1)[0] != 0xFF || dev.Snapshot(6)[0] != 0xFF {
		t.Fatal("pages outside the window were touched")
	}
}

func TestToPages_Validation(t *testing.T) {
	c := NewController(NewMemDevice(4))
	var page Page
	s := NewToPages(c, 0, 2, &page)
	buf := make([]byte, 16)
	if err := s.Write(buf, 0, 17); err != errcode.InvalidSize {
		t.Fatalf("length > buffer: got %v", err)
	}
	if err := s.Write(buf, s.Size()-8, 16); err != errcode.InvalidParams {
		t.Fatalf("past end: got %v", err)
	}
	if err := s.Write(buf, 0, 16); err != nil {
		t.Fatal(err)
	}
	if err := s.Read(buf, 0, 16); err != errcode.Busy {
		t.Fatalf("while busy: got %v", err)
	}
}

// norFlash programs by AND-ing, so a missing erase shows up as corruption.
type norFlash struct {
	mem    []byte
	erases int
}

func (f *norFlash) ReadAt(p []byte, off int64) (int, error) { return copy(p, f.mem[off:]), nil }
func (f *norFlash) WriteAt(p []byte, off int64) (int, error) {
	for i, b := range p {
		f.mem[int(off)+i] &= b
	}
	return len(p), nil
}
func (f *norFlash) Size() int64           { return int64(len(f.mem)) }
func (f *norFlash) EraseBlockSize() int64 { return 4096 }
func (f *norFlash) EraseBlocks(start, n int64) error {
	f.erases++
	for i := start * 4096; i < (start+n)*4096; i++ {
		f.mem[i] = 0xFF
	}
	return nil
}

func TestBlockPages_RewritesOnePageOfBlock(t *testing.T) {
	nor := &norFlash{mem: make([]byte, 4*4096)}
	for i := range nor.mem {
		nor.mem[i] = byte(i)
	}
	orig := append([]byte(nil), nor.mem...)

	bp, err := NewBlockPages(nor, 4096, 16)
	if err != nil {
		t.Fatal(err)
	}
	var p Page
	for i := range p {
		p[i] = 0xF0
	}
	if err := bp.WritePage(9, p[:]); err != nil { // second block, second page
		t.Fatal(err)
	}
	if nor.erases != 1 {
		t.Fatalf("erases = %d, want 1", nor.erases)
	}

	want := append([]byte(nil), orig...)
	copy(want[4096+9*PageSize:], p[:])
	if diff := cmp.Diff(want, nor.mem); diff != "" {
		t.Fatalf("device contents (-want +got):\n%s", diff)
	}

	var back Page
	if err := bp.ReadPage(9, back[:]); err != nil || back != p {
		t.Fatalf("read back: %v", err)
	}
	if err := bp.ErasePage(9); err != nil {
		t.Fatal(err)
	}
	_ = bp.ReadPage(9, back[:])
	if back[0] != 0xFF || back[PageSize-1] != 0xFF {
		t.Fatal("page not erased")
	}
}

func TestBlockPages_Geometry(t *testing.T) {
	nor := &norFlash{mem: make([]byte, 2*4096)}
	if _, err := NewBlockPages(nor, 512, 4); err != errcode.InvalidParams {
		t.Fatalf("unaligned start: %v", err)
	}
	if _, err := NewBlockPages(nor, 0, 17); err != errcode.InvalidParams {
		t.Fatalf("window past end: %v", err)
	}
	bp, _ := NewBlockPages(nor, 0, 16)
	if err := bp.WritePage(16, make([]byte, PageSize)); err != errcode.InvalidParams {
		t.Fatalf("page out of range: %v", err)
	}
}
