package flash

import "signpost-go/errcode"

// BlockDevice is a byte-addressed store with a coarse erase, such as the
// TinyGo machine.Flash data area.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// BlockPages presents a BlockDevice as 512-byte pages. Writing a page
// rewrites its whole erase block: the block is read, erased and programmed
// back with the new page in place.
type BlockPages struct {
	dev   BlockDevice
	first int64 // byte offset of page 0
	pages int
	block []byte
}

// NewBlockPages maps numPages pages starting at byte offset first. first must
// be erase-block aligned and the window must fit the device.
func NewBlockPages(dev BlockDevice, first int64, numPages int) (*BlockPages, error) {
	bs := dev.EraseBlockSize()
	if bs <= 0 || bs%PageSize != 0 || first%bs != 0 || numPages <= 0 {
		return nil, errcode.InvalidParams
	}
	if first+int64(numPages)*PageSize > dev.Size() {
		return nil, errcode.InvalidParams
	}
	return &BlockPages{dev: dev, first: first, pages: numPages, block: make([]byte, bs)}, nil
}

func (b *BlockPages) NumPages() int { return b.pages }

func (b *BlockPages) check(n int, p []byte) error {
	if err := checkPage(n, b.pages); err != nil {
		return err
	}
	if p != nil && len(p) != PageSize {
		return errcode.InvalidSize
	}
	return nil
}

func (b *BlockPages) ReadPage(n int, p []byte) error {
	if err := b.check(n, p); err != nil {
		return err
	}
	_, err := b.dev.ReadAt(p, b.first+int64(n)*PageSize)
	return err
}

func (b *BlockPages) WritePage(n int, p []byte) error {
	if err := b.check(n, p); err != nil {
		return err
	}
	return b.rewrite(n, p)
}

func (b *BlockPages) ErasePage(n int) error {
	if err := b.check(n, nil); err != nil {
		return err
	}
	return b.rewrite(n, nil)
}

// rewrite replaces page n within its erase block. p == nil leaves the page
// in the erased state.
func (b *BlockPages) rewrite(n int, p []byte) error {
	bs := int64(len(b.block))
	addr := b.first + int64(n)*PageSize
	base := addr - addr%bs
	if _, err := b.dev.ReadAt(b.block, base); err != nil {
		return err
	}
	in := addr - base
	if p == nil {
		for i := in; i < in+PageSize; i++ {
			b.block[i] = 0xFF
		}
	} else {
		copy(b.block[in:in+PageSize], p)
	}
	if err := b.dev.EraseBlocks(base/bs, 1); err != nil {
		return err
	}
	_, err := b.dev.WriteAt(b.block, base)
	return err
}
