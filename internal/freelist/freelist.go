// Package freelist tracks unused byte ranges of the paged file.
//
// The list is a chain of pages, each laid out as
//
//	| next | count | slot 0 | slot 1 | ... |
//	| 4B   | 4B    | 12B    | 12B    |     |
//
// where next is the page of the following block (-1 ends the chain) and
// each slot is an encoded storage.Pointer. Allocation is first fit in chain
// order; freed ranges are appended and never merged.
package freelist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/theflywheel/pagekv/internal/pagefile"
	"github.com/theflywheel/pagekv/internal/storage"
)

const (
	blockHeaderSize = 8
	// End marks the end of a block chain.
	End int32 = -1
)

// ErrInvalidSize is returned for non-positive or oversized allocation requests.
var ErrInvalidSize = errors.New("freelist: invalid allocation size")

// Capacity is the number of slots that fit in one block.
func Capacity(pageSize int) int {
	return (pageSize - blockHeaderSize) / storage.PointerSize
}

type block []byte

func (b block) next() int32     { return int32(binary.LittleEndian.Uint32(b[0:4])) }
func (b block) setNext(n int32) { binary.LittleEndian.PutUint32(b[0:4], uint32(n)) }
func (b block) count() int      { return int(int32(binary.LittleEndian.Uint32(b[4:8]))) }
func (b block) setCount(n int)  { binary.LittleEndian.PutUint32(b[4:8], uint32(int32(n))) }
func (b block) at(i int) []byte { return b[blockHeaderSize+i*storage.PointerSize:] }
func (b block) get(i int) storage.Pointer {
	return storage.Decode(b.at(i)).Ptr
}

func (b block) set(i int, ptr storage.Pointer) {
	storage.Hold(ptr).Encode(b.at(i))
}

func (b block) init() {
	b.setNext(End)
	b.setCount(0)
}

func (b block) push(ptr storage.Pointer) {
	n := b.count()
	b.set(n, ptr)
	b.setCount(n + 1)
}

// remove drops slot i and shifts the following slots down.
func (b block) remove(i int) {
	n := b.count()
	start := blockHeaderSize + i*storage.PointerSize
	end := blockHeaderSize + n*storage.PointerSize
	copy(b[start:], b[start+storage.PointerSize:end])
	clear(b[end-storage.PointerSize : end])
	b.setCount(n - 1)
}

// take carves size bytes from the front of the first slot large enough to
// hold them. A slot left with zero bytes is removed from the block.
func (b block) take(size, pageSize int32) (storage.Pointer, bool) {
	for i := 0; i < b.count(); i++ {
		free := b.get(i)
		if !free.HasSize(size) {
			continue
		}
		rest := free.Advance(size, pageSize)
		if rest.Size == 0 {
			b.remove(i)
		} else {
			b.set(i, rest)
		}
		return free.Head(size), true
	}
	return storage.Pointer{}, false
}

// Format initializes page n of pf as an empty free-list block.
func Format(pf *pagefile.File, n int32) error {
	data, err := pf.Page(int(n))
	if err != nil {
		return err
	}
	block(data).init()
	return nil
}

// Allocator serves allocations from the chain rooted at a fixed page.
type Allocator struct {
	pf       *pagefile.File
	root     int32
	capacity int
	log      *slog.Logger
}

// New returns an allocator over the chain whose first block is root.
func New(pf *pagefile.File, root int32, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Allocator{
		pf:       pf,
		root:     root,
		capacity: Capacity(pf.PageSize()),
		log:      logger,
	}
}

// Root is the page of the first block.
func (a *Allocator) Root() int32 { return a.root }

func (a *Allocator) block(n int32) (block, error) {
	data, err := a.pf.Page(int(n))
	if err != nil {
		return nil, fmt.Errorf("free-list block %d: %w", n, err)
	}
	return block(data), nil
}

// each calls fn for every block in chain order until fn returns false.
func (a *Allocator) each(fn func(n int32, b block) bool) error {
	for n := a.root; n != End; {
		b, err := a.block(n)
		if err != nil {
			return err
		}
		if !fn(n, b) {
			return nil
		}
		n = b.next()
	}
	return nil
}

// Allocate returns a range of exactly size bytes. When no free range is
// large enough the file grows by ceil(size/pageSize)+1 pages, the new region
// is registered as free, and the scan is retried.
func (a *Allocator) Allocate(size int) (storage.Pointer, error) {
	pageSize := a.pf.PageSize()
	if size <= 0 || size > math.MaxInt32-2*pageSize {
		return storage.Pointer{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	for {
		var (
			ptr   storage.Pointer
			found bool
		)
		err := a.each(func(_ int32, b block) bool {
			ptr, found = b.take(int32(size), int32(pageSize))
			return !found
		})
		if err != nil {
			return storage.Pointer{}, err
		}
		if found {
			return ptr, nil
		}
		if err := a.grow(size); err != nil {
			return storage.Pointer{}, err
		}
	}
}

// Reserve grows the file by ceil(size/pageSize)+1 pages and registers the
// new region as one free range.
func (a *Allocator) Reserve(size int) error {
	if size <= 0 || size > math.MaxInt32-2*a.pf.PageSize() {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return a.grow(size)
}

func (a *Allocator) grow(size int) error {
	pageSize := a.pf.PageSize()
	pages := (size+pageSize-1)/pageSize + 1
	first, err := a.pf.Grow(pages)
	if err != nil {
		return fmt.Errorf("grow storage: %w", err)
	}
	region := storage.Pointer{Page: int32(first), Offset: 0, Size: int32(pages * pageSize)}

	a.log.Debug("grew storage", "request", size, "pages", pages, "region", humanize.IBytes(uint64(region.Size)))
	return a.place(region)
}

// Deallocate returns ptr to the free list. Sentinel pointers (page <= 0) are
// ignored.
func (a *Allocator) Deallocate(ptr storage.Pointer) error {
	if !ptr.Valid() || ptr.Size <= 0 {
		return nil
	}
	return a.place(ptr)
}

// place appends ptr to the first block with a spare slot, adding a block to
// the end of the chain when all are full.
func (a *Allocator) place(ptr storage.Pointer) error {
	var target block
	err := a.each(func(_ int32, b block) bool {
		if b.count() < a.capacity {
			target = b
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if target == nil {
		n, err := a.AddBlock()
		if err != nil {
			return err
		}
		if target, err = a.block(n); err != nil {
			return err
		}
	}
	target.push(ptr)
	return nil
}

// AddBlock appends an empty block to the chain and returns its page.
func (a *Allocator) AddBlock() (int32, error) {
	first, err := a.pf.Grow(1)
	if err != nil {
		return 0, fmt.Errorf("grow free list: %w", err)
	}
	n := int32(first)
	if err := Format(a.pf, n); err != nil {
		return 0, err
	}

	var tail block
	if err := a.each(func(_ int32, b block) bool {
		tail = b
		return true
	}); err != nil {
		return 0, err
	}
	tail.setNext(n)

	a.log.Debug("added free-list block", "page", n)
	return n, nil
}

// Stats summarizes the chain.
type Stats struct {
	Blocks    int
	Slots     int
	FreeBytes int64
}

// Stats walks the chain and totals its blocks, slots and free bytes.
func (a *Allocator) Stats() (Stats, error) {
	var s Stats
	err := a.each(func(_ int32, b block) bool {
		s.Blocks++
		s.Slots += b.count()
		for i := 0; i < b.count(); i++ {
			s.FreeBytes += int64(b.get(i).Size)
		}
		return true
	})
	return s, err
}

// Slots returns the free ranges held by block n, in slot order.
func (a *Allocator) Slots(n int32) ([]storage.Pointer, error) {
	b, err := a.block(n)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Pointer, b.count())
	for i := range out {
		out[i] = b.get(i)
	}
	return out, nil
}
