// Package directory implements the hash table that maps keys to record
// pointers.
//
// The table is a chain of pages, each laid out as
//
//	| next | slot 0 | slot 1 | ... |
//	| 4B   | 12B    | 12B    |     |
//
// A key hashes to a global slot index; the block holding that index is its
// home block. Lookups probe the home block linearly with wrap-around, then
// fall back to scanning every block of the chain from the root.
package directory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/theflywheel/pagekv/internal/hashfn"
	"github.com/theflywheel/pagekv/internal/pagefile"
	"github.com/theflywheel/pagekv/internal/storage"
)

const (
	blockHeaderSize = 4
	// End marks the end of a block chain.
	End int32 = -1
)

// ErrNoSlot is returned when rehashing finds no empty slot in the new chain.
var ErrNoSlot = errors.New("directory: no free slot")

// Capacity is the number of slots that fit in one block.
func Capacity(pageSize int) int {
	return (pageSize - blockHeaderSize) / storage.PointerSize
}

// Meta persists the directory's root page and block count.
type Meta interface {
	HashRoot() int32
	SetHashRoot(root int32)
	HashBlocks() int32
	SetHashBlocks(n int32)
}

// Deallocator takes back pages released by expansion.
type Deallocator interface {
	Deallocate(ptr storage.Pointer) error
}

// Location addresses one slot: the block's page and the index inside it.
type Location struct {
	Block int32
	Index int
}

type block []byte

func (b block) next() int32     { return int32(binary.LittleEndian.Uint32(b[0:4])) }
func (b block) setNext(n int32) { binary.LittleEndian.PutUint32(b[0:4], uint32(n)) }
func (b block) at(i int) []byte { return b[blockHeaderSize+i*storage.PointerSize:] }

// Format clears page n of pf and makes it a block with no successor.
func Format(pf *pagefile.File, n int32) error {
	data, err := pf.Page(int(n))
	if err != nil {
		return err
	}
	clear(data)
	block(data).setNext(End)
	return nil
}

// MakeChain appends n fresh blocks to the file, links them in order and
// returns the page of the first.
func MakeChain(pf *pagefile.File, n int) (int32, error) {
	if n < 1 {
		return End, fmt.Errorf("directory: chain needs at least one block, got %d", n)
	}
	first, err := pf.Grow(n)
	if err != nil {
		return End, fmt.Errorf("grow directory: %w", err)
	}
	for i := 0; i < n; i++ {
		page := int32(first + i)
		if err := Format(pf, page); err != nil {
			return End, err
		}
		if i > 0 {
			prev, err := pf.Page(first + i - 1)
			if err != nil {
				return End, err
			}
			block(prev).setNext(page)
		}
	}
	return int32(first), nil
}

// Directory is the hash table over a block chain.
type Directory struct {
	pf       *pagefile.File
	meta     Meta
	alg      hashfn.Algorithm
	capacity int
	log      *slog.Logger
}

// New returns a directory whose root and size are kept in meta.
func New(pf *pagefile.File, meta Meta, alg hashfn.Algorithm, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Directory{
		pf:       pf,
		meta:     meta,
		alg:      alg,
		capacity: Capacity(pf.PageSize()),
		log:      logger,
	}
}

// SlotsPerBlock is the number of slots in each block.
func (d *Directory) SlotsPerBlock() int { return d.capacity }

// Size is the total number of slots across the chain.
func (d *Directory) Size() int {
	return int(d.meta.HashBlocks()) * d.capacity
}

func (d *Directory) block(n int32) (block, error) {
	data, err := d.pf.Page(int(n))
	if err != nil {
		return nil, fmt.Errorf("directory block %d: %w", n, err)
	}
	return block(data), nil
}

// each calls fn for every block of the chain starting at root until fn
// returns false.
func (d *Directory) each(root int32, fn func(n int32, b block) (bool, error)) error {
	for n := root; n != End; {
		b, err := d.block(n)
		if err != nil {
			return err
		}
		more, err := fn(n, b)
		if err != nil || !more {
			return err
		}
		n = b.next()
	}
	return nil
}

// nth returns the page of the i-th block of the chain starting at root.
func (d *Directory) nth(root int32, i int) (int32, error) {
	n := root
	for left := i; left > 0 && n != End; left-- {
		b, err := d.block(n)
		if err != nil {
			return End, err
		}
		n = b.next()
	}
	if n == End {
		return End, fmt.Errorf("directory: chain at %d is shorter than %d blocks", root, i)
	}
	return n, nil
}

func (d *Directory) count(root int32) (int, error) {
	total := 0
	err := d.each(root, func(int32, block) (bool, error) {
		total++
		return true, nil
	})
	return total, err
}

// BlockCount walks the live chain and counts its blocks.
func (d *Directory) BlockCount() (int, error) {
	return d.count(d.meta.HashRoot())
}

// BlockAt returns the page of the i-th block of the live chain.
func (d *Directory) BlockAt(i int) (int32, error) {
	return d.nth(d.meta.HashRoot(), i)
}

// Hash returns the hash of key under the directory's algorithm.
func (d *Directory) Hash(key []byte) uint64 {
	return d.alg.Sum(key)
}

// locate maps a hash onto the chain starting at root holding size slots.
func (d *Directory) locate(root int32, h uint64, size int) (Location, error) {
	slot := h % uint64(size)
	n, err := d.nth(root, int(slot/uint64(d.capacity)))
	if err != nil {
		return Location{}, err
	}
	return Location{Block: n, Index: int(slot % uint64(d.capacity))}, nil
}

// Home returns the home slot of key.
func (d *Directory) Home(key []byte) (Location, error) {
	return d.locate(d.meta.HashRoot(), d.Hash(key), d.Size())
}

// Read decodes the slot at loc.
func (d *Directory) Read(loc Location) (storage.Slot, error) {
	b, err := d.block(loc.Block)
	if err != nil {
		return storage.Slot{}, err
	}
	return storage.Decode(b.at(loc.Index)), nil
}

// Write encodes s into the slot at loc.
func (d *Directory) Write(loc Location, s storage.Slot) error {
	b, err := d.block(loc.Block)
	if err != nil {
		return err
	}
	s.Encode(b.at(loc.Index))
	return nil
}

type outcome int

const (
	miss outcome = iota
	hitEmpty
	hitMatch
)

// prober carries the state of one probe sequence. It remembers the first
// tombstone seen so an insert can reuse it once the key is known to be
// absent.
type prober struct {
	d        *Directory
	key      []byte
	rehash   bool
	tomb     *Location
	found    Location
	foundVal storage.Slot
}

// visit inspects one slot and reports whether the probe sequence ends there.
func (p *prober) visit(n int32, b block, i int) (outcome, error) {
	s := storage.Decode(b.at(i))
	loc := Location{Block: n, Index: i}
	switch s.Kind {
	case storage.Empty:
		p.found, p.foundVal = loc, s
		return hitEmpty, nil
	case storage.Tombstone:
		if p.tomb == nil && !p.rehash {
			p.tomb = &loc
		}
		return miss, nil
	}
	if p.rehash || int(s.Ptr.Size) < len(p.key)+2 {
		return miss, nil
	}
	eq, err := p.d.pf.EqualNullTerminated(int(s.Ptr.Page), int(s.Ptr.Offset), p.key)
	if err != nil {
		return miss, err
	}
	if eq {
		p.found, p.foundVal = loc, s
		return hitMatch, nil
	}
	return miss, nil
}

// run probes the home block from start with wrap-around, then every block
// of the chain at root from first slot to last.
func (p *prober) run(root int32, start Location) (outcome, error) {
	home, err := p.d.block(start.Block)
	if err != nil {
		return miss, err
	}
	for i := 0; i < p.d.capacity; i++ {
		res, err := p.visit(start.Block, home, (start.Index+i)%p.d.capacity)
		if err != nil || res != miss {
			return res, err
		}
	}

	res := miss
	err = p.d.each(root, func(n int32, b block) (bool, error) {
		for i := 0; i < p.d.capacity; i++ {
			r, err := p.visit(n, b, i)
			if err != nil {
				return false, err
			}
			if r != miss {
				res = r
				return false, nil
			}
		}
		return true, nil
	})
	return res, err
}

// Lookup finds the occupied slot holding key.
func (d *Directory) Lookup(key []byte) (Location, storage.Pointer, bool, error) {
	start, err := d.Home(key)
	if err != nil {
		return Location{}, storage.Pointer{}, false, err
	}
	p := prober{d: d, key: key}
	res, err := p.run(d.meta.HashRoot(), start)
	if err != nil || res != hitMatch {
		return Location{}, storage.Pointer{}, false, err
	}
	return p.found, p.foundVal.Ptr, true, nil
}

// Claim finds the slot an insert of key should write to: the slot already
// holding key, else the first tombstone on its probe sequence, else the
// first empty slot. It returns false when the directory has none of these.
func (d *Directory) Claim(key []byte) (Location, storage.Slot, bool, error) {
	start, err := d.Home(key)
	if err != nil {
		return Location{}, storage.Slot{}, false, err
	}
	p := prober{d: d, key: key}
	res, err := p.run(d.meta.HashRoot(), start)
	if err != nil {
		return Location{}, storage.Slot{}, false, err
	}
	switch {
	case res == hitMatch:
		return p.found, p.foundVal, true, nil
	case p.tomb != nil:
		return *p.tomb, storage.Slot{Kind: storage.Tombstone}, true, nil
	case res == hitEmpty:
		return p.found, p.foundVal, true, nil
	}
	return Location{}, storage.Slot{}, false, nil
}

// Expand builds a new chain of BlockCount()+extra blocks, moves every
// occupied slot into it, makes it the live chain and releases the old
// chain's pages to free. It returns the number of records moved.
func (d *Directory) Expand(extra int, free Deallocator) (int, error) {
	oldRoot := d.meta.HashRoot()
	oldCount, err := d.count(oldRoot)
	if err != nil {
		return 0, err
	}
	newCount := oldCount + extra
	newRoot, err := MakeChain(d.pf, newCount)
	if err != nil {
		return 0, err
	}
	newSize := newCount * d.capacity

	d.log.Info("expanding directory", "blocks", oldCount, "new_blocks", newCount)

	moved := 0
	err = d.each(oldRoot, func(_ int32, b block) (bool, error) {
		for i := 0; i < d.capacity; i++ {
			s := storage.Decode(b.at(i))
			if s.Kind != storage.Occupied {
				continue
			}
			if err := d.rehashInto(newRoot, newSize, s); err != nil {
				return false, err
			}
			moved++
		}
		return true, nil
	})
	if err != nil {
		return moved, err
	}

	d.meta.SetHashRoot(newRoot)

	pageSize := int32(d.pf.PageSize())
	for n := oldRoot; n != End; {
		b, err := d.block(n)
		if err != nil {
			return moved, err
		}
		next := b.next()
		if err := free.Deallocate(storage.Pointer{Page: n, Offset: 0, Size: pageSize}); err != nil {
			return moved, fmt.Errorf("release directory block %d: %w", n, err)
		}
		n = next
	}

	count, err := d.count(newRoot)
	if err != nil {
		return moved, err
	}
	d.meta.SetHashBlocks(int32(count))

	d.log.Info("expanded directory", "root", newRoot, "blocks", count, "moved", moved)
	return moved, nil
}

// rehashInto places an existing record pointer into the chain at root. The
// key is re-read from the record bytes up to its terminator.
func (d *Directory) rehashInto(root int32, size int, s storage.Slot) error {
	h := d.alg.New()
	if _, err := d.pf.HashNullTerminated(int(s.Ptr.Page), int(s.Ptr.Offset), int(s.Ptr.Size), h); err != nil {
		return fmt.Errorf("rehash %v: %w", s.Ptr, err)
	}
	start, err := d.locate(root, h.Sum64(), size)
	if err != nil {
		return err
	}
	p := prober{d: d, rehash: true}
	res, err := p.run(root, start)
	if err != nil {
		return err
	}
	if res != hitEmpty {
		return fmt.Errorf("%w for %v", ErrNoSlot, s.Ptr)
	}
	return d.Write(p.found, s)
}

// Stats counts slots by kind across the live chain.
type Stats struct {
	Blocks     int
	Occupied   int
	Tombstones int
	Empty      int
}

// Stats walks the live chain.
func (d *Directory) Stats() (Stats, error) {
	var st Stats
	err := d.each(d.meta.HashRoot(), func(_ int32, b block) (bool, error) {
		st.Blocks++
		for i := 0; i < d.capacity; i++ {
			switch storage.Decode(b.at(i)).Kind {
			case storage.Empty:
				st.Empty++
			case storage.Tombstone:
				st.Tombstones++
			default:
				st.Occupied++
			}
		}
		return true, nil
	})
	return st, err
}
