// Package storage defines the locator that every other layer passes around:
// a (page, offset, size) triple naming a byte range inside the paged file,
// plus the three-state slot variant stored in directory and free-list blocks.
package storage

import (
	"encoding/binary"
	"fmt"
)

// PointerSize is the encoded width of a Pointer: three little-endian int32s.
const PointerSize = 3 * 4

// Reserved page values inside encoded slots.
const (
	emptyPage     int32 = 0
	tombstonePage int32 = -1
)

// Pointer locates a byte range that starts at (Page, Offset) and runs for
// Size bytes, possibly continuing on the following pages.
type Pointer struct {
	Page   int32
	Offset int32
	Size   int32
}

func (p Pointer) String() string {
	return fmt.Sprintf("{page=%d off=%d size=%d}", p.Page, p.Offset, p.Size)
}

// Valid reports whether p can describe real data. Page 0 holds the header.
func (p Pointer) Valid() bool {
	return p.Page >= 1
}

// HasSize reports whether the range holds at least n bytes.
func (p Pointer) HasSize(n int32) bool {
	return p.Size >= n
}

// Advance moves the start of the range forward by n bytes, rolling the
// offset over into following pages, and shrinks Size accordingly.
func (p Pointer) Advance(n int32, pageSize int32) Pointer {
	abs := int64(p.Offset) + int64(n)
	return Pointer{
		Page:   p.Page + int32(abs/int64(pageSize)),
		Offset: int32(abs % int64(pageSize)),
		Size:   p.Size - n,
	}
}

// Head returns the first n bytes of the range.
func (p Pointer) Head(n int32) Pointer {
	return Pointer{Page: p.Page, Offset: p.Offset, Size: n}
}

// Kind tags a slot as never used, deleted, or holding a pointer.
type Kind uint8

const (
	Empty Kind = iota
	Tombstone
	Occupied
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Tombstone:
		return "tombstone"
	case Occupied:
		return "occupied"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Slot is the in-memory form of an encoded slot. Ptr is meaningful only
// when Kind is Occupied.
type Slot struct {
	Kind Kind
	Ptr  Pointer
}

// Hold returns an occupied slot for ptr.
func Hold(ptr Pointer) Slot {
	return Slot{Kind: Occupied, Ptr: ptr}
}

// Decode reads a slot from the first PointerSize bytes of b. A page value of
// 0 decodes as Empty and -1 as Tombstone.
func Decode(b []byte) Slot {
	ptr := Pointer{
		Page:   int32(binary.LittleEndian.Uint32(b[0:4])),
		Offset: int32(binary.LittleEndian.Uint32(b[4:8])),
		Size:   int32(binary.LittleEndian.Uint32(b[8:12])),
	}
	switch ptr.Page {
	case emptyPage:
		return Slot{Kind: Empty}
	case tombstonePage:
		return Slot{Kind: Tombstone}
	}
	return Hold(ptr)
}

// Encode writes s into the first PointerSize bytes of b.
func (s Slot) Encode(b []byte) {
	ptr := s.Ptr
	switch s.Kind {
	case Empty:
		ptr = Pointer{Page: emptyPage}
	case Tombstone:
		ptr = Pointer{Page: tombstonePage}
	}
	binary.LittleEndian.PutUint32(b[0:4], uint32(ptr.Page))
	binary.LittleEndian.PutUint32(b[4:8], uint32(ptr.Offset))
	binary.LittleEndian.PutUint32(b[8:12], uint32(ptr.Size))
}
