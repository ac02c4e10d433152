package pagekv

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/theflywheel/pagekv/internal/hashfn"
)

// Page 0 layout. All integers are little endian.
//
//	| magic | hash root | free root | page size | hash blocks | items | hash alg |
//	| 4B    | 4B        | 4B        | 4B        | 4B          | 8B    | 4B       |
const (
	magic = "khom"

	offMagic      = 0
	offHashRoot   = 4
	offFreeRoot   = 8
	offPageSize   = 12
	offHashBlocks = 16
	offItems      = 20
	offHashAlg    = 28
	headerSize    = 32
)

// header is a view over the mapped header page. Writes land in the file
// directly.
type header []byte

func (h header) valid() bool { return string(h[offMagic:offMagic+4]) == magic }
func (h header) setMagic()   { copy(h[offMagic:], magic) }

func (h header) i32(off int) int32         { return int32(binary.LittleEndian.Uint32(h[off:])) }
func (h header) setI32(off int, v int32)   { binary.LittleEndian.PutUint32(h[off:], uint32(v)) }
func (h header) HashRoot() int32           { return h.i32(offHashRoot) }
func (h header) SetHashRoot(root int32)    { h.setI32(offHashRoot, root) }
func (h header) HashBlocks() int32         { return h.i32(offHashBlocks) }
func (h header) SetHashBlocks(n int32)     { h.setI32(offHashBlocks, n) }
func (h header) freeRoot() int32           { return h.i32(offFreeRoot) }
func (h header) setFreeRoot(root int32)    { h.setI32(offFreeRoot, root) }
func (h header) pageSize() int32           { return h.i32(offPageSize) }
func (h header) setPageSize(n int32)       { h.setI32(offPageSize, n) }
func (h header) items() int64              { return int64(binary.LittleEndian.Uint64(h[offItems:])) }
func (h header) setItems(n int64)          { binary.LittleEndian.PutUint64(h[offItems:], uint64(n)) }
func (h header) addItems(delta int64)      { h.setItems(h.items() + delta) }
func (h header) hashAlg() hashfn.Algorithm { return hashfn.Algorithm(binary.LittleEndian.Uint32(h[offHashAlg:])) }
func (h header) setHashAlg(a hashfn.Algorithm) {
	binary.LittleEndian.PutUint32(h[offHashAlg:], uint32(a))
}

// check validates the fields of an initialized header against a file of
// pageCount pages of pageSize bytes.
func (h header) check(pageSize, pageCount int) error {
	switch {
	case int(h.pageSize()) != pageSize:
		return fmt.Errorf("%w: page size %d, file mapped with %d", ErrCorrupt, h.pageSize(), pageSize)
	case h.HashRoot() < 1 || int(h.HashRoot()) >= pageCount:
		return fmt.Errorf("%w: directory root %d outside %d pages", ErrCorrupt, h.HashRoot(), pageCount)
	case h.freeRoot() < 1 || int(h.freeRoot()) >= pageCount:
		return fmt.Errorf("%w: free-list root %d outside %d pages", ErrCorrupt, h.freeRoot(), pageCount)
	case h.HashBlocks() < 1:
		return fmt.Errorf("%w: directory has %d blocks", ErrCorrupt, h.HashBlocks())
	case !h.hashAlg().Valid():
		return fmt.Errorf("%w: unknown hash algorithm %d", ErrCorrupt, uint32(h.hashAlg()))
	}
	return nil
}

// peekHeader reads the header of an existing database file without mapping
// it. It returns nil when the file is missing, short or lacks the magic.
func peekHeader(path string) (header, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := make(header, headerSize)
	if _, err := f.ReadAt(h, 0); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if !h.valid() {
		return nil, nil
	}
	return h, nil
}
