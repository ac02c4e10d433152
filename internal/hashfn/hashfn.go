// Package hashfn provides the key hash used to place records in the
// directory. Digests are streaming so keys stored across page boundaries can
// be hashed chunk by chunk.
package hashfn

import (
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
)

// Algorithm identifies a hash function. Its numeric value is persisted in
// the database header, so existing values must never be renumbered.
type Algorithm uint32

const (
	// DJB2 is the multiplicative string hash h = h*33 + b seeded with 5381.
	DJB2 Algorithm = 0
	// XXHash is xxHash64 with seed 0.
	XXHash Algorithm = 1
)

func (a Algorithm) String() string {
	switch a {
	case DJB2:
		return "djb2"
	case XXHash:
		return "xxhash"
	}
	return fmt.Sprintf("Algorithm(%d)", uint32(a))
}

// Valid reports whether a names a known algorithm.
func (a Algorithm) Valid() bool {
	return a == DJB2 || a == XXHash
}

// New returns a fresh digest for a. Unknown algorithms fall back to DJB2.
func (a Algorithm) New() hash.Hash64 {
	if a == XXHash {
		return xxhash.New()
	}
	return NewDJB2()
}

// Sum hashes key in one shot.
func (a Algorithm) Sum(key []byte) uint64 {
	if a == XXHash {
		return xxhash.Sum64(key)
	}
	return SumDJB2(key)
}

const djb2Seed = 5381

// SumDJB2 returns the djb2 hash of b.
func SumDJB2(b []byte) uint64 {
	h := uint64(djb2Seed)
	for _, c := range b {
		h = h*33 + uint64(c)
	}
	return h
}

type djb2 uint64

// NewDJB2 returns a streaming djb2 digest.
func NewDJB2() hash.Hash64 {
	d := djb2(djb2Seed)
	return &d
}

func (d *djb2) Write(p []byte) (int, error) {
	h := uint64(*d)
	for _, c := range p {
		h = h*33 + uint64(c)
	}
	*d = djb2(h)
	return len(p), nil
}

func (d *djb2) Sum(b []byte) []byte {
	s := uint64(*d)
	return append(b,
		byte(s>>56), byte(s>>48), byte(s>>40), byte(s>>32),
		byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (d *djb2) Reset()         { *d = djb2Seed }
func (d *djb2) Size() int      { return 8 }
func (d *djb2) BlockSize() int { return 1 }
func (d *djb2) Sum64() uint64  { return uint64(*d) }

// Parse returns the algorithm named by s, as printed by String.
func Parse(s string) (Algorithm, error) {
	for _, a := range []Algorithm{DJB2, XXHash} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("hashfn: unknown algorithm %q", s)
}
