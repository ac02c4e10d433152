package pagekv

import (
	"fmt"
	"log/slog"

	"github.com/theflywheel/pagekv/internal/hashfn"
	"github.com/theflywheel/pagekv/internal/pagefile"
)

// HashAlgorithm selects the key hash. It is fixed when a file is created.
type HashAlgorithm = hashfn.Algorithm

const (
	// HashDJB2 is the default string hash, h = h*33 + b seeded with 5381.
	HashDJB2 = hashfn.DJB2
	// HashXXHash is xxHash64.
	HashXXHash = hashfn.XXHash
)

// Options configures Open. A nil *Options selects every default.
type Options struct {
	// PageSize is the page size for new files. Zero means the OS page size.
	// It must be a multiple of the OS page size. Existing files keep the
	// page size they were created with.
	PageSize int

	// Hash is the key hash for new files. Existing files keep their own.
	Hash HashAlgorithm

	// MaxLoadFactor enables automatic expansion: after a Put that leaves the
	// load factor above it, the directory doubles. Zero disables it.
	MaxLoadFactor float64

	// CacheSize is the budget in bytes of the read-through value cache.
	// Zero disables the cache.
	CacheSize int64

	// Logger receives lifecycle and growth events. Nil discards them.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.PageSize == 0 {
		opts.PageSize = pagefile.OSPageSize()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}

func (o Options) validate() error {
	if o.PageSize <= 0 || o.PageSize%pagefile.OSPageSize() != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, o.PageSize)
	}
	if !o.Hash.Valid() {
		return fmt.Errorf("pagekv: unknown hash algorithm %d", uint32(o.Hash))
	}
	if o.MaxLoadFactor < 0 {
		return fmt.Errorf("pagekv: negative max load factor %v", o.MaxLoadFactor)
	}
	return nil
}
