package pagekv

import "errors"

var (
	// ErrInvalidPageSize is returned by Open when the page size is not a
	// positive multiple of the platform page size. The file is not touched.
	ErrInvalidPageSize = errors.New("pagekv: page size must be a multiple of the OS page size")
	// ErrInvalidKey is returned for empty keys and keys containing a NUL byte.
	ErrInvalidKey = errors.New("pagekv: key must be non-empty and contain no NUL byte")
	// ErrDirectoryFull is returned by Put when no directory slot is free.
	// Expand the directory to make room.
	ErrDirectoryFull = errors.New("pagekv: directory full")
	// ErrInvalidExpansion is returned by Expand for a negative block count.
	ErrInvalidExpansion = errors.New("pagekv: expansion block count must not be negative")
	// ErrCorrupt is returned by Open when the header is inconsistent with the file.
	ErrCorrupt = errors.New("pagekv: corrupt database header")
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("pagekv: database closed")
)
