// Package pagefile maps a single backing file in fixed-size pages.
//
// Pages are mapped one at a time and stay mapped until Close. Every byte
// level access to the database file goes through this package; callers
// address data as (page, offset) and the helpers here walk across page
// boundaries for them.
package pagefile

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

var (
	// ErrBadPage is returned for negative page numbers or offsets outside a page.
	ErrBadPage = errors.New("pagefile: page out of range")
	// ErrNoTerminator is returned when a NUL scan exceeds its bound.
	ErrNoTerminator = errors.New("pagefile: no terminator within bound")
	// ErrClosed is returned by operations on a closed file.
	ErrClosed = errors.New("pagefile: file closed")
)

// OSPageSize returns the platform memory page size.
func OSPageSize() int {
	return unix.Getpagesize()
}

// File is a page-granular view of one backing file.
type File struct {
	file      *os.File
	path      string
	pageSize  int
	pageCount int
	pages     [][]byte
	log       *slog.Logger
}

// Open opens path, creating it with a single zeroed page when it does not
// exist, and maps every existing page.
func Open(path string, pageSize int, logger *slog.Logger) (*File, error) {
	if pageSize <= 0 || pageSize%OSPageSize() != 0 {
		return nil, fmt.Errorf("pagefile: page size %d is not a multiple of %d", pageSize, OSPageSize())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	size := fi.Size()
	if size == 0 {
		if err := extend(file, int64(pageSize)); err != nil {
			file.Close()
			return nil, err
		}
		size = int64(pageSize)
		logger.Info("created file", "path", path, "page_size", pageSize)
	}
	if size%int64(pageSize) != 0 {
		file.Close()
		return nil, fmt.Errorf("pagefile: file size %d is not a multiple of page size %d", size, pageSize)
	}

	pf := &File{
		file:      file,
		path:      path,
		pageSize:  pageSize,
		pageCount: int(size / int64(pageSize)),
		log:       logger,
	}
	pf.pages = make([][]byte, pf.pageCount)
	for i := range pf.pages {
		if _, err := pf.mapPage(i); err != nil {
			pf.Close()
			return nil, err
		}
	}

	logger.Debug("opened file", "path", path, "pages", pf.pageCount, "size", humanize.IBytes(uint64(size)))
	return pf, nil
}

// extend makes the file size bytes long by writing its final byte; the
// filesystem backs the gap with zeros.
func extend(file *os.File, size int64) error {
	if _, err := file.WriteAt([]byte{0}, size-1); err != nil {
		return fmt.Errorf("failed to extend file: %w", err)
	}
	return nil
}

func (pf *File) PageSize() int  { return pf.pageSize }
func (pf *File) PageCount() int { return pf.pageCount }
func (pf *File) Path() string   { return pf.path }

// Size is the file length in bytes.
func (pf *File) Size() int64 {
	return int64(pf.pageCount) * int64(pf.pageSize)
}

// Grow appends n zeroed pages and returns the index of the first new page.
// The new pages are mapped on first access.
func (pf *File) Grow(n int) (int, error) {
	if pf.file == nil {
		return 0, ErrClosed
	}
	if n <= 0 {
		return pf.pageCount, nil
	}
	first := pf.pageCount
	newSize := int64(first+n) * int64(pf.pageSize)
	if err := extend(pf.file, newSize); err != nil {
		return 0, err
	}
	pf.pageCount += n
	pf.pages = append(pf.pages, make([][]byte, n)...)

	pf.log.Debug("grew file", "pages", n, "page_count", pf.pageCount, "size", humanize.IBytes(uint64(newSize)))
	return first, nil
}

// Page returns the mapped memory of page n, growing the file first when n
// lies past its end. The slice stays valid until Close.
func (pf *File) Page(n int) ([]byte, error) {
	if pf.file == nil {
		return nil, ErrClosed
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadPage, n)
	}
	if n >= pf.pageCount {
		if _, err := pf.Grow(n - pf.pageCount + 1); err != nil {
			return nil, err
		}
	}
	if pf.pages[n] != nil {
		return pf.pages[n], nil
	}
	return pf.mapPage(n)
}

func (pf *File) mapPage(n int) ([]byte, error) {
	data, err := unix.Mmap(int(pf.file.Fd()), int64(n)*int64(pf.pageSize), pf.pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap page %d failed: %w", n, err)
	}
	pf.pages[n] = data
	return data, nil
}

// walk visits the n bytes starting at (page, offset) one page-bounded chunk
// at a time. fn returns false to stop early.
func (pf *File) walk(page, offset, n int, fn func(chunk []byte) bool) error {
	if offset < 0 || offset >= pf.pageSize {
		return fmt.Errorf("%w: offset %d", ErrBadPage, offset)
	}
	for n > 0 {
		data, err := pf.Page(page)
		if err != nil {
			return err
		}
		chunk := data[offset:]
		if len(chunk) > n {
			chunk = chunk[:n]
		}
		if !fn(chunk) {
			return nil
		}
		n -= len(chunk)
		offset = 0
		page++
	}
	return nil
}

// Write copies data to the file starting at (page, offset).
func (pf *File) Write(page, offset int, data []byte) error {
	return pf.walk(page, offset, len(data), func(chunk []byte) bool {
		data = data[copy(chunk, data):]
		return true
	})
}

// Read fills buf from the file starting at (page, offset).
func (pf *File) Read(page, offset int, buf []byte) error {
	return pf.walk(page, offset, len(buf), func(chunk []byte) bool {
		buf = buf[copy(buf, chunk):]
		return true
	})
}

// EqualNullTerminated reports whether the NUL-terminated string stored at
// (page, offset) equals key. key must not contain NUL.
func (pf *File) EqualNullTerminated(page, offset int, key []byte) (bool, error) {
	want := make([]byte, len(key)+1)
	copy(want, key)

	equal := true
	err := pf.walk(page, offset, len(want), func(chunk []byte) bool {
		if !bytes.Equal(chunk, want[:len(chunk)]) {
			equal = false
			return false
		}
		want = want[len(chunk):]
		return true
	})
	if err != nil {
		return false, err
	}
	return equal, nil
}

// HashNullTerminated feeds the bytes stored at (page, offset) into h until a
// NUL byte, reading at most limit bytes. It returns the number of bytes
// hashed, not counting the terminator.
func (pf *File) HashNullTerminated(page, offset, limit int, h hash.Hash) (int, error) {
	hashed := 0
	found := false
	err := pf.walk(page, offset, limit, func(chunk []byte) bool {
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			h.Write(chunk[:i])
			hashed += i
			found = true
			return false
		}
		h.Write(chunk)
		hashed += len(chunk)
		return true
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %d bytes at page %d offset %d", ErrNoTerminator, limit, page, offset)
	}
	return hashed, nil
}

// SyncPage flushes page n to disk.
func (pf *File) SyncPage(n int) error {
	data, err := pf.Page(n)
	if err != nil {
		return err
	}
	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync page %d failed: %w", n, err)
	}
	return nil
}

// Sync flushes every mapped page and the file itself.
func (pf *File) Sync() error {
	if pf.file == nil {
		return ErrClosed
	}
	for i, data := range pf.pages {
		if data == nil {
			continue
		}
		if err := unix.Msync(data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("msync page %d failed: %w", i, err)
		}
	}
	return pf.file.Sync()
}

// Close unmaps every page and closes the file. Page slices must not be used
// afterwards.
func (pf *File) Close() error {
	if pf.file == nil {
		return nil
	}
	var errs []error
	for i, data := range pf.pages {
		if data == nil {
			continue
		}
		if err := unix.Munmap(data); err != nil {
			errs = append(errs, fmt.Errorf("munmap page %d failed: %w", i, err))
		}
		pf.pages[i] = nil
	}
	if err := pf.file.Close(); err != nil {
		errs = append(errs, err)
	}
	pf.file = nil
	return errors.Join(errs...)
}

// Remove deletes the backing file.
func (pf *File) Remove() error {
	return os.Remove(pf.path)
}
