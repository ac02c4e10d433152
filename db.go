package pagekv

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/theflywheel/pagekv/internal/directory"
	"github.com/theflywheel/pagekv/internal/freelist"
	"github.com/theflywheel/pagekv/internal/pagefile"
	"github.com/theflywheel/pagekv/internal/storage"
)

// DB is an open database file. All methods are safe for concurrent use by
// goroutines of one process; sharing a file between processes is not
// supported.
type DB struct {
	mu      sync.Mutex
	pf      *pagefile.File
	hdr     header
	alloc   *freelist.Allocator
	dir     *directory.Directory
	cache   *valueCache
	maxLoad float64
	log     *slog.Logger
	closed  bool
}

// Open opens the database at path, creating and initializing it when the
// file is missing or lacks the magic marker. A nil opts selects defaults.
func Open(path string, opts *Options) (*DB, error) {
	o := opts.withDefaults()
	if err := o.validate(); err != nil {
		return nil, err
	}
	logger := o.Logger.With("component", "pagekv")

	pageSize := o.PageSize
	existing, err := peekHeader(path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		stored := int(existing.pageSize())
		if stored <= 0 || stored%pagefile.OSPageSize() != 0 {
			return nil, fmt.Errorf("%w: stored page size %d", ErrCorrupt, stored)
		}
		if stored != pageSize {
			logger.Warn("using stored page size", "path", path, "stored", stored, "requested", pageSize)
			pageSize = stored
		}
	}

	pf, err := pagefile.Open(path, pageSize, o.Logger.With("component", "pagefile"))
	if err != nil {
		return nil, err
	}
	page0, err := pf.Page(0)
	if err != nil {
		pf.Close()
		return nil, err
	}

	db := &DB{
		pf:      pf,
		hdr:     header(page0),
		maxLoad: o.MaxLoadFactor,
		log:     logger,
	}

	if db.hdr.valid() {
		if err := db.hdr.check(pf.PageSize(), pf.PageCount()); err != nil {
			pf.Close()
			return nil, err
		}
		if db.hdr.hashAlg() != o.Hash {
			logger.Debug("using stored hash algorithm", "stored", db.hdr.hashAlg(), "requested", o.Hash)
		}
	} else if err := db.initialize(o); err != nil {
		pf.Close()
		return nil, fmt.Errorf("failed to initialize %s: %w", path, err)
	}

	db.alloc = freelist.New(pf, db.hdr.freeRoot(), o.Logger.With("component", "freelist"))
	db.dir = directory.New(pf, db.hdr, db.hdr.hashAlg(), o.Logger.With("component", "directory"))

	if db.cache, err = newValueCache(o.CacheSize); err != nil {
		pf.Close()
		return nil, fmt.Errorf("failed to create value cache: %w", err)
	}

	logger.Info("opened database",
		"path", path,
		"page_size", pf.PageSize(),
		"pages", pf.PageCount(),
		"items", db.hdr.items(),
		"hash", db.hdr.hashAlg(),
	)
	return db, nil
}

// initialize lays out a fresh database: the directory root block, the
// free-list root block and an initial storage region. The magic is written
// last so an interrupted initialization is redone on the next open.
func (db *DB) initialize(o Options) error {
	hashRoot, err := directory.MakeChain(db.pf, 1)
	if err != nil {
		return err
	}
	first, err := db.pf.Grow(1)
	if err != nil {
		return err
	}
	freeRoot := int32(first)
	if err := freelist.Format(db.pf, freeRoot); err != nil {
		return err
	}

	db.hdr.SetHashRoot(hashRoot)
	db.hdr.setFreeRoot(freeRoot)
	db.hdr.setPageSize(int32(db.pf.PageSize()))
	db.hdr.SetHashBlocks(1)
	db.hdr.setItems(0)
	db.hdr.setHashAlg(o.Hash)

	alloc := freelist.New(db.pf, freeRoot, o.Logger.With("component", "freelist"))
	if err := alloc.Reserve(db.pf.PageSize()); err != nil {
		return err
	}
	db.hdr.setMagic()

	db.log.Info("initialized database", "path", db.pf.Path(), "page_size", db.pf.PageSize(), "hash", o.Hash)
	return nil
}

// Put stores value under key, replacing any previous value. The range that
// held the previous record is returned to the free list.
func (db *DB) Put(key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	if err := db.put(key, value); err != nil {
		return err
	}
	db.cache.del(key)

	if db.maxLoad > 0 && db.loadFactor() > db.maxLoad {
		blocks := int(db.hdr.HashBlocks())
		db.log.Debug("load factor exceeded", "load_factor", db.loadFactor(), "max", db.maxLoad)
		if _, err := db.dir.Expand(blocks, db.alloc); err != nil {
			return fmt.Errorf("auto-expand: %w", err)
		}
	}
	return nil
}

func (db *DB) put(key, value []byte) error {
	rec := encodeRecord(key, value)
	ptr, err := db.alloc.Allocate(len(rec))
	if err != nil {
		return err
	}
	if err := db.pf.Write(int(ptr.Page), int(ptr.Offset), rec); err != nil {
		return errors.Join(err, db.alloc.Deallocate(ptr))
	}

	loc, prev, ok, err := db.dir.Claim(key)
	if err == nil && !ok {
		err = ErrDirectoryFull
	}
	if err != nil {
		return errors.Join(err, db.alloc.Deallocate(ptr))
	}

	if prev.Kind == storage.Occupied {
		if err := db.alloc.Deallocate(prev.Ptr); err != nil {
			return err
		}
	}
	if err := db.dir.Write(loc, storage.Hold(ptr)); err != nil {
		return err
	}
	// replacements count too: items is puts minus deletes
	db.hdr.addItems(1)
	return nil
}

// Get returns a copy of the value stored under key. found is false when the
// key is absent.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, false, ErrClosed
	}

	if v, ok := db.cache.get(key); ok {
		return v, true, nil
	}

	_, rec, found, err := db.dir.Lookup(key)
	if err != nil || !found {
		return nil, false, err
	}
	vp, err := valuePointer(rec, len(key), db.pf.PageSize())
	if err != nil {
		return nil, false, err
	}
	value = make([]byte, vp.Size)
	if err := db.pf.Read(int(vp.Page), int(vp.Offset), value); err != nil {
		return nil, false, err
	}

	db.cache.set(key, value)
	return value, true, nil
}

// Delete removes key. It reports whether the key was present.
func (db *DB) Delete(key []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, ErrClosed
	}

	loc, rec, found, err := db.dir.Lookup(key)
	if err != nil || !found {
		return false, err
	}
	if err := db.alloc.Deallocate(rec); err != nil {
		return false, err
	}
	if err := db.dir.Write(loc, storage.Slot{Kind: storage.Tombstone}); err != nil {
		return false, err
	}
	db.hdr.addItems(-1)
	db.cache.del(key)
	return true, nil
}

// Expand grows the directory by extra blocks and rehashes every record into
// the new chain. Expand(0) rebuilds the directory at its current size, which
// clears tombstones.
func (db *DB) Expand(extra int) error {
	if extra < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidExpansion, extra)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	_, err := db.dir.Expand(extra, db.alloc)
	return err
}

// LoadFactor is the item counter divided by the number of directory slots.
func (db *DB) LoadFactor() float64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0
	}
	return db.loadFactor()
}

func (db *DB) loadFactor() float64 {
	return float64(db.hdr.items()) / float64(db.dir.Size())
}

// SetMaxLoadFactor changes the automatic expansion threshold. Zero
// disables automatic expansion.
func (db *DB) SetMaxLoadFactor(f float64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.maxLoad = max(f, 0)
}

// Sync flushes every mapped page to disk.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.pf.Sync()
}

// SyncPage flushes a single page to disk.
func (db *DB) SyncPage(n int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.pf.SyncPage(n)
}

// Path returns the backing file path.
func (db *DB) Path() string { return db.pf.Path() }

// Close unmaps the file and closes it. Closing twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.close()
}

func (db *DB) close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	db.cache.close()
	if err := db.pf.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", db.pf.Path(), err)
	}
	db.log.Info("closed database", "path", db.pf.Path())
	return nil
}

// CloseAndRemove closes the database and deletes its file.
func (db *DB) CloseAndRemove() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.close(); err != nil {
		return err
	}
	return db.pf.Remove()
}
