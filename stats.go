package pagekv

// Stats is a snapshot of a database's layout.
type Stats struct {
	PageSize  int
	PageCount int
	FileSize  int64

	DirectoryRoot   int32
	DirectoryBlocks int
	DirectorySlots  int
	Occupied        int
	Tombstones      int

	// Items is the persisted item counter. Overwrites increment it, so it
	// can exceed Occupied.
	Items      int64
	LoadFactor float64

	FreeBlocks int
	FreeSlots  int
	FreeBytes  int64
}

// Stats walks the directory and free list and reports their sizes.
func (db *DB) Stats() (Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return Stats{}, ErrClosed
	}

	dst, err := db.dir.Stats()
	if err != nil {
		return Stats{}, err
	}
	fst, err := db.alloc.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		PageSize:        db.pf.PageSize(),
		PageCount:       db.pf.PageCount(),
		FileSize:        db.pf.Size(),
		DirectoryRoot:   db.hdr.HashRoot(),
		DirectoryBlocks: dst.Blocks,
		DirectorySlots:  db.dir.Size(),
		Occupied:        dst.Occupied,
		Tombstones:      dst.Tombstones,
		Items:           db.hdr.items(),
		LoadFactor:      db.loadFactor(),
		FreeBlocks:      fst.Blocks,
		FreeSlots:       fst.Slots,
		FreeBytes:       fst.FreeBytes,
	}, nil
}
