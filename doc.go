/*
Package pagekv provides an embeddable key-value store kept in a single
memory-mapped file.

Keys are non-empty byte strings without NUL bytes; values are arbitrary
byte strings of any length. Both survive closing and reopening the file.

Basic usage:

	import "github.com/theflywheel/pagekv"

	db, err := pagekv.Open("data.kv", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Put([]byte("abc"), []byte("xyz")); err != nil {
		log.Fatal(err)
	}

	value, found, err := db.Get([]byte("abc"))
	if err != nil {
		log.Fatal(err)
	}
	if found {
		fmt.Println("Value:", string(value))
	}

Features:

  - Variable-length keys and values in one file, no fixed record sizes
  - Pages mapped on demand; the file grows as data is written
  - Freed space is recycled first fit before the file grows
  - Hash directory with tombstone deletes and explicit or automatic expansion
  - Optional read-through value cache
  - Thread-safe within one process

Implementation Details:

The file is an array of fixed-size pages. Page 0 holds the header: a magic
marker, the roots of the directory and free-list chains, the page size, the
directory block count, the item counter and the hash algorithm.

Each record is stored as key NUL value NUL in a byte range handed out by the
free list, a chain of pages listing unused ranges. When no range fits, the
file grows by enough pages for the request plus one and the new region is
registered as free.

The directory is a chain of pages holding 12-byte slots that point at
records. A key's hash picks a home slot. Lookups probe the home block with
wrap-around, then scan the whole chain from its first block. Deleting a key
leaves a tombstone so later probes keep going past it, and a later insert of
an absent key reuses the first tombstone on its probe path.

Expand builds a larger chain, rehashes every record by reading its key back
from the file, switches the header to the new chain and hands the old pages
to the free list. Tombstones are dropped along the way.
*/
package pagekv
