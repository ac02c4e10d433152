package pagekv

import (
	"bytes"
	"fmt"

	"github.com/theflywheel/pagekv/internal/storage"
)

// A record is stored as key NUL value NUL in one allocated range.

func checkKey(key []byte) error {
	if len(key) == 0 || bytes.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func encodeRecord(key, value []byte) []byte {
	buf := make([]byte, 0, len(key)+len(value)+2)
	buf = append(buf, key...)
	buf = append(buf, 0)
	buf = append(buf, value...)
	return append(buf, 0)
}

// valuePointer addresses the value bytes of the record at rec, excluding the
// trailing terminator.
func valuePointer(rec storage.Pointer, keyLen, pageSize int) (storage.Pointer, error) {
	if int(rec.Size) < keyLen+2 {
		return storage.Pointer{}, fmt.Errorf("%w: record %v too short for a %d byte key", ErrCorrupt, rec, keyLen)
	}
	v := rec.Advance(int32(keyLen+1), int32(pageSize))
	v.Size--
	return v, nil
}
