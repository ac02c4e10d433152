package pagekv

import (
	"bytes"

	"github.com/dgraph-io/ristretto/v2"
)

// valueCache is a read-through cache of decoded values. A nil *valueCache
// is a disabled cache.
type valueCache struct {
	c *ristretto.Cache[string, []byte]
}

func newValueCache(maxBytes int64) (*valueCache, error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxBytes/8, 1<<10),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &valueCache{c: c}, nil
}

func (vc *valueCache) get(key []byte) ([]byte, bool) {
	if vc == nil {
		return nil, false
	}
	v, ok := vc.c.Get(string(key))
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

func (vc *valueCache) set(key, value []byte) {
	if vc == nil {
		return
	}
	vc.c.Set(string(key), bytes.Clone(value), int64(len(key)+len(value)+1))
	// sets are buffered; flush so a later del cannot be overtaken
	vc.c.Wait()
}

func (vc *valueCache) del(key []byte) {
	if vc == nil {
		return
	}
	vc.c.Del(string(key))
}

func (vc *valueCache) close() {
	if vc == nil {
		return
	}
	vc.c.Close()
}
