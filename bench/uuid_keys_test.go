// This file contains benchmarks that test the performance with UUID keys
// and variable-length string values, representing common real-world usage
// patterns.
package pagekv_test

import (
	"bytes"
	"encoding/hex"
	"math/rand/v2"
	"runtime"
	"testing"
	"time"

	"github.com/theflywheel/pagekv"
)

// generateUUID creates a random version 4 UUID in hex form
func generateUUID(r *rand.Rand) []byte {
	uuid := make([]byte, 16)
	for i := range uuid {
		uuid[i] = byte(r.Uint32())
	}
	uuid[6] = (uuid[6] & 0x0F) | 0x40
	uuid[8] = (uuid[8] & 0x3F) | 0x80
	out := make([]byte, hex.EncodedLen(len(uuid)))
	hex.Encode(out, uuid)
	return out
}

// BenchmarkUUIDKeys inserts UUID keys with alphanumeric values of 20 to 200
// bytes, then reads every pair back and validates it.
func BenchmarkUUIDKeys(b *testing.B) {
	b.N = 1
	b.StopTimer()

	numKeys := 100_000
	reportInterval := 10_000
	if testing.Short() {
		numKeys = 10_000
		reportInterval = 2_000
	}

	r := rand.New(rand.NewPCG(1, 2))
	keys := make([][]byte, numKeys)
	values := make([][]byte, numKeys)
	for i := range keys {
		keys[i] = generateUUID(r)
		values[i] = generateAlphanumeric(r, 20+r.IntN(181))
	}

	setupStart := time.Now()
	db := openBench(b, &pagekv.Options{MaxLoadFactor: 0.7})
	b.Logf("Setup time: %v", time.Since(setupStart))
	runtime.GC()

	b.StartTimer()
	insertStart := time.Now()
	for i := range keys {
		if err := db.Put(keys[i], values[i]); err != nil {
			b.Fatalf("Failed to insert key %d: %v", i, err)
		}
		if (i+1)%reportInterval == 0 {
			b.StopTimer()
			b.Logf("Inserted %d keys... %s", i+1, getMemoryUsage())
			b.StartTimer()
		}
	}
	b.StopTimer()
	insertTime := time.Since(insertStart)
	b.ReportMetric(float64(numKeys)/insertTime.Seconds(), "inserts/sec")

	b.StartTimer()
	readStart := time.Now()
	for i := range keys {
		if _, found, err := db.Get(keys[i]); err != nil || !found {
			b.Fatalf("Key %d not found: %v", i, err)
		}
	}
	b.StopTimer()
	b.ReportMetric(float64(numKeys)/time.Since(readStart).Seconds(), "lookups/sec")

	validated := 0
	for i := range keys {
		value, _, err := db.Get(keys[i])
		if err != nil {
			b.Fatalf("Failed to read key %d: %v", i, err)
		}
		if !bytes.Equal(value, values[i]) {
			b.Errorf("Value mismatch for key %d", i)
			continue
		}
		validated++
	}
	b.Logf("Validated %d/%d pairs", validated, numKeys)

	reportStorage(b, db, numKeys)
}
