// Package pagekv_test provides scale benchmarks for the store.
package pagekv_test

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dustin/go-humanize"

	"github.com/theflywheel/pagekv"
)

// openBench opens a fresh database in a temporary directory.
func openBench(b *testing.B, opts *pagekv.Options) *pagekv.DB {
	b.Helper()
	db, err := pagekv.Open(filepath.Join(b.TempDir(), "bench.kv"), opts)
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}
	b.Cleanup(func() { db.Close() })
	return db
}

// getMemoryUsage returns the current memory stats as a formatted string
func getMemoryUsage() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf("Memory: Alloc=%s Sys=%s", humanize.IBytes(m.Alloc), humanize.IBytes(m.Sys))
}

// generateAlphanumeric creates a random alphanumeric string of given length
func generateAlphanumeric(r *rand.Rand, length int) []byte {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[r.IntN(len(charset))]
	}
	return result
}

// reportStorage logs the file layout and reports bytes per stored pair.
func reportStorage(b *testing.B, db *pagekv.DB, numKeys int) {
	b.Helper()
	st, err := db.Stats()
	if err != nil {
		b.Fatalf("Failed to read stats: %v", err)
	}
	b.Logf("File: %s in %d pages, directory %d blocks (load %.2f), free %s in %d ranges",
		humanize.IBytes(uint64(st.FileSize)), st.PageCount,
		st.DirectoryBlocks, st.LoadFactor,
		humanize.IBytes(uint64(st.FreeBytes)), st.FreeSlots)
	b.ReportMetric(float64(st.FileSize)/float64(numKeys), "file_bytes/key")
}
