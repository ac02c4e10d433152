// Command pagekv inspects and edits a pagekv database file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/theflywheel/pagekv"
	"github.com/theflywheel/pagekv/internal/hashfn"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9B9B9B")).
			Width(18)
	valueStyle = lipgloss.NewStyle().
			Bold(true)
	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5A56E0")).
			Padding(0, 1)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F56"))
)

var errUsage = errors.New("usage: pagekv [flags] put|get|del|expand|stats|bench [args]")

// Configuration holds the global flags.
type Configuration struct {
	Path      string
	PageSize  int
	Hash      string
	CacheSize int64
	Verbose   bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var config Configuration
	fs := flag.NewFlagSet("pagekv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&config.Path, "db", "data.kv", "Database file path")
	fs.IntVar(&config.PageSize, "page-size", 0, "Page size for new files (0 = OS page size)")
	fs.StringVar(&config.Hash, "hash", hashfn.DJB2.String(), "Key hash for new files (djb2 or xxhash)")
	fs.Int64Var(&config.CacheSize, "cache", 0, "Value cache size in bytes")
	fs.BoolVar(&config.Verbose, "v", false, "Log database events to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}

	db, err := openDatabase(config, stderr)
	if err != nil {
		return err
	}
	defer db.Close()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "put":
		if len(cmdArgs) != 2 {
			return errors.New("usage: put <key> <value>")
		}
		return db.Put([]byte(cmdArgs[0]), []byte(cmdArgs[1]))
	case "get":
		if len(cmdArgs) != 1 {
			return errors.New("usage: get <key>")
		}
		value, found, err := db.Get([]byte(cmdArgs[0]))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %q not found", cmdArgs[0])
		}
		fmt.Fprintln(stdout, string(value))
		return nil
	case "del":
		if len(cmdArgs) != 1 {
			return errors.New("usage: del <key>")
		}
		removed, err := db.Delete([]byte(cmdArgs[0]))
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(stdout, "deleted %q\n", cmdArgs[0])
		} else {
			fmt.Fprintf(stdout, "key %q not present\n", cmdArgs[0])
		}
		return nil
	case "expand":
		blocks := 1
		if len(cmdArgs) > 0 {
			if blocks, err = strconv.Atoi(cmdArgs[0]); err != nil {
				return fmt.Errorf("invalid block count %q: %w", cmdArgs[0], err)
			}
		}
		if err := db.Expand(blocks); err != nil {
			return err
		}
		return printStats(stdout, db)
	case "stats":
		return printStats(stdout, db)
	case "bench":
		return runBench(cmdArgs, db, stdout, stderr)
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func openDatabase(config Configuration, stderr io.Writer) (*pagekv.DB, error) {
	alg, err := hashfn.Parse(config.Hash)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.DiscardHandler)
	if config.Verbose {
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return pagekv.Open(config.Path, &pagekv.Options{
		PageSize:  config.PageSize,
		Hash:      alg,
		CacheSize: config.CacheSize,
		Logger:    logger,
	})
}

func printStats(w io.Writer, db *pagekv.DB) error {
	st, err := db.Stats()
	if err != nil {
		return err
	}
	rows := [][2]string{
		{"File", db.Path()},
		{"Size", humanize.IBytes(uint64(st.FileSize))},
		{"Page size", humanize.IBytes(uint64(st.PageSize))},
		{"Pages", humanize.Comma(int64(st.PageCount))},
		{"Directory root", strconv.Itoa(int(st.DirectoryRoot))},
		{"Directory blocks", humanize.Comma(int64(st.DirectoryBlocks))},
		{"Directory slots", humanize.Comma(int64(st.DirectorySlots))},
		{"Occupied", humanize.Comma(int64(st.Occupied))},
		{"Tombstones", humanize.Comma(int64(st.Tombstones))},
		{"Items", humanize.Comma(st.Items)},
		{"Load factor", strconv.FormatFloat(st.LoadFactor, 'f', 4, 64)},
		{"Free blocks", humanize.Comma(int64(st.FreeBlocks))},
		{"Free ranges", humanize.Comma(int64(st.FreeSlots))},
		{"Free space", humanize.IBytes(uint64(st.FreeBytes))},
	}

	lines := []string{titleStyle.Render("pagekv stats")}
	for _, row := range rows {
		lines = append(lines, labelStyle.Render(row[0])+valueStyle.Render(row[1]))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
	return nil
}

// runBench inserts random alphanumeric pairs, reads them back and reports
// throughput.
func runBench(args []string, db *pagekv.DB, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	n := fs.Int("n", 10_000, "Number of pairs to insert")
	keySize := fs.Int("key-size", 16, "Key length")
	valueSize := fs.Int("value-size", 100, "Value length")
	maxLoad := fs.Float64("max-load", 0.7, "Expand the directory above this load factor (0 = never)")
	seed := fs.Uint64("seed", 1, "Random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n <= 0 || *keySize <= 0 || *valueSize < 0 {
		return errors.New("bench: sizes must be positive")
	}
	db.SetMaxLoadFactor(*maxLoad)

	r := rand.New(rand.NewPCG(*seed, *seed))
	keys := make([][]byte, *n)
	values := make([][]byte, *n)
	for i := range keys {
		keys[i] = generateAlphanumeric(r, *keySize)
		values[i] = generateAlphanumeric(r, *valueSize)
	}

	start := time.Now()
	for i := range keys {
		if err := db.Put(keys[i], values[i]); err != nil {
			return fmt.Errorf("insert %d: %w", i, err)
		}
	}
	writeTime := time.Since(start)

	start = time.Now()
	for i := range keys {
		_, found, err := db.Get(keys[i])
		if err != nil {
			return fmt.Errorf("lookup %d: %w", i, err)
		}
		if !found {
			return fmt.Errorf("lookup %d: key %q missing", i, keys[i])
		}
	}
	readTime := time.Since(start)

	rows := [][2]string{
		{"Pairs", humanize.Comma(int64(*n))},
		{"Insert", fmt.Sprintf("%v (%s/s)", writeTime.Round(time.Millisecond), humanize.Comma(int64(float64(*n)/writeTime.Seconds())))},
		{"Lookup", fmt.Sprintf("%v (%s/s)", readTime.Round(time.Millisecond), humanize.Comma(int64(float64(*n)/readTime.Seconds())))},
	}
	lines := []string{titleStyle.Render("pagekv bench")}
	for _, row := range rows {
		lines = append(lines, labelStyle.Render(row[0])+valueStyle.Render(row[1]))
	}
	fmt.Fprintln(stdout, boxStyle.Render(strings.Join(lines, "\n")))
	return printStats(stdout, db)
}

func generateAlphanumeric(r *rand.Rand, length int) []byte {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[r.IntN(len(charset))]
	}
	return result
}
