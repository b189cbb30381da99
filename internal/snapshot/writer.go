// Package snapshot persists the materialized aggregate table to Parquet.
//
// Snapshots are an export surface for analytics, not engine-state
// persistence: the engine always rebuilds its state from the input stream.
// Each file holds the complete set of live (bucket, category, high) rows at
// the moment it was written.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/highwater/internal/types"
)

// Options configures the snapshot writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default snapshot options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Row represents one live aggregate record in Parquet format. The exact
// decimal is carried as a string; the float column exists for SQL
// aggregation convenience and is explicitly approximate.
type Row struct {
	Bucket    int64   `parquet:"bucket"`
	Category  uint32  `parquet:"category"`
	High      string  `parquet:"high,zstd"`
	HighFloat float64 `parquet:"high_float"`
}

// ToRow converts an AggregateRecord to a Row.
func ToRow(a *types.AggregateRecord) Row {
	f, _ := a.High.Float64()
	return Row{
		Bucket:    a.Bucket,
		Category:  a.Category,
		High:      a.High.String(),
		HighFloat: f,
	}
}

// Writer writes table snapshots to a directory, one Parquet file per
// snapshot. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	dir  string
	opts Options

	filesWritten int64
	rowsWritten  int64
}

// NewWriter creates a snapshot writer rooted at dir.
func NewWriter(dir string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &Writer{dir: dir, opts: opts}, nil
}

// Write persists one snapshot of the table and returns the file path.
// The file name orders lexicographically by wall-clock time; the uuid
// suffix keeps two snapshots in the same second from colliding.
func (w *Writer) Write(records []types.AggregateRecord) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := fmt.Sprintf("%s-%s.parquet",
		time.Now().UTC().Format("20060102T150405"),
		uuid.NewString()[:8])
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	pw := parquet.NewGenericWriter[Row](f, parquet.Compression(getCompression(w.opts.Compression)))

	rows := make([]Row, len(records))
	for i := range records {
		rows[i] = ToRow(&records[i])
	}

	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			pw.Close()
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write rows: %w", err)
		}
	}

	if err := pw.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}

	w.filesWritten++
	w.rowsWritten += int64(len(rows))
	return path, nil
}

// Stats returns (files written, rows written).
func (w *Writer) Stats() (int64, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filesWritten, w.rowsWritten
}

// Dir returns the snapshot directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Read loads all rows from one snapshot file.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	pr := parquet.NewGenericReader[Row](f)
	defer pr.Close()

	rows := make([]Row, 0, pr.NumRows())
	buf := make([]Row, 256)
	for {
		n, err := pr.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			break
		}
	}

	return rows, nil
}

// List returns snapshot files in dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
