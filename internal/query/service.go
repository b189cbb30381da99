// Package query provides read access to the aggregation output: the live
// materialized table for point lookups and DuckDB over snapshot Parquet
// files for analytical queries.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
	hwerrors "github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/sink"
	"github.com/xtxerr/highwater/internal/snapshot"
	"github.com/xtxerr/highwater/internal/types"
)

// Service answers queries against the materialized table and the snapshot
// directory. Point lookups hit the live table; range and ad-hoc queries go
// through DuckDB over the Parquet snapshots.
type Service struct {
	mu sync.RWMutex

	snapshotDir string
	db          *sql.DB
	table       *sink.TableSink

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// RangeQuery defines parameters for querying aggregates out of snapshots.
type RangeQuery struct {
	// StartBucket and EndBucket bound the bucket start time, inclusive.
	StartBucket int64
	EndBucket   int64

	// Category restricts the query to one category when HasCategory is
	// set.
	Category    uint32
	HasCategory bool

	Limit int
}

// AggregateRow is one row of an analytical query result. High carries the
// exact decimal recovered from the snapshot's string column.
type AggregateRow struct {
	Bucket   int64
	Category uint32
	High     decimal.Decimal
}

// New creates a query service over the given snapshot directory. The table
// may be nil; point lookups then report every group as empty.
func New(snapshotDir string, table *sink.TableSink) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	return &Service{
		snapshotDir: snapshotDir,
		db:          db,
		table:       table,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetHigh returns the live high for a group from the materialized table.
// A group with no live record returns ErrEmptyGroup.
func (s *Service) GetHigh(key types.GroupKey) (decimal.Decimal, error) {
	if s.table == nil {
		return decimal.Decimal{}, hwerrors.Wrapf(hwerrors.ErrEmptyGroup, "group %s", key)
	}
	high, ok := s.table.Get(key)
	if !ok {
		return decimal.Decimal{}, hwerrors.Wrapf(hwerrors.ErrEmptyGroup, "group %s", key)
	}
	return high, nil
}

// QueryRange queries the latest snapshot for aggregates in a bucket range.
func (s *Service) QueryRange(ctx context.Context, q RangeQuery) ([]AggregateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.latestSnapshot()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	query := `
		SELECT bucket, category, high
		FROM read_parquet($1)
		WHERE bucket >= $2
		  AND bucket <= $3
	`
	args := []any{path, q.StartBucket, q.EndBucket}
	if q.HasCategory {
		query += "  AND category = $4\n"
		args = append(args, q.Category)
	}
	query += "ORDER BY bucket, category"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	results, err := s.scanAggregates(rows)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// TopHighs returns the n highest aggregate records in the latest snapshot,
// ordered descending by the float projection of the price.
func (s *Service) TopHighs(ctx context.Context, n int) ([]AggregateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.latestSnapshot()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	query := `
		SELECT bucket, category, high
		FROM read_parquet($1)
		ORDER BY high_float DESC, bucket, category
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, path, n)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	results, err := s.scanAggregates(rows)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// ExecuteSQL executes a raw SQL query using DuckDB. The snapshot directory
// glob is available as a prepared macro for ad-hoc queries over all files.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any

	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any)
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// SnapshotGlob returns the pattern ad-hoc SQL can pass to read_parquet.
func (s *Service) SnapshotGlob() string {
	return filepath.Join(s.snapshotDir, "*.parquet")
}

// Stats returns a copy of the query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// latestSnapshot returns the newest snapshot file, or "" when none exist.
func (s *Service) latestSnapshot() (string, error) {
	files, err := snapshot.List(s.snapshotDir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[len(files)-1], nil
}

// scanAggregates scans rows into AggregateRow slice, parsing the exact
// decimal back out of the string column.
func (s *Service) scanAggregates(rows *sql.Rows) ([]AggregateRow, error) {
	var results []AggregateRow

	for rows.Next() {
		var (
			r    AggregateRow
			high string
		)
		if err := rows.Scan(&r.Bucket, &r.Category, &high); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		d, err := decimal.NewFromString(high)
		if err != nil {
			return nil, fmt.Errorf("parse high %q: %w", high, err)
		}
		r.High = d
		results = append(results, r)
	}

	return results, rows.Err()
}
