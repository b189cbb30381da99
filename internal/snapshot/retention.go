package snapshot

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Retention prunes old snapshot files, keeping the newest Keep files.
type Retention struct {
	mu   sync.Mutex
	dir  string
	keep int

	stats RetentionStats
}

// RetentionStats holds retention statistics.
type RetentionStats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	Errors       int64
}

// NewRetention creates a retention policy for dir keeping the newest keep
// snapshot files. keep <= 0 disables pruning.
func NewRetention(dir string, keep int) *Retention {
	return &Retention{dir: dir, keep: keep}
}

// Run deletes all but the newest keep snapshot files. It returns the
// number of files deleted.
func (r *Retention) Run() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.LastRunTime = time.Now()

	if r.keep <= 0 {
		return 0, nil
	}

	files, err := List(r.dir)
	if err != nil {
		r.stats.Errors++
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	if len(files) <= r.keep {
		return 0, nil
	}

	deleted := 0
	for _, path := range files[:len(files)-r.keep] {
		info, err := os.Stat(path)
		if err == nil {
			r.stats.BytesFreed += info.Size()
		}
		if err := os.Remove(path); err != nil {
			r.stats.Errors++
			continue
		}
		deleted++
	}

	r.stats.FilesDeleted += int64(deleted)
	return deleted, nil
}

// Stats returns retention statistics.
func (r *Retention) Stats() RetentionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
