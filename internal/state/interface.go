package state

import (
	"io"
	"time"
)

// HistoryStore persists and lists runs.
type HistoryStore interface {
	io.Closer
	RecordRun(r *Run) error
	GetRun(id string) (*Run, error)
	ListRuns(filter RunFilter) ([]Run, error)
	PurgeRuns(olderThan time.Duration) (int64, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

var (
	_ HistoryStore = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
)
