package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quara-dev/repo/internal/report"
	"github.com/quara-dev/repo/pkg/models"
)

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded invocation of a verb.
type Run struct {
	ID              string
	Action          string
	StartedAt       time.Time
	Duration        time.Duration
	OK              bool
	Passed          int
	Failed          int
	Errored         int
	Skipped         int
	DiscoveryErrors int
	// Results is filled by GetRun only.
	Results []PackageRun
}

// PackageRun is the recorded outcome of one package in a run.
type PackageRun struct {
	Package  string
	Status   models.Status
	ExitCode int
	Step     string
	Duration time.Duration
	Error    string
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Action string
	// Package keeps runs that touched the named package.
	Package string
	// Limit caps the number of runs. Zero means no limit.
	Limit int
}

// RunFromSummary converts a run summary to its history record.
func RunFromSummary(s *report.Summary) *Run {
	r := &Run{
		ID:              s.RunID,
		Action:          s.Action,
		StartedAt:       s.Started,
		Duration:        s.Duration,
		OK:              s.OK(),
		Passed:          s.Counts[models.StatusPassed],
		Failed:          s.Counts[models.StatusFailed],
		Errored:         s.Counts[models.StatusError],
		Skipped:         s.Counts[models.StatusSkipped],
		DiscoveryErrors: len(s.DiscoveryErrors),
	}
	for _, res := range s.Results {
		r.Results = append(r.Results, PackageRun{
			Package:  res.Name,
			Status:   res.Status,
			ExitCode: res.ExitCode,
			Step:     res.Step,
			Duration: res.Duration,
			Error:    res.Error,
		})
	}
	return r
}

// RecordRun stores a run and its package results.
func (db *DB) RecordRun(r *Run) error {
	if r.ID == "" {
		return errors.New("record run: empty run ID")
	}
	started := r.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, action, started_at, duration_ms, ok, passed, failed, errored, skipped, discovery_errors)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.Action, formatTime(started), r.Duration.Milliseconds(), r.OK,
			r.Passed, r.Failed, r.Errored, r.Skipped, r.DiscoveryErrors)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		for i, p := range r.Results {
			_, err := tx.Exec(`
				INSERT INTO run_results (run_id, position, package, status, exit_code, step, duration_ms, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, r.ID, i, p.Package, string(p.Status), p.ExitCode, p.Step, p.Duration.Milliseconds(), p.Error)
			if err != nil {
				return fmt.Errorf("record result of %s: %w", p.Package, err)
			}
		}
		return nil
	})
}

const runColumns = `id, action, started_at, duration_ms, ok, passed, failed, errored, skipped, discovery_errors`

// GetRun retrieves a run with its package results.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := db.Query(`
		SELECT package, status, exit_code, COALESCE(step, ''), duration_ms, COALESCE(error, '')
		FROM run_results WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get run results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p PackageRun
		var ms int64
		if err := rows.Scan(&p.Package, &p.Status, &p.ExitCode, &p.Step, &ms, &p.Error); err != nil {
			return nil, fmt.Errorf("scan run result: %w", err)
		}
		p.Duration = time.Duration(ms) * time.Millisecond
		r.Results = append(r.Results, p)
	}
	return r, rows.Err()
}

// ListRuns returns runs, most recent first.
func (db *DB) ListRuns(filter RunFilter) ([]Run, error) {
	var where []string
	var args []any
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Package != "" {
		where = append(where, "id IN (SELECT run_id FROM run_results WHERE package = ?)")
		args = append(args, filter.Package)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// PurgeRuns deletes runs older than the specified duration.
// Returns the number of runs deleted.
func (db *DB) PurgeRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var started string
	var ms int64
	if err := s.Scan(&r.ID, &r.Action, &started, &ms, &r.OK,
		&r.Passed, &r.Failed, &r.Errored, &r.Skipped, &r.DiscoveryErrors); err != nil {
		return nil, err
	}
	t, err := parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("parse start time %q: %w", started, err)
	}
	r.StartedAt = t
	r.Duration = time.Duration(ms) * time.Millisecond
	return &r, nil
}
