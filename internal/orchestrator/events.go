// Package orchestrator runs an action against a set of packages.
package orchestrator

import (
	"time"

	"github.com/quara-dev/repo/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventPackageStarted indicates the first step of a package is about to run.
	EventPackageStarted EventType = "started"
	// EventPackageFinished indicates a package has a final result.
	EventPackageFinished EventType = "finished"
	// EventPackageSkipped indicates a package was never started.
	EventPackageSkipped EventType = "skipped"
)

// Event represents progress emitted by the orchestrator.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run the event belongs to.
	RunID string
	// Package is the package the event is about.
	Package *models.Package
	// Action is the verb being run.
	Action string
	// Status is set on finished and skipped events.
	Status models.Status
	// Duration is set on finished events.
	Duration time.Duration
	// Error contains error details for failures.
	Error string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
