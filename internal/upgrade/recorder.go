package upgrade

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

// EventKind names what happened to a task.
type EventKind string

const (
	EventIssued           EventKind = "issued"
	EventSubmissionFailed EventKind = "submission_failed"
	EventCompleted        EventKind = "completed"
	EventFailed           EventKind = "failed"
)

// Event is a single task transition observed during a run.
type Event struct {
	Kind           EventKind        `json:"kind"`
	At             time.Time        `json:"at"`
	TargetVersion  string           `json:"target_version"`
	ControllerID   string           `json:"controller_id"`
	ControllerName string           `json:"controller_name,omitempty"`
	TaskID         types.TaskID     `json:"task_id,omitempty"`
	Status         types.TaskStatus `json:"status,omitempty"`
	Errors         json.RawMessage  `json:"errors,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Recorder observes a run. Errors are logged by the runner and never change
// the outcome.
type Recorder interface {
	// Prepared is called once the outdated set is known.
	Prepared(ctx context.Context, s *Session) error

	// Record is called for every task event.
	Record(ctx context.Context, ev Event) error
}

// Recorders fans out to several recorders.
type Recorders []Recorder

func (rs Recorders) Prepared(ctx context.Context, s *Session) error {
	var errs []error
	for _, r := range rs {
		if err := r.Prepared(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rs Recorders) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range rs {
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
