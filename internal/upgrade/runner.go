package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pilot-net/ctrl-upgrade/internal/client"
	"github.com/pilot-net/ctrl-upgrade/internal/report"
	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

// DefaultPollInterval separates two passes over the task list.
const DefaultPollInterval = 3 * time.Second

// Server is the part of the Command Center API a run needs.
// *client.API satisfies it.
type Server interface {
	ServerInfo(ctx context.Context) (*types.ServerInfo, error)
	ListControllers(ctx context.Context, pageSize int) ([]types.Controller, error)
	CreateUpgradeTask(ctx context.Context, controllerID string) (types.TaskID, error)
	GetUpgradeTask(ctx context.Context, id types.TaskID) (*types.UpgradeTask, error)
}

// Config contains runner configuration.
type Config struct {
	Server  Server
	Printer *report.Printer

	// Recorder observes the run (optional)
	Recorder Recorder

	// PageSize bounds the controller listing (default: 1000)
	PageSize int

	// PollInterval is the delay between polling passes (default: 3s)
	PollInterval time.Duration

	Logger *slog.Logger
}

// Runner drives a single upgrade run.
type Runner struct {
	server       Server
	printer      *report.Printer
	recorder     Recorder
	logger       *slog.Logger
	pageSize     int
	pollInterval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner.
func NewRunner(cfg Config) *Runner {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = client.DefaultPageSize
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = Recorders(nil)
	}

	return &Runner{
		server:       cfg.Server,
		printer:      cfg.Printer,
		recorder:     recorder,
		logger:       logger.With("component", "upgrade"),
		pageSize:     pageSize,
		pollInterval: interval,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Request describes what a run should do once the session is prepared.
type Request struct {
	// List prints the outdated set instead of upgrading.
	List bool

	// Selector picks the controllers to upgrade.
	Selector Selector

	// Wait is the polling budget. Zero skips polling.
	Wait time.Duration
}

// Run prepares a session and then either lists or upgrades.
func (r *Runner) Run(ctx context.Context, req Request) (*Session, error) {
	s, err := r.Prepare(ctx)
	if err != nil {
		return s, err
	}

	if req.List {
		return s, r.List(s)
	}

	if err := r.Issue(ctx, s, req.Selector); err != nil {
		return s, err
	}
	return s, r.Poll(ctx, s, req.Wait)
}

// Prepare resolves the target version and the outdated controller set.
func (r *Runner) Prepare(ctx context.Context) (*Session, error) {
	info, err := r.server.ServerInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving server version: %w", err)
	}
	version := strings.TrimSpace(info.ServerVersion)
	if version == "" {
		return nil, ErrMissingVersion
	}
	r.printer.CurrentVersion(version)

	inventory, err := r.server.ListControllers(ctx, r.pageSize)
	if errors.Is(err, client.ErrEmptyPage) {
		return nil, ErrEmptyInventory
	}
	if err != nil {
		return nil, fmt.Errorf("listing controllers: %w", err)
	}
	if len(inventory) == 0 {
		return nil, ErrEmptyInventory
	}

	s := NewSession(version, inventory)
	r.logger.Debug("inventory resolved",
		"target_version", version,
		"controllers", len(inventory),
		"outdated", len(s.Outdated))

	if err := r.recorder.Prepared(ctx, s); err != nil {
		r.logger.Warn("recording session failed", "error", err)
	}
	return s, nil
}

// List prints the outdated controllers.
func (r *Runner) List(s *Session) error {
	if len(s.Outdated) == 0 {
		return ErrNoOutdatedControllers
	}
	r.printer.OutdatedControllers(s.Outdated)
	return nil
}

// Issue submits one upgrade task per selected controller. A failed
// submission is reported and the next controller is tried. It returns
// ErrNoTasksIssued when nothing could be scheduled.
func (r *Runner) Issue(ctx context.Context, s *Session, sel Selector) error {
	if len(s.Outdated) == 0 {
		return ErrNoOutdatedControllers
	}

	type target struct{ id, name string }
	var targets []target
	if sel.All {
		for _, c := range s.Outdated {
			targets = append(targets, target{c.ID, c.ServerName})
		}
	} else {
		for _, id := range sel.IDs {
			name, known := s.controllerName(id)
			if !s.isOutdated(id) {
				r.printer.NotOutdated(id)
				r.logger.Warn("controller is not an available out-of-date controller",
					"controller_id", id, "in_inventory", known)
			}
			targets = append(targets, target{id, name})
		}
	}

	r.printer.UpgradeStarted()

	var failures []error
	for _, tg := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.printer.UpgradeRequested(tg.id, tg.name)
		taskID, err := r.server.CreateUpgradeTask(ctx, tg.id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			serr := &SubmissionError{ControllerID: tg.id, Err: err}
			failures = append(failures, serr)
			r.printer.SubmissionFailed(tg.id, tg.name, err)
			r.logger.Warn("upgrade request failed", "controller_id", tg.id, "error", err)
			r.record(ctx, Event{
				Kind:           EventSubmissionFailed,
				TargetVersion:  s.TargetVersion,
				ControllerID:   tg.id,
				ControllerName: tg.name,
				Error:          err.Error(),
			})
			continue
		}

		t := s.addTask(tg.id, tg.name, taskID)
		r.printer.TaskCreated(taskID)
		r.record(ctx, Event{
			Kind:           EventIssued,
			TargetVersion:  s.TargetVersion,
			ControllerID:   t.ControllerID,
			ControllerName: t.ControllerName,
			TaskID:         t.TaskID,
			Status:         t.Status,
		})
	}

	if len(s.Tasks) == 0 {
		r.printer.NoTasksCreated()
		return fmt.Errorf("%w: %w", ErrNoTasksIssued, errors.Join(failures...))
	}
	return nil
}

// Poll watches the issued tasks until all are terminal or wait elapses.
// Each terminal state is reported once. An expired budget is not an error;
// ErrUpgradeFailed is returned if any observed task failed.
func (r *Runner) Poll(ctx context.Context, s *Session, wait time.Duration) error {
	if wait <= 0 || len(s.Tasks) == 0 {
		return nil
	}

	r.printer.Waiting(wait, len(s.Tasks))
	deadline := r.now().Add(wait)

	for r.now().Before(deadline) {
		for _, t := range s.Tasks {
			if !r.now().Before(deadline) {
				break
			}

			status, err := r.server.GetUpgradeTask(ctx, t.TaskID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.printer.PollFailed(t.TaskID, err)
				r.logger.Warn("task status request failed", "task_id", t.TaskID, "error", err)
				continue
			}

			r.observe(ctx, s, t, status)
			if s.AllTerminal() {
				r.printer.Completed()
				return r.outcome(s)
			}
		}

		delay := r.pollInterval
		if remaining := deadline.Sub(r.now()); remaining < delay {
			delay = remaining
		}
		if delay <= 0 {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	r.logger.Debug("wait budget expired", "pending", len(s.Pending()))
	return r.outcome(s)
}

func (r *Runner) observe(ctx context.Context, s *Session, t *Task, status *types.UpgradeTask) {
	switch status.Status {
	case types.TaskCompleted, types.TaskFailed:
	default:
		r.logger.Debug("task still running", "task_id", t.TaskID, "status", status.Status)
		return
	}

	if t.Status.IsTerminal() {
		return
	}
	t.Status = status.Status
	t.Errors = status.UpgradeErrors
	if !s.markReported(t.TaskID) {
		return
	}

	ev := Event{
		TargetVersion:  s.TargetVersion,
		ControllerID:   t.ControllerID,
		ControllerName: t.ControllerName,
		TaskID:         t.TaskID,
		Status:         t.Status,
	}
	if t.Status == types.TaskCompleted {
		ev.Kind = EventCompleted
		r.printer.TaskCompleted(t.ControllerID, t.ControllerName)
	} else {
		ev.Kind = EventFailed
		rendered := renderUpgradeErrors(t.Errors)
		ev.Errors = []byte(rendered)
		r.printer.TaskFailed(t.ControllerID, t.ControllerName, rendered)
	}
	r.record(ctx, ev)
}

func (r *Runner) outcome(s *Session) error {
	if failed := s.Failed(); len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d tasks", ErrUpgradeFailed, len(failed), len(s.Tasks))
	}
	return nil
}

func (r *Runner) record(ctx context.Context, ev Event) {
	ev.At = r.now().UTC()
	if err := r.recorder.Record(ctx, ev); err != nil {
		r.logger.Warn("recording event failed", "kind", ev.Kind, "task_id", ev.TaskID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
