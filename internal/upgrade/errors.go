package upgrade

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingVersion means the server answered without a serverVersion.
	ErrMissingVersion = errors.New("current server version is not defined")

	// ErrEmptyInventory means the controller listing came back empty.
	ErrEmptyInventory = errors.New("no controllers found")

	// ErrNoOutdatedControllers means every controller already runs the
	// target version or is unavailable.
	ErrNoOutdatedControllers = errors.New("no out-of-date controller found")

	// ErrNoTasksIssued means every submission failed.
	ErrNoTasksIssued = errors.New("no upgrade tasks were created")

	// ErrUpgradeFailed means at least one task ended in FAILED.
	ErrUpgradeFailed = errors.New("one or more controller upgrades failed")
)

// SubmissionError is a failed upgrade request for a single controller.
type SubmissionError struct {
	ControllerID string
	Err          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("upgrade request for controller %s: %v", e.ControllerID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
