package commands

import (
	"errors"

	"github.com/pilot-net/ctrl-upgrade/internal/client"
	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
)

// Exit codes. Each failure kind has its own code so scripts can branch on it.
const (
	ExitOK                   = 0
	ExitError                = 1
	ExitServerError          = 2
	ExitMissingVersion       = 3
	ExitEmptyInventory       = 4
	ExitNoOutdatedController = 5
	ExitNoTasksIssued        = 6
	ExitRequestTimeout       = 7
	ExitUpgradeFailed        = 8
)

// ExitCode maps a run error to the process exit code.
func ExitCode(err error) int {
	var serr *client.ServerError
	switch {
	case err == nil:
		return ExitOK
	// Checked first: it wraps the per-controller server errors.
	case errors.Is(err, upgrade.ErrNoTasksIssued):
		return ExitNoTasksIssued
	case errors.Is(err, upgrade.ErrUpgradeFailed):
		return ExitUpgradeFailed
	case errors.Is(err, upgrade.ErrMissingVersion):
		return ExitMissingVersion
	case errors.Is(err, upgrade.ErrEmptyInventory):
		return ExitEmptyInventory
	case errors.Is(err, upgrade.ErrNoOutdatedControllers):
		return ExitNoOutdatedController
	case errors.Is(err, client.ErrRequestTimeout):
		return ExitRequestTimeout
	case errors.As(err, &serr):
		return ExitServerError
	default:
		return ExitError
	}
}
