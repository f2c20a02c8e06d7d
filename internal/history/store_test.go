package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

func TestTaskRowFor_Issued(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	row := taskRowFor(upgrade.Event{
		Kind:           upgrade.EventIssued,
		At:             at,
		ControllerID:   "a1",
		ControllerName: "web-01",
		TaskID:         42,
		Status:         types.TaskPending,
	})

	assert.Equal(t, "a1", row.controllerID)
	assert.Equal(t, "web-01", row.controllerName)
	require.NotNil(t, row.taskID)
	assert.Equal(t, int64(42), *row.taskID)
	assert.Equal(t, "PENDING", row.status)
	assert.Nil(t, row.errors)
	assert.Equal(t, at, row.updatedAt)
}

func TestTaskRowFor_SubmissionFailed(t *testing.T) {
	row := taskRowFor(upgrade.Event{
		Kind:         upgrade.EventSubmissionFailed,
		ControllerID: "a1",
		Error:        "Controller busy 409",
	})

	assert.Nil(t, row.taskID, "no task exists for a refused submission")
	assert.Equal(t, StatusSubmissionFailed, row.status)
	assert.Equal(t, "Controller busy 409", row.err)
	assert.False(t, row.updatedAt.IsZero())
}

func TestTaskRowFor_FailedKeepsErrors(t *testing.T) {
	row := taskRowFor(upgrade.Event{
		Kind:   upgrade.EventFailed,
		TaskID: 7,
		Status: types.TaskFailed,
		Errors: []byte(`["disk full"]`),
	})
	assert.JSONEq(t, `["disk full"]`, string(row.errors))

	row = taskRowFor(upgrade.Event{Kind: upgrade.EventFailed, Errors: []byte(`{broken`)})
	assert.Nil(t, row.errors)
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, OutcomeSucceeded, OutcomeFor(nil))
	assert.Equal(t, OutcomeFailed, OutcomeFor(upgrade.ErrUpgradeFailed))
	assert.Equal(t, OutcomeAborted, OutcomeFor(fmt.Errorf("polling: %w", context.Canceled)))
	assert.Equal(t, OutcomeFailed, OutcomeFor(errors.New("boom")))
}

func TestRecorderRequiresRun(t *testing.T) {
	s := &Store{}
	assert.ErrorIs(t, s.Record(context.Background(), upgrade.Event{}), errNoRun)
	assert.ErrorIs(t, s.Prepared(context.Background(), &upgrade.Session{}), errNoRun)
	assert.ErrorIs(t, s.FinishRun(context.Background(), OutcomeSucceeded), errNoRun)
}

func TestCurrentHost(t *testing.T) {
	h := CurrentHost(context.Background())
	assert.NotEmpty(t, h.Hostname)
	assert.NotEmpty(t, h.OS)
}

func TestJoinNonEmpty(t *testing.T) {
	assert.Equal(t, "ubuntu 22.04", joinNonEmpty("ubuntu", "22.04"))
	assert.Equal(t, "ubuntu", joinNonEmpty("ubuntu", ""))
	assert.Equal(t, "22.04", joinNonEmpty("", "22.04"))
}

var _ upgrade.Recorder = (*Store)(nil)
