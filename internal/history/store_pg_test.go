package history

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

// openTestStore connects to CTRLUPGRADE_TEST_DATABASE_URL, skipping when unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CTRLUPGRADE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CTRLUPGRADE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := Open(ctx, url, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func findRun(t *testing.T, runs []RunSummary, id uuid.UUID) RunSummary {
	t.Helper()
	for _, r := range runs {
		if r.ID == id.String() {
			return r
		}
	}
	t.Fatalf("run %s not in recent runs", id)
	return RunSummary{}
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := Run{ID: uuid.New(), Server: "https://acc.example.net/acc", Mode: "upgrade", Host: HostInfo{Hostname: "ops-01"}}
	require.NoError(t, store.StartRun(ctx, run))
	t.Cleanup(func() {
		_, _ = store.Pool().Exec(context.Background(), `DELETE FROM upgrade_runs WHERE id = $1`, run.ID.String())
	})

	sess := upgrade.NewSession("3.2.0", []types.Controller{
		{ID: "a1", Version: "3.1.0", Available: true},
		{ID: "b1", Version: "3.1.0", Available: true},
		{ID: "c1", Version: "3.0.0", Available: true},
	})
	require.NoError(t, store.Prepared(ctx, sess))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []upgrade.Event{
		{Kind: upgrade.EventIssued, At: at, ControllerID: "a1", ControllerName: "web-01", TaskID: 42, Status: types.TaskPending},
		{Kind: upgrade.EventIssued, At: at, ControllerID: "b1", ControllerName: "web-04", TaskID: 43, Status: types.TaskPending},
		{Kind: upgrade.EventSubmissionFailed, At: at, ControllerID: "c1", ControllerName: "web-05", Error: "Controller busy 409"},
		{Kind: upgrade.EventCompleted, At: at.Add(time.Minute), ControllerID: "a1", ControllerName: "web-01", TaskID: 42, Status: types.TaskCompleted},
		{Kind: upgrade.EventFailed, At: at.Add(time.Minute), ControllerID: "b1", ControllerName: "web-04", TaskID: 43, Status: types.TaskFailed, Errors: json.RawMessage(`["disk full"]`)},
	}
	for _, ev := range events {
		require.NoError(t, store.Record(ctx, ev))
	}
	require.NoError(t, store.FinishRun(ctx, OutcomeFailed))

	runs, err := store.Recent(ctx, 50)
	require.NoError(t, err)
	got := findRun(t, runs, run.ID)

	assert.Equal(t, "3.2.0", got.TargetVersion)
	assert.Equal(t, 3, got.Outdated)
	assert.Equal(t, "ops-01", got.Hostname)
	assert.Equal(t, OutcomeFailed, got.Outcome)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, 2, got.Tasks, "submission failures carry no task id")
	assert.Equal(t, 1, got.Completed)
	assert.Equal(t, 2, got.Failed, "FAILED and SUBMISSION_FAILED both count")

	// The upsert keeps one row per controller with its latest state.
	var (
		rows   int
		status string
		errs   []byte
	)
	require.NoError(t, store.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM upgrade_tasks WHERE run_id = $1`, run.ID.String()).Scan(&rows))
	assert.Equal(t, 3, rows)
	require.NoError(t, store.Pool().QueryRow(ctx,
		`SELECT status, errors FROM upgrade_tasks WHERE run_id = $1 AND controller_id = 'b1'`, run.ID.String()).Scan(&status, &errs))
	assert.Equal(t, "FAILED", status)
	assert.JSONEq(t, `["disk full"]`, string(errs))
}

func TestStore_RecentListRunWithoutTasks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := Run{ID: uuid.New(), Server: "https://acc.example.net/acc", Mode: "list"}
	require.NoError(t, store.StartRun(ctx, run))
	t.Cleanup(func() {
		_, _ = store.Pool().Exec(context.Background(), `DELETE FROM upgrade_runs WHERE id = $1`, run.ID.String())
	})
	require.NoError(t, store.FinishRun(ctx, OutcomeSucceeded))

	runs, err := store.Recent(ctx, 50)
	require.NoError(t, err)
	got := findRun(t, runs, run.ID)

	assert.Equal(t, "list", got.Mode)
	assert.Zero(t, got.Tasks)
	assert.Zero(t, got.Completed)
	assert.Zero(t, got.Failed)
}
