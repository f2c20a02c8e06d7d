package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

type published struct {
	channel string
	data    []byte
}

type stored struct {
	key  string
	data []byte
	ttl  time.Duration
}

type mockRedis struct {
	published  []published
	stored     []stored
	publishErr error
	closed     bool
}

func (m *mockRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if m.publishErr != nil {
		return redis.NewIntResult(0, m.publishErr)
	}
	m.published = append(m.published, published{channel, message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (m *mockRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.stored = append(m.stored, stored{key, value.([]byte), expiration})
	return redis.NewStatusResult("OK", nil)
}

func (m *mockRedis) Close() error {
	m.closed = true
	return nil
}

func newTestPublisher(m *mockRedis) *Publisher {
	return newPublisher(m, Config{
		RunID:  "run-1",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestRecord_PublishesAndCaches(t *testing.T) {
	m := &mockRedis{}
	p := newTestPublisher(m)

	err := p.Record(context.Background(), upgrade.Event{
		Kind:           upgrade.EventCompleted,
		ControllerID:   "a1",
		ControllerName: "web-01",
		TaskID:         42,
		Status:         types.TaskCompleted,
		TargetVersion:  "3.2.0",
	})
	require.NoError(t, err)

	require.Len(t, m.published, 1)
	assert.Equal(t, DefaultChannel, m.published[0].channel)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(m.published[0].data, &msg))
	assert.Equal(t, "run-1", msg["run_id"])
	assert.Equal(t, "completed", msg["kind"])
	assert.Equal(t, "a1", msg["controller_id"])
	assert.EqualValues(t, 42, msg["task_id"])
	assert.Equal(t, "COMPLETED", msg["status"])
	assert.NotContains(t, msg, "outdated")

	require.Len(t, m.stored, 1)
	assert.Equal(t, "ctrlupgrade:task:42", m.stored[0].key)
	assert.Equal(t, DefaultTTL, m.stored[0].ttl)
	assert.JSONEq(t, string(m.published[0].data), string(m.stored[0].data))
}

func TestRecord_SubmissionFailedIsNotCached(t *testing.T) {
	m := &mockRedis{}
	p := newTestPublisher(m)

	require.NoError(t, p.Record(context.Background(), upgrade.Event{
		Kind:         upgrade.EventSubmissionFailed,
		ControllerID: "a1",
		Error:        "Controller busy 409",
	}))

	assert.Len(t, m.published, 1)
	assert.Empty(t, m.stored)
}

func TestRecord_PublishError(t *testing.T) {
	m := &mockRedis{publishErr: errors.New("connection refused")}
	p := newTestPublisher(m)

	err := p.Record(context.Background(), upgrade.Event{Kind: upgrade.EventIssued, TaskID: 1})
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, m.stored)
}

func TestPrepared(t *testing.T) {
	m := &mockRedis{}
	p := newPublisher(m, Config{Channel: "ops:upgrades"})

	s := upgrade.NewSession("3.2.0", []types.Controller{
		{ID: "a1", Version: "3.1.0", Available: true},
		{ID: "a2", Version: "3.2.0", Available: true},
	})
	require.NoError(t, p.Prepared(context.Background(), s))

	require.Len(t, m.published, 1)
	assert.Equal(t, "ops:upgrades", m.published[0].channel)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(m.published[0].data, &msg))
	assert.Equal(t, "prepared", msg["kind"])
	assert.Equal(t, "3.2.0", msg["target_version"])
	assert.EqualValues(t, 1, msg["outdated"])
}

func TestClose(t *testing.T) {
	m := &mockRedis{}
	require.NoError(t, newTestPublisher(m).Close())
	assert.True(t, m.closed)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{RedisURL: "not a url"})
	assert.Error(t, err)
}

var _ upgrade.Recorder = (*Publisher)(nil)
