// Package events publishes upgrade task events to Redis.
//
// Every event is PUBLISHed as JSON on a channel, and the latest event per
// task is kept under ctrlupgrade:task:<id> so dashboards can look a task
// up without subscribing.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
)

const (
	// DefaultChannel carries every event.
	DefaultChannel = "ctrlupgrade:events"

	// DefaultTTL bounds how long a task's latest event is kept.
	DefaultTTL = 24 * time.Hour

	taskKeyPrefix = "ctrlupgrade:task:"
)

// redisClient is the subset of *redis.Client the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Publisher sends events to Redis.
type Publisher struct {
	client  redisClient
	channel string
	ttl     time.Duration
	runID   string
	logger  *slog.Logger
}

// Config contains publisher configuration.
type Config struct {
	RedisURL string
	Channel  string        // default: ctrlupgrade:events
	TTL      time.Duration // default: 24h
	RunID    string        // attached to every message
	Logger   *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newPublisher(client, cfg), nil
}

func newPublisher(client redisClient, cfg Config) *Publisher {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		channel: channel,
		ttl:     ttl,
		runID:   cfg.RunID,
		logger:  logger.With("component", "events"),
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Message is the JSON published for each event.
type Message struct {
	RunID string `json:"run_id,omitempty"`
	upgrade.Event

	// Outdated is set on prepared messages only.
	Outdated *int `json:"outdated,omitempty"`
}

// KindPrepared announces the start of a run.
const KindPrepared upgrade.EventKind = "prepared"

// Prepared implements upgrade.Recorder.
func (p *Publisher) Prepared(ctx context.Context, s *upgrade.Session) error {
	n := len(s.Outdated)
	msg := Message{
		RunID: p.runID,
		Event: upgrade.Event{
			Kind:          KindPrepared,
			At:            time.Now().UTC(),
			TargetVersion: s.TargetVersion,
		},
		Outdated: &n,
	}
	return p.publish(ctx, msg)
}

// Record implements upgrade.Recorder.
func (p *Publisher) Record(ctx context.Context, ev upgrade.Event) error {
	msg := Message{RunID: p.runID, Event: ev}
	if err := p.publish(ctx, msg); err != nil {
		return err
	}

	// A refused submission has no task to key on.
	if ev.Kind == upgrade.EventSubmissionFailed {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, TaskKey(ev), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("caching task %s: %w", ev.TaskID, err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publishing %s event: %w", msg.Kind, err)
	}
	p.logger.Debug("event published", "kind", msg.Kind, "receivers", receivers)
	return nil
}

// TaskKey is the Redis key holding a task's latest event.
func TaskKey(ev upgrade.Event) string {
	return taskKeyPrefix + ev.TaskID.String()
}
