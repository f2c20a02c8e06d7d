// Package metrics counts what a run did and pushes it to a Prometheus
// Pushgateway. A CLI run is too short-lived to be scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
)

const namespace = "ctrlupgrade"

// Collector implements upgrade.Recorder on a private registry.
type Collector struct {
	registry *prometheus.Registry

	tasksIssued       *prometheus.CounterVec
	submissionsFailed *prometheus.CounterVec
	tasksCompleted    *prometheus.CounterVec
	tasksFailed       *prometheus.CounterVec
	outdated          *prometheus.GaugeVec
	lastRun           prometheus.Gauge
	runDuration       prometheus.Gauge

	started time.Time
	now     func() time.Time
}

// New creates a collector with all metrics registered.
func New() *Collector {
	labels := []string{"target_version"}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasksIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_issued_total",
			Help:      "Upgrade tasks created by the server",
		}, labels),
		submissionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_submissions_failed_total",
			Help:      "Upgrade requests the server refused",
		}, labels),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Upgrade tasks observed COMPLETED",
		}, labels),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Upgrade tasks observed FAILED",
		}, labels),
		outdated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outdated_controllers",
			Help:      "Available controllers not running the server version",
		}, labels),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last run",
		}),
		now: time.Now,
	}
	c.started = c.now()

	c.registry.MustRegister(
		c.tasksIssued,
		c.submissionsFailed,
		c.tasksCompleted,
		c.tasksFailed,
		c.outdated,
		c.lastRun,
		c.runDuration,
	)
	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Prepared implements upgrade.Recorder.
func (c *Collector) Prepared(ctx context.Context, s *upgrade.Session) error {
	c.outdated.WithLabelValues(s.TargetVersion).Set(float64(len(s.Outdated)))
	return nil
}

// Record implements upgrade.Recorder.
func (c *Collector) Record(ctx context.Context, ev upgrade.Event) error {
	switch ev.Kind {
	case upgrade.EventIssued:
		c.tasksIssued.WithLabelValues(ev.TargetVersion).Inc()
	case upgrade.EventSubmissionFailed:
		c.submissionsFailed.WithLabelValues(ev.TargetVersion).Inc()
	case upgrade.EventCompleted:
		c.tasksCompleted.WithLabelValues(ev.TargetVersion).Inc()
	case upgrade.EventFailed:
		c.tasksFailed.WithLabelValues(ev.TargetVersion).Inc()
	}
	return nil
}

// Finish stamps the run end time and duration.
func (c *Collector) Finish() {
	end := c.now()
	c.lastRun.Set(float64(end.Unix()))
	c.runDuration.Set(end.Sub(c.started).Seconds())
}

// Push replaces the job's metric group on the Pushgateway.
func (c *Collector) Push(ctx context.Context, gatewayURL, job, instance string) error {
	if job == "" {
		job = namespace
	}
	pusher := push.New(gatewayURL, job).Gatherer(c.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
