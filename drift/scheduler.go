// Package drift periodically compares stored manifests with the schemas their
// tools report.
package drift

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/clibridge/adapters"
	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/manifest"
)

// DefaultSchedule checks for drift once an hour.
const DefaultSchedule = "@hourly"

// Report is the outcome of checking one manifest.
type Report struct {
	Tool      string         `json:"tool"`
	CheckedAt time.Time      `json:"checked_at"`
	Drift     adapters.Drift `json:"drift"`
	Error     string         `json:"error,omitempty"`
	// Err is the introspection or comparison failure, if any.
	Err error `json:"-"`
}

// InSync reports whether the check succeeded and found no drift.
func (r Report) InSync() bool {
	return r.Err == nil && r.Drift.Empty()
}

// BindFunc builds the binding used to introspect a manifest's tool.
type BindFunc func(m manifest.Manifest, executor *bridge.Executor) adapters.Binding

// Config controls a Scheduler.
type Config struct {
	// Schedule is a cron expression or descriptor. Empty uses DefaultSchedule.
	Schedule string
	Registry *manifest.Registry
	Executor *bridge.Executor
	// Bind defaults to adapters.FromManifest.
	Bind     BindFunc
	Logger   *slog.Logger
	Now      func() time.Time
	OnReport func(Report)
}

// Scheduler periodically runs schema introspection for every manifest in a
// registry and reports drift.
type Scheduler struct {
	schedule cron.Schedule
	registry *manifest.Registry
	executor *bridge.Executor
	bind     BindFunc
	logger   *slog.Logger
	now      func() time.Time
	onReport func(Report)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler validates cfg and creates a stopped scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("drift: scheduler registry is nil")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Bind == nil {
		cfg.Bind = func(m manifest.Manifest, e *bridge.Executor) adapters.Binding {
			return adapters.FromManifest(m, e)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.OnReport == nil {
		cfg.OnReport = func(Report) {}
	}

	return &Scheduler{
		schedule: schedule,
		registry: cfg.Registry,
		executor: cfg.Executor,
		bind:     cfg.Bind,
		logger:   cfg.Logger,
		now:      cfg.Now,
		onReport: cfg.OnReport,
	}, nil
}

// Start runs one check immediately and then one per schedule activation
// until Stop is called. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("drift: scheduler is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.RunOnce(loopCtx)

		for {
			next := s.schedule.Next(s.now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.RunOnce(loopCtx)
			}
		}
	}()
	return nil
}

// Stop terminates the scheduler and waits for an in-flight check to finish
// or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce checks every registered manifest once, in name order, and returns
// the reports it delivered to OnReport.
func (s *Scheduler) RunOnce(ctx context.Context) []Report {
	manifests := s.registry.List()
	reports := make([]Report, 0, len(manifests))
	for _, m := range manifests {
		if ctx.Err() != nil {
			break
		}
		report := s.check(ctx, m)
		reports = append(reports, report)
		s.onReport(report)
	}
	return reports
}

func (s *Scheduler) check(ctx context.Context, m manifest.Manifest) Report {
	report := Report{Tool: m.Name, CheckedAt: s.now()}
	logger := s.logger.With("tool_name", m.Name)

	schema, err := s.bind(m, s.executor).FetchSchema(ctx)
	if err == nil {
		report.Drift, err = adapters.CheckDrift(m, schema)
	}
	if err != nil {
		report.Err = err
		report.Error = err.Error()
		logger.Error("drift: check failed", "error", err, "error_code", bridge.ErrorCode(err))
		return report
	}

	if report.Drift.Empty() {
		logger.Debug("drift: in sync", "version", m.Version)
	} else {
		logger.Warn("drift: manifest differs from tool", "drift", report.Drift.String())
	}
	return report
}
