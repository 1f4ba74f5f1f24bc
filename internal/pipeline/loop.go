package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Trigger serializes runs. Concurrent callers of Do while a run is in
// flight share its result instead of starting a second run.
type Trigger struct {
	runner *Runner
	group  singleflight.Group

	mu   sync.Mutex
	last *Report
}

// NewTrigger wraps r.
func NewTrigger(r *Runner) *Trigger {
	return &Trigger{runner: r}
}

// Do starts a run, or joins the one in flight. shared reports whether the
// result came from a run another caller started. The run is detached from
// ctx's cancellation so a disconnecting caller does not abort it halfway.
func (t *Trigger) Do(ctx context.Context) (rep Report, shared bool, err error) {
	v, err, shared := t.group.Do("run", func() (any, error) {
		rep, err := t.runner.Run(context.WithoutCancel(ctx))
		t.mu.Lock()
		t.last = &rep
		t.mu.Unlock()
		return rep, err
	})
	return v.(Report), shared, err
}

// Last returns the most recent finished run, if any.
func (t *Trigger) Last() (Report, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Report{}, false
	}
	return *t.last, true
}

// Loop runs the bot on a fixed interval until ctx is cancelled.
type Loop struct {
	trigger  *Trigger
	interval time.Duration
	logger   *slog.Logger
}

// NewLoop creates a Loop. If interval is <= 0, it defaults to one hour.
func NewLoop(t *Trigger, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Loop{
		trigger:  t,
		interval: interval,
		logger:   slog.Default().With("subsystem", "loop"),
	}
}

// Run triggers a run immediately and then once per interval. Failed runs
// are logged; the loop keeps going.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		l.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.interval):
		}
	}
}

// RunOnce triggers a single run and logs its outcome.
func (l *Loop) RunOnce(ctx context.Context) {
	rep, shared, err := l.trigger.Do(ctx)
	if err != nil {
		l.logger.Error("scheduled run failed", "run", rep.RunID, "error", err)
		return
	}
	l.logger.Info("scheduled run finished", "run", rep.RunID, "outcome", rep.Outcome, "published", len(rep.Published()), "shared", shared)
}
