// Package reactor periodically recomputes run health and raises alerts when a
// run falls to the critical threshold.
package reactor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"procline/internal/domain"
	"procline/internal/engine"
)

// AlertEvent is the event type raised on a critical health crossing.
const AlertEvent = "run.health.critical"

type Reactor struct {
	engine    engine.Engine
	interval  time.Duration
	threshold int
	metrics   *Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a stopped reactor using the engine's reactor config.
func New(eng engine.Engine, metrics *Metrics) *Reactor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Reactor{
		engine:    eng,
		interval:  eng.Config.Reactor.Interval,
		threshold: eng.Config.Reactor.HealthAlertThreshold,
		metrics:   metrics,
		logger:    eng.Logger.With("component", "reactor"),
	}
}

var ErrRunning = errors.New("reactor already running")

// Start scans once and then on every tick until Stop or ctx cancellation.
func (r *Reactor) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	go func() {
		defer func() {
			r.mu.Lock()
			if r.done == done {
				r.cancel, r.done = nil, nil
			}
			r.mu.Unlock()
			cancel()
			close(done)
		}()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		r.Scan(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Scan(ctx)
			}
		}
	}()
	r.logger.Info("reactor started", "interval", r.interval, "threshold", r.threshold)
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped reactor is a no-op.
func (r *Reactor) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("reactor stopped")
}

// Running reports whether the loop is active.
func (r *Reactor) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Run blocks until ctx is done.
func (r *Reactor) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return nil
}

// ScanResult summarizes one pass over the runs.
type ScanResult struct {
	Scanned int
	Skipped int
	Alerts  []engine.HealthChange
	Errors  int
}

// Scan visits every run once. Failures on one run are logged and do not stop the pass.
func (r *Reactor) Scan(ctx context.Context) ScanResult {
	var res ScanResult
	r.metrics.Scans.Inc()
	runs, err := r.engine.ListRuns(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "list runs", "error", err)
		res.Errors++
		r.metrics.ScanErrs.Inc()
		return res
	}
	for _, run := range runs {
		if ctx.Err() != nil {
			return res
		}
		if run.Status.Terminal() {
			r.metrics.RunHealth.DeleteLabelValues(run.ID)
			res.Skipped++
			continue
		}
		change, err := r.engine.ScanRunHealth(ctx, run.ID)
		if err != nil {
			r.logger.ErrorContext(ctx, "scan run health", "run_id", run.ID, "error", err)
			res.Errors++
			r.metrics.ScanErrs.Inc()
			continue
		}
		if change.Skipped {
			r.metrics.RunHealth.DeleteLabelValues(run.ID)
			res.Skipped++
			continue
		}
		res.Scanned++
		r.metrics.RunHealth.WithLabelValues(run.ID).Set(float64(change.Current))
		if change.Crossed(r.threshold) {
			r.alert(ctx, run, change)
			res.Alerts = append(res.Alerts, change)
		}
	}
	r.logger.DebugContext(ctx, "reactor scan", "scanned", res.Scanned, "skipped", res.Skipped, "alerts", len(res.Alerts), "errors", res.Errors)
	return res
}

func (r *Reactor) alert(ctx context.Context, run domain.ProcessRun, change engine.HealthChange) {
	r.metrics.Alerts.Inc()
	r.logger.WarnContext(ctx, "run health critical", "run_id", run.ID, "previous", change.Previous, "current", change.Current)
	if r.engine.Events == nil {
		return
	}
	r.engine.Events.Publish(ctx, domain.Event{
		At:         r.engine.Clock(),
		Type:       AlertEvent,
		Severity:   domain.SeverityCritical,
		EntityKind: "run",
		EntityID:   run.ID,
		Payload: map[string]any{
			"run_name":  run.Name,
			"previous":  change.Previous,
			"current":   change.Current,
			"threshold": r.threshold,
		},
	})
}
