package engine

import (
	"context"
	"math"
	"time"

	"procline/internal/domain"
)

// HealthScore grades a run from 0 to 100 against its due date and open blockers.
func HealthScore(run domain.ProcessRun, now time.Time) int {
	if run.DueAt == nil {
		return 100
	}
	daysUntilDue := int(math.Ceil(float64(run.DueAt.Sub(now)) / float64(24*time.Hour)))
	switch {
	case daysUntilDue < 0:
		return max(0, 100-10*(-daysUntilDue))
	case daysUntilDue <= 2:
		return 80
	case run.UnresolvedBlockers() > 0:
		return 50
	}
	return 100
}

// HealthChange is the outcome of one health scan of a run.
type HealthChange struct {
	RunID    string
	Previous int
	Current  int
	Skipped  bool
}

// Crossed reports a drop from above threshold to at or below it.
func (c HealthChange) Crossed(threshold int) bool {
	return !c.Skipped && c.Previous > threshold && c.Current <= threshold
}

// ScanRunHealth recomputes and stores a run's health under the run lock.
// Terminal runs are skipped. The stored score is the previous value for the
// next scan.
func (e Engine) ScanRunHealth(ctx context.Context, runID string) (HealthChange, error) {
	unlock := e.lock(runKey(runID))
	defer unlock()
	run, err := e.Repo.Runs.Get(ctx, runID)
	if err != nil {
		return HealthChange{}, err
	}
	change := HealthChange{RunID: run.ID, Previous: run.HealthScore, Current: run.HealthScore}
	if run.Status.Terminal() {
		change.Skipped = true
		return change, nil
	}
	change.Current = HealthScore(run, e.now())
	if change.Current == change.Previous {
		return change, nil
	}
	run.HealthScore = change.Current
	run.Revision++
	if err := e.Repo.Runs.Upsert(ctx, run.ID, run.Revision, run); err != nil {
		return change, err
	}
	return change, nil
}
