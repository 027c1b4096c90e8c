package reactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/config"
	"procline/internal/directory"
	"procline/internal/domain"
	"procline/internal/engine"
	"procline/internal/events"
	"procline/internal/logging"
	"procline/internal/reactor"
	"procline/internal/repo"
)

const day = 24 * time.Hour

type fixture struct {
	eng     engine.Engine
	events  *events.Recorder
	now     time.Time
	process domain.ProcessDefinition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{events: &events.Recorder{}, now: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)}
	f.eng = engine.New(repo.NewMemory(), f.events, config.Default("test"), logging.Discard())
	f.eng.Now = func() time.Time { return f.now }
	require.NoError(t, f.eng.ImportDirectory(ctx, directory.Seed{
		Teams: []domain.Team{{ID: "t-ops", Name: "Operations", LeadUserID: "u-lead"}},
		Users: []domain.User{
			{ID: "u-lead", TeamID: "t-ops", Status: domain.UserActive, Permissions: domain.Permissions{CanDesign: true}},
			{ID: "u-op", TeamID: "t-ops", Status: domain.UserActive},
		},
	}))
	p, err := f.eng.CreateProcess(ctx, "u-lead", engine.ProcessCreateOptions{
		Title:        "Daily checks",
		OwningTeamID: "t-ops",
		Steps:        []domain.ProcessStep{{ID: "a", Text: "Check backups", Required: true}},
	})
	require.NoError(t, err)
	_, err = f.eng.SubmitForReview(ctx, "u-lead", p.ID)
	require.NoError(t, err)
	f.process, err = f.eng.Publish(ctx, "u-lead", p.ID)
	require.NoError(t, err)
	return f
}

func (f *fixture) startRun(t *testing.T, due *time.Time) domain.ProcessRun {
	t.Helper()
	run, err := f.eng.CreateRun(context.Background(), "u-op", f.process.ID, engine.RunCreateOptions{DueAt: due})
	require.NoError(t, err)
	return run
}

func TestScanAlertsOnceOnCrossing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.now.Add(day)
	late := f.startRun(t, &due)
	f.startRun(t, nil)

	reg := prometheus.NewRegistry()
	metrics := reactor.NewMetrics(reg)
	r := reactor.New(f.eng, metrics)

	res := r.Scan(ctx)
	assert.Equal(t, 2, res.Scanned)
	assert.Empty(t, res.Alerts)

	// Five days overdue scores exactly the threshold.
	f.now = f.now.Add(6 * day)
	res = r.Scan(ctx)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, late.ID, res.Alerts[0].RunID)
	assert.Equal(t, 50, res.Alerts[0].Current)

	alerts := f.events.OfType(reactor.AlertEvent)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, late.ID, alerts[0].EntityID)

	f.now = f.now.Add(day)
	res = r.Scan(ctx)
	assert.Empty(t, res.Alerts, "a run already below the threshold does not alert again")
	assert.Len(t, f.events.OfType(reactor.AlertEvent), 1)

	stored, err := f.eng.GetRun(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, stored.HealthScore)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Scans))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Alerts))
	assert.Equal(t, 40.0, testutil.ToFloat64(metrics.RunHealth.WithLabelValues(late.ID)))
}

func TestScanSkipsTerminalRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.now.Add(-10 * day)
	run := f.startRun(t, &due)
	_, err := f.eng.CancelRun(ctx, "u-op", run.ID, "")
	require.NoError(t, err)

	res := reactor.New(f.eng, nil).Scan(ctx)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Scanned)
	assert.Empty(t, f.events.OfType(reactor.AlertEvent))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	r := reactor.New(f.eng, nil)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	assert.True(t, r.Running())
	assert.ErrorIs(t, r.Start(ctx), reactor.ErrRunning)

	r.Stop()
	assert.False(t, r.Running())
	r.Stop()

	require.NoError(t, r.Start(ctx), "a stopped reactor can start again")
	r.Stop()
}

func TestRunReturnsOnCancel(t *testing.T) {
	f := newFixture(t)
	r := reactor.New(f.eng, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	assert.Eventually(t, r.Running, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop")
	}
	assert.False(t, r.Running())
}

func TestParentCancelStopsReactor(t *testing.T) {
	f := newFixture(t)
	r := reactor.New(f.eng, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 10*time.Millisecond)

	require.NoError(t, r.Start(context.Background()), "a reactor whose parent context ended can start again")
	r.Stop()
}
