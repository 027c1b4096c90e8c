package engine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/domain"
	"procline/internal/engine"
)

func startRun(t *testing.T, env *testEnv, actorID, processID string) domain.ProcessRun {
	t.Helper()
	run, err := env.Engine.CreateRun(env.Ctx, actorID, processID, engine.RunCreateOptions{})
	require.NoError(t, err)
	return run
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"))
	run := startRun(t, env, "u-alice", p.ID)
	assert.Equal(t, domain.RunNotStarted, run.Status)
	assert.Equal(t, p.ID, run.VersionID)
	assert.Equal(t, p.RootID, run.RootProcessID)
	assert.Equal(t, "Month-end close 2025-03-03", run.Name)
	assert.Equal(t, 100, run.HealthScore)
	require.Len(t, run.ActivityLog, 1)
	assert.Equal(t, "run started", run.ActivityLog[0].Action)

	_, err := env.Engine.CreateRun(env.Ctx, "u-out", p.ID, engine.RunCreateOptions{})
	var denied engine.AuthorizationDeniedError
	assert.ErrorAs(t, err, &denied, "only executors launch runs")
}

func TestCreateRunRequiresPublished(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProcess(env.Ctx, "u-designer", engine.ProcessCreateOptions{Title: "x", OwningTeamID: "t-ops"})
	require.NoError(t, err)
	_, err = env.Engine.CreateRun(env.Ctx, "u-alice", p.ID, engine.RunCreateOptions{})
	var illegal engine.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestCreateRunBlockedWhenExpired(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"))
	env.advance(90 * day)
	require.NoError(t, env.Engine.LaunchCheck(env.Ctx, "u-alice", p.ID), "the last day of the cadence still launches")

	env.advance(day)
	_, err := env.Engine.CreateRun(env.Ctx, "u-alice", p.ID, engine.RunCreateOptions{})
	var blocked engine.FreshnessBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, p.ID, blocked.ProcessID)
	assert.Equal(t, -1, blocked.DaysRemaining)

	_, err = env.Engine.RefreshProcess(env.Ctx, "u-lead", p.ID)
	require.NoError(t, err)
	startRun(t, env, "u-alice", p.ID)
}

func TestInProgressRunsAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"), checkbox("b", "Sign off"))
	run := startRun(t, env, "u-alice", p.ID)
	env.advance(120 * day)

	_, err := env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err, "in-flight runs continue by default")

	env.Engine.Config.Freshness.BlockInProgressWhenExpired = true
	_, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "b")
	var blocked engine.FreshnessBlockedError
	assert.ErrorAs(t, err, &blocked)
}

func TestSequentialExecution(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, true, checkbox("a", "A"), checkbox("b", "B"), checkbox("c", "C"))
	run := startRun(t, env, "u-alice", p.ID)

	_, err := env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "c")
	var locked engine.StepLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "c", locked.StepID)
	assert.Equal(t, "b", locked.BlockedBy)

	for _, id := range []string{"a", "b", "c"} {
		run, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, id)
		require.NoError(t, err, id)
	}
	assert.Equal(t, []string{"a", "b", "c"}, run.CompletedStepIDs)
	assert.Equal(t, domain.RunReadyToSubmit, run.Status)

	// Unchecking a middle step locks the later ones again.
	run, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "b")
	require.NoError(t, err)
	blockedBy, isLocked := engine.LockedBy(p, run, "c")
	assert.True(t, isLocked)
	assert.Equal(t, "b", blockedBy)
	assert.Equal(t, domain.RunInProgress, run.Status)
}

func TestInfoStepsNeverGate(t *testing.T) {
	env := newTestEnv(t)
	info := domain.ProcessStep{ID: "i", Text: "Read the policy", InputType: domain.InputInfo}
	p := publishProcess(t, env, true, checkbox("a", "A"), info, checkbox("b", "B"))
	run := startRun(t, env, "u-alice", p.ID)

	_, err := env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "i")
	var illegal engine.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	run, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, 50, engine.Progress(run, p))
	run, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "b")
	require.NoError(t, err, "an INFO step between two steps does not lock the second")
	assert.Equal(t, 100, engine.Progress(run, p))
	assert.Equal(t, domain.RunReadyToSubmit, run.Status)
}

func TestSetStepValue(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false,
		domain.ProcessStep{ID: "t", Text: "Total", InputType: domain.InputText, Required: true},
		domain.ProcessStep{ID: "f", Text: "Statement", InputType: domain.InputFileUpload, Required: true},
	)
	run := startRun(t, env, "u-alice", p.ID)

	run, err := env.Engine.SetStepValue(env.Ctx, "u-alice", run.ID, "t", domain.StepValue{Text: "1200.50"})
	require.NoError(t, err)
	assert.True(t, run.Completed("t"))
	assert.Equal(t, domain.RunInProgress, run.Status)

	run, err = env.Engine.SetStepValue(env.Ctx, "u-alice", run.ID, "f", domain.StepValue{File: &domain.FileRef{Name: "march.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, domain.RunReadyToSubmit, run.Status)

	run, err = env.Engine.SetStepValue(env.Ctx, "u-alice", run.ID, "t", domain.StepValue{Text: "   "})
	require.NoError(t, err)
	assert.False(t, run.Completed("t"), "a blank value clears the step")
	assert.Equal(t, domain.RunInProgress, run.Status)

	_, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "t")
	var illegal engine.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal, "value steps are not toggled")
}

func TestFeedbackOnNotStartedRun(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"))
	run := startRun(t, env, "u-alice", p.ID)

	run, _, err := env.Engine.AddFeedback(env.Ctx, "u-bob", run.ID, "a", domain.FeedbackAdvisory, "check the totals")
	require.NoError(t, err)
	assert.Equal(t, domain.RunNotStarted, run.Status)

	run, fb, err := env.Engine.AddFeedback(env.Ctx, "u-bob", run.ID, "a", domain.FeedbackBlocker, "bank feed is down")
	require.NoError(t, err)
	assert.Equal(t, domain.RunReadyToSubmit, run.Status, "a blocker is an accepted exception")

	_, _, err = env.Engine.AddFeedback(env.Ctx, "u-out", run.ID, "a", domain.FeedbackPraise, "nice")
	var denied engine.AuthorizationDeniedError
	assert.ErrorAs(t, err, &denied)

	_, err = env.Engine.ResolveFeedback(env.Ctx, "u-out", run.ID, fb.ID)
	assert.ErrorAs(t, err, &denied)

	_, _, err = env.Engine.AddFeedback(env.Ctx, "u-bob", run.ID, "a", "QUESTION", "?")
	assert.Error(t, err)
}

func TestBlockerGatesSubmission(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false,
		checkbox("a", "Reconcile"),
		domain.ProcessStep{ID: "t", Text: "Total", InputType: domain.InputText, Required: true},
	)
	run := startRun(t, env, "u-alice", p.ID)

	_, err := env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
	var illegal engine.IllegalTransitionError
	require.ErrorAs(t, err, &illegal, "NOT_STARTED runs are not submittable")

	_, err = env.Engine.SetStepValue(env.Ctx, "u-alice", run.ID, "t", domain.StepValue{Text: "42"})
	require.NoError(t, err)
	run, fb, err := env.Engine.AddFeedback(env.Ctx, "u-lead", run.ID, "a", domain.FeedbackBlocker, "missing receipts")
	require.NoError(t, err)
	assert.Equal(t, domain.RunReadyToSubmit, run.Status)
	assert.True(t, engine.CanSubmitWithExceptions(run, p))
	assert.Equal(t, 1, engine.TotalUnresolvedBlockers(run))

	_, err = env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
	var blocked engine.SubmissionBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 1, blocked.UnresolvedBlockers)
	assert.Equal(t, []string{"a"}, blocked.StepIDs)

	run, err = env.Engine.ResolveFeedback(env.Ctx, "u-alice", run.ID, fb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunInProgress, run.Status, "without the blocker the step must be done")

	_, err = env.Engine.ResolveFeedback(env.Ctx, "u-alice", run.ID, fb.ID)
	assert.ErrorAs(t, err, &illegal, "already resolved")

	_, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err)
	run, err = env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunInReview, run.Status)
	assert.NotNil(t, run.SubmittedAt)

	_, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	assert.ErrorAs(t, err, &illegal, "IN_REVIEW runs are frozen")
}

func TestBlockerOnFilledTextStep(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false,
		checkbox("a", "Reconcile"),
		domain.ProcessStep{ID: "t", Text: "Total", InputType: domain.InputText, Required: true},
	)
	run := startRun(t, env, "u-alice", p.ID)
	_, err := env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err)
	_, err = env.Engine.SetStepValue(env.Ctx, "u-alice", run.ID, "t", domain.StepValue{Text: "42"})
	require.NoError(t, err)

	run, fb, err := env.Engine.AddFeedback(env.Ctx, "u-lead", run.ID, "t", domain.FeedbackBlocker, "total does not match ledger")
	require.NoError(t, err)
	assert.Equal(t, domain.RunReadyToSubmit, run.Status)

	_, err = env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
	var blocked engine.SubmissionBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, []string{"t"}, blocked.StepIDs)

	run, err = env.Engine.ResolveFeedback(env.Ctx, "u-alice", run.ID, fb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunReadyToSubmit, run.Status)
	run, err = env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunInReview, run.Status)
}

func TestBlockerOnEmptyTextStep(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false,
		checkbox("a", "Reconcile"),
		domain.ProcessStep{ID: "t", Text: "Total", InputType: domain.InputText, Required: true},
	)
	run := startRun(t, env, "u-alice", p.ID)
	_, err := env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err)

	run, fb, err := env.Engine.AddFeedback(env.Ctx, "u-lead", run.ID, "t", domain.FeedbackBlocker, "no figure yet")
	require.NoError(t, err)
	assert.Equal(t, domain.RunReadyToSubmit, run.Status, "an unresolved blocker stands in for the missing value")
	_, err = env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
	var blocked engine.SubmissionBlockedError
	require.ErrorAs(t, err, &blocked)

	run, err = env.Engine.ResolveFeedback(env.Ctx, "u-alice", run.ID, fb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunInProgress, run.Status, "once resolved the step needs its value")
	_, err = env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
	var illegal engine.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestExecutorTeamOutsideOwnerCanSeeWhatItActsOn(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.Engine.CreateProcess(env.Ctx, "u-designer", engine.ProcessCreateOptions{
		Title:        "Vendor payments",
		OwningTeamID: "t-ops",
		Steps:        []domain.ProcessStep{checkbox("a", "Approve batch")},
		Governance:   domain.Governance{Executor: domain.ToTeam("t-fin")},
	})
	require.NoError(t, err)
	p := promote(t, env, draft.ID)
	run := startRun(t, env, "u-admin", p.ID)

	_, err = env.Engine.ToggleStep(env.Ctx, "u-out", run.ID, "a")
	require.NoError(t, err)
	_, err = env.Engine.ViewRun(env.Ctx, "u-out", run.ID)
	require.NoError(t, err)
	_, _, err = env.Engine.AddFeedback(env.Ctx, "u-out", run.ID, "a", domain.FeedbackAdvisory, "paid in two batches")
	require.NoError(t, err)

	visible, err := env.Engine.ListVisibleRuns(env.Ctx, "u-out")
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestLeadOverrideIsTagged(t *testing.T) {
	env := newTestEnv(t)
	step := checkbox("a", "Count cash")
	step.Assignment = domain.Assignment{UserIDs: []string{"u-alice"}}
	p := publishProcess(t, env, false, step)
	run := startRun(t, env, "u-alice", p.ID)

	_, err := env.Engine.ToggleStep(env.Ctx, "u-bob", run.ID, "a")
	var denied engine.AuthorizationDeniedError
	require.ErrorAs(t, err, &denied)
	stored, err := env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Revision, stored.Revision, "a denied toggle writes nothing")

	access, err := env.Engine.CanInteract(env.Ctx, "u-lead", run.ID, "a")
	require.NoError(t, err)
	assert.True(t, access.Override)

	run, err = env.Engine.ToggleStep(env.Ctx, "u-lead", run.ID, "a")
	require.NoError(t, err)
	entry := run.ActivityLog[0]
	assert.True(t, entry.Override)
	assert.Equal(t, "u-lead", entry.ActorID)
	assert.True(t, strings.HasSuffix(entry.Message(), "(Team Lead Override)"), entry.Message())

	run, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err)
	assert.False(t, run.ActivityLog[0].Override)
	assert.NotContains(t, run.ActivityLog[0].Message(), "Override")
}

func TestTasksFollowStepCompletion(t *testing.T) {
	env := newTestEnv(t)
	step := checkbox("a", "Count cash")
	step.Assignment = domain.Assignment{UserIDs: []string{"u-alice"}, TeamIDs: []string{"t-ops"}}
	p := publishProcess(t, env, false, step, checkbox("b", "Sign off"))
	run := startRun(t, env, "u-alice", p.ID)

	view, err := env.Engine.ViewRun(env.Ctx, "u-alice", run.ID)
	require.NoError(t, err)
	require.Len(t, view.Tasks, 2, "one task per assignment entry")
	for _, task := range view.Tasks {
		assert.Equal(t, domain.TaskOpen, task.Status)
		assert.Equal(t, "a", task.StepID)
	}

	_, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err)
	view, err = env.Engine.ViewRun(env.Ctx, "u-alice", run.ID)
	require.NoError(t, err)
	for _, task := range view.Tasks {
		assert.Equal(t, domain.TaskDone, task.Status)
	}

	_, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	require.NoError(t, err)
	view, err = env.Engine.ViewRun(env.Ctx, "u-alice", run.ID)
	require.NoError(t, err)
	for _, task := range view.Tasks {
		assert.Equal(t, domain.TaskOpen, task.Status)
	}
}

func TestValidateRun(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"))

	submitted := func() domain.ProcessRun {
		run := startRun(t, env, "u-alice", p.ID)
		_, err := env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
		require.NoError(t, err)
		run, err = env.Engine.SubmitRun(env.Ctx, "u-alice", run.ID)
		require.NoError(t, err)
		return run
	}

	run := submitted()
	_, err := env.Engine.ValidateRun(env.Ctx, "u-alice", run.ID, true, "")
	var denied engine.AuthorizationDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, domain.RoleRunValidator, denied.Role)

	run, err = env.Engine.ValidateRun(env.Ctx, "u-lead", run.ID, true, " looks good ")
	require.NoError(t, err)
	assert.Equal(t, domain.RunApproved, run.Status)
	assert.Equal(t, "u-lead", run.ValidatorUserID)
	assert.Equal(t, "looks good", run.ValidationReason)

	_, err = env.Engine.ValidateRun(env.Ctx, "u-lead", run.ID, true, "")
	var illegal engine.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)

	rejected := submitted()
	rejected, err = env.Engine.ValidateRun(env.Ctx, "u-lead", rejected.ID, false, "wrong period")
	require.NoError(t, err)
	assert.Equal(t, domain.RunRejected, rejected.Status)

	// A rejected run is reworked and its status derived again.
	rejected, err = env.Engine.ToggleStep(env.Ctx, "u-alice", rejected.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunInProgress, rejected.Status)
	assert.Len(t, env.Events.OfType("run.validated"), 2)
}

func TestCancelRun(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"))
	run := startRun(t, env, "u-alice", p.ID)

	_, err := env.Engine.CancelRun(env.Ctx, "u-out", run.ID, "")
	var denied engine.AuthorizationDeniedError
	require.ErrorAs(t, err, &denied)

	run, err = env.Engine.CancelRun(env.Ctx, "u-alice", run.ID, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, run.Status)

	var illegal engine.IllegalTransitionError
	_, err = env.Engine.CancelRun(env.Ctx, "u-alice", run.ID, "")
	assert.ErrorAs(t, err, &illegal)
	_, _, err = env.Engine.AddFeedback(env.Ctx, "u-alice", run.ID, "a", domain.FeedbackAdvisory, "late")
	assert.ErrorAs(t, err, &illegal)
	_, err = env.Engine.ToggleStep(env.Ctx, "u-alice", run.ID, "a")
	assert.ErrorAs(t, err, &illegal)
}

func TestRunVisibility(t *testing.T) {
	env := newTestEnv(t)
	step := checkbox("a", "Approve invoice")
	step.Assignment = domain.Assignment{UserIDs: []string{"u-out"}}
	p := publishProcess(t, env, false, step)
	run := startRun(t, env, "u-alice", p.ID)
	other := publishProcess(t, env, false, checkbox("b", "Sweep"))
	startRun(t, env, "u-bob", other.ID)

	runs, err := env.Engine.ListVisibleRuns(env.Ctx, "u-out")
	require.NoError(t, err)
	require.Len(t, runs, 1, "a task assignee sees only that run")
	assert.Equal(t, run.ID, runs[0].ID)

	runs, err = env.Engine.ListVisibleRuns(env.Ctx, "u-alice")
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	ok, err := env.Engine.CanSeeRun(env.Ctx, "u-out", run.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.Engine.CanSeeRun(env.Ctx, "u-out", runs[1].ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealthScore(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	due := func(d time.Duration) *time.Time {
		at := now.Add(d)
		return &at
	}
	blocked := map[string][]domain.Feedback{"a": {{ID: "f", Type: domain.FeedbackBlocker}}}
	cases := []struct {
		name string
		run  domain.ProcessRun
		want int
	}{
		{"no due date", domain.ProcessRun{StepFeedback: blocked}, 100},
		{"on track", domain.ProcessRun{DueAt: due(5 * day)}, 100},
		{"blocked", domain.ProcessRun{DueAt: due(5 * day), StepFeedback: blocked}, 50},
		{"due in two days", domain.ProcessRun{DueAt: due(2 * day)}, 80},
		{"due in a day and a half", domain.ProcessRun{DueAt: due(36 * time.Hour)}, 80},
		{"due soon outranks blockers", domain.ProcessRun{DueAt: due(day), StepFeedback: blocked}, 80},
		{"three days late", domain.ProcessRun{DueAt: due(-3 * day)}, 70},
		{"very late", domain.ProcessRun{DueAt: due(-15 * day)}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, engine.HealthScore(tc.run, now))
		})
	}
}

func TestScanRunHealth(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"))
	dueAt := env.now.Add(day)
	run, err := env.Engine.CreateRun(env.Ctx, "u-alice", p.ID, engine.RunCreateOptions{DueAt: &dueAt})
	require.NoError(t, err)

	env.advance(4 * day)
	change, err := env.Engine.ScanRunHealth(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.HealthChange{RunID: run.ID, Previous: 100, Current: 70}, change)
	assert.True(t, change.Crossed(75))

	env.advance(day)
	change, err = env.Engine.ScanRunHealth(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, change.Previous)
	assert.Equal(t, 60, change.Current)
	assert.False(t, change.Crossed(75), "already below the threshold")

	stored, err := env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, stored.HealthScore)

	change, err = env.Engine.ScanRunHealth(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, change.Previous, change.Current)
	unchanged, err := env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Revision, unchanged.Revision, "an unchanged score is not written")

	_, err = env.Engine.CancelRun(env.Ctx, "u-alice", run.ID, "")
	require.NoError(t, err)
	env.advance(day)
	change, err = env.Engine.ScanRunHealth(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, change.Skipped)
	assert.False(t, change.Crossed(100))
}
