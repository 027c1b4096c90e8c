package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/config"
	"procline/internal/directory"
	"procline/internal/domain"
	"procline/internal/engine"
	"procline/internal/events"
	"procline/internal/logging"
	"procline/internal/repo"
)

var startTime = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Events *events.Recorder
	Ctx    context.Context
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{Events: &events.Recorder{}, Ctx: context.Background(), now: startTime}
	eng := engine.New(repo.NewMemory(), env.Events, config.Default("test"), logging.Discard())
	eng.Now = func() time.Time { return env.now }
	env.Engine = eng
	require.NoError(t, eng.ImportDirectory(env.Ctx, testSeed()))
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

const day = 24 * time.Hour

// testSeed: t-ops is led by u-lead; u-alice and u-bob are operators in t-ops;
// u-designer designs for t-ops; u-out belongs to t-fin, which has no lead.
func testSeed() directory.Seed {
	all := domain.Permissions{
		CanDesign: true, CanVerifyDesign: true, CanExecute: true, CanVerifyRun: true,
		CanManageTeam: true, CanAccessBilling: true, CanAccessWorkspace: true,
	}
	return directory.Seed{
		Teams: []domain.Team{
			{ID: "t-ops", Name: "Operations", LeadUserID: "u-lead"},
			{ID: "t-fin", Name: "Finance"},
		},
		Users: []domain.User{
			{ID: "u-admin", Name: "Admin", Status: domain.UserActive, Permissions: all},
			{ID: "u-designer", Name: "Dana", JobTitle: "Designer", TeamID: "t-ops", Status: domain.UserActive, Permissions: domain.Permissions{CanDesign: true}},
			{ID: "u-lead", Name: "Lee", JobTitle: "Supervisor", TeamID: "t-ops", Status: domain.UserActive, Permissions: domain.Permissions{CanDesign: true, CanVerifyRun: true}},
			{ID: "u-alice", Name: "Alice", JobTitle: "Operator", TeamID: "t-ops", Status: domain.UserActive, Permissions: domain.Permissions{CanExecute: true}},
			{ID: "u-bob", Name: "Bob", JobTitle: "Operator", TeamID: "t-ops", Status: domain.UserActive, Permissions: domain.Permissions{CanExecute: true}},
			{ID: "u-out", Name: "Olive", JobTitle: "Analyst", TeamID: "t-fin", Status: domain.UserActive},
			{ID: "u-former", Name: "Fred", TeamID: "t-ops", Status: domain.UserInactive},
		},
	}
}

func checkbox(id, text string) domain.ProcessStep {
	return domain.ProcessStep{ID: id, Text: text, InputType: domain.InputCheckbox, Required: true}
}

// publishProcess creates, submits and publishes a v1 owned by t-ops.
func publishProcess(t *testing.T, env *testEnv, sequential bool, steps ...domain.ProcessStep) domain.ProcessDefinition {
	t.Helper()
	p, err := env.Engine.CreateProcess(env.Ctx, "u-designer", engine.ProcessCreateOptions{
		Title:               "Month-end close",
		OwningTeamID:        "t-ops",
		SequentialExecution: sequential,
		Steps:               steps,
	})
	require.NoError(t, err)
	return promote(t, env, p.ID)
}

func promote(t *testing.T, env *testEnv, id string) domain.ProcessDefinition {
	t.Helper()
	_, err := env.Engine.SubmitForReview(env.Ctx, "u-designer", id)
	require.NoError(t, err)
	p, err := env.Engine.Publish(env.Ctx, "u-lead", id)
	require.NoError(t, err)
	return p
}

func TestImportDirectoryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.ImportDirectory(env.Ctx, testSeed()))
	dir, err := env.Engine.Directory(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, dir.Users(), 7)
	lead, ok := dir.Lead("t-ops")
	require.True(t, ok)
	assert.Equal(t, "u-lead", lead.ID)
}

func TestImportDirectoryRejectsUnknownTeam(t *testing.T) {
	env := newTestEnv(t)
	seed := directory.Seed{Users: []domain.User{{ID: "u-x", TeamID: "t-none", Status: domain.UserActive}}}
	assert.Error(t, env.Engine.ImportDirectory(env.Ctx, seed))
}

func TestRenameTeamKeepsReferences(t *testing.T) {
	env := newTestEnv(t)
	p := publishProcess(t, env, false, checkbox("a", "Reconcile"))

	team, err := env.Engine.RenameTeam(env.Ctx, "t-ops", "Operations & Support")
	require.NoError(t, err)
	assert.Equal(t, "Operations & Support", team.Name)

	_, err = env.Engine.RenameTeam(env.Ctx, "t-ops", "Finance")
	assert.Error(t, err, "names stay unique")

	h, err := env.Engine.ResolveGovernance(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-lead", h.Publisher.ID)
	require.Len(t, env.Events.OfType("team.renamed"), 1)
}

func TestInactiveUsersCannotAct(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProcess(env.Ctx, "u-former", engine.ProcessCreateOptions{Title: "x", OwningTeamID: "t-ops"})
	var denied engine.AuthorizationDeniedError
	assert.ErrorAs(t, err, &denied)

	_, err = env.Engine.CreateProcess(env.Ctx, "u-nobody", engine.ProcessCreateOptions{Title: "x", OwningTeamID: "t-ops"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
