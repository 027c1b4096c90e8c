package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/db"
	"procline/internal/domain"
	"procline/internal/migrate"
	"procline/internal/repo"
)

func openSQLite(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)
	return repo.NewSQLite(conn)
}

func backends(t *testing.T) map[string]repo.Repo {
	return map[string]repo.Repo{
		"memory": repo.NewMemory(),
		"sqlite": openSQLite(t),
	}
}

func TestCollectionRevisions(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			team := domain.Team{ID: "t-ops", Name: "Operations", Revision: 1}
			require.NoError(t, r.Teams.Upsert(ctx, team.ID, 1, team))
			assert.ErrorIs(t, r.Teams.Upsert(ctx, team.ID, 1, team), repo.ErrStaleRevision, "insert of an existing id")

			team.Name, team.Revision = "Ops", 2
			require.NoError(t, r.Teams.Upsert(ctx, team.ID, 2, team))
			assert.ErrorIs(t, r.Teams.Upsert(ctx, team.ID, 2, team), repo.ErrStaleRevision, "second writer at the same revision")
			assert.ErrorIs(t, r.Teams.Upsert(ctx, team.ID, 5, team), repo.ErrStaleRevision)
			assert.ErrorIs(t, r.Teams.Upsert(ctx, "t-none", 2, team), repo.ErrNotFound)

			got, err := r.Teams.Get(ctx, team.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ops", got.Name)
			assert.Equal(t, 2, got.Revision)

			_, err = r.Teams.Get(ctx, "t-none")
			assert.ErrorIs(t, err, repo.ErrNotFound)
		})
	}
}

func TestCollectionOrderAndDelete(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"u-c", "u-a", "u-b"} {
				require.NoError(t, r.Users.Upsert(ctx, id, 1, domain.User{ID: id, Status: domain.UserActive}))
			}
			require.NoError(t, r.Users.Delete(ctx, "u-a"))
			assert.ErrorIs(t, r.Users.Delete(ctx, "u-a"), repo.ErrNotFound)

			all, err := r.Users.All(ctx)
			require.NoError(t, err)
			var ids []string
			for _, u := range all {
				ids = append(ids, u.ID)
			}
			assert.Equal(t, []string{"u-c", "u-b"}, ids, "insertion order")
		})
	}
}

func TestStoredValuesAreCopies(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := domain.ProcessRun{ID: "r1", StepValues: map[string]domain.StepValue{"a": {Text: "x"}}, Revision: 1}
			require.NoError(t, r.Runs.Upsert(ctx, run.ID, 1, run))
			run.StepValues["a"] = domain.StepValue{Text: "changed"}

			got, err := r.Runs.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "x", got.StepValues["a"].Text)
		})
	}
}

func TestFamilyAndTasksForRun(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, p := range []domain.ProcessDefinition{
				{ID: "p1", RootID: "p1", VersionNumber: 1},
				{ID: "p2", RootID: "p1", VersionNumber: 2},
				{ID: "q1", RootID: "q1", VersionNumber: 1},
			} {
				require.NoError(t, r.Processes.Upsert(ctx, p.ID, 1, p))
			}
			family, err := r.Family(ctx, "p1")
			require.NoError(t, err)
			assert.Len(t, family, 2)

			require.NoError(t, r.Tasks.Upsert(ctx, "k1", 1, domain.Task{ID: "k1", RunID: "r1"}))
			require.NoError(t, r.Tasks.Upsert(ctx, "k2", 1, domain.Task{ID: "k2", RunID: "r2"}))
			tasks, err := r.TasksForRun(ctx, "r2")
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, "k2", tasks[0].ID)
		})
	}
}

func TestSQLiteAtomicRollsBack(t *testing.T) {
	r := openSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := r.Atomic(ctx, func(tx repo.Repo) error {
		if err := tx.Teams.Upsert(ctx, "t-ops", 1, domain.Team{ID: "t-ops"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = r.Teams.Get(ctx, "t-ops")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, r.Atomic(ctx, func(tx repo.Repo) error {
		return tx.Teams.Upsert(ctx, "t-ops", 1, domain.Team{ID: "t-ops"})
	}))
	_, err = r.Teams.Get(ctx, "t-ops")
	assert.NoError(t, err)
}
