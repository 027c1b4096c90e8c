// Package repo stores entities as key-addressable collections, one per entity type.
package repo

import (
	"context"
	"errors"

	"procline/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStaleRevision = errors.New("stale revision")
)

// Collection is the persistence contract the engine relies on.
// Upsert takes the entity's new revision: 1 inserts, n>1 replaces revision n-1.
// All returns entities in insertion order.
type Collection[T any] interface {
	All(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Upsert(ctx context.Context, id string, revision int, v T) error
	Delete(ctx context.Context, id string) error
}

type Repo struct {
	Users     Collection[domain.User]
	Teams     Collection[domain.Team]
	Processes Collection[domain.ProcessDefinition]
	Runs      Collection[domain.ProcessRun]
	Tasks     Collection[domain.Task]

	atomic func(ctx context.Context, fn func(Repo) error) error
}

// Atomic runs fn against a repo whose writes commit together or not at all.
func (r Repo) Atomic(ctx context.Context, fn func(Repo) error) error {
	if r.atomic == nil {
		return fn(r)
	}
	return r.atomic(ctx, fn)
}

const (
	kindUser    = "user"
	kindTeam    = "team"
	kindProcess = "process"
	kindRun     = "run"
	kindTask    = "task"
)

// TasksForRun filters the task collection by run id.
func (r Repo) TasksForRun(ctx context.Context, runID string) ([]domain.Task, error) {
	all, err := r.Tasks.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Task
	for _, t := range all {
		if t.RunID == runID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Family returns every version sharing rootID.
func (r Repo) Family(ctx context.Context, rootID string) ([]domain.ProcessDefinition, error) {
	all, err := r.Processes.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.ProcessDefinition
	for _, p := range all {
		if p.RootID == rootID {
			out = append(out, p)
		}
	}
	return out, nil
}
