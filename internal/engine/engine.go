package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"procline/internal/config"
	"procline/internal/directory"
	"procline/internal/domain"
	"procline/internal/events"
	"procline/internal/repo"
)

// Engine applies lifecycle and run operations. Mutations of one process family
// or one run are serialized through a keyed lock; persistence adds a revision
// compare-and-swap for writers outside this process.
type Engine struct {
	Repo   repo.Repo
	Events events.Sink
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time

	locks *lockSet
}

func New(r repo.Repo, sink events.Sink, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default("procline")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.LogSink{Logger: logger}
	}
	return Engine{
		Repo:   r,
		Events: sink,
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
		locks:  &lockSet{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Clock returns the engine's current time in UTC.
func (e Engine) Clock() time.Time { return e.now() }

// lockSet hands out one mutex per key. An entry lives only while some caller
// holds or waits for it.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (l *lockSet) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*keyLock{}
	}
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	k.Lock()
	return func() {
		k.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *lockSet) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (e Engine) lock(key string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.lock(key)
}

func familyKey(rootID string) string { return "family:" + rootID }
func runKey(runID string) string     { return "run:" + runID }

// Directory loads a snapshot of users and teams.
func (e Engine) Directory(ctx context.Context) (*directory.Directory, error) {
	users, err := e.Repo.Users.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	teams, err := e.Repo.Teams.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}
	return directory.New(users, teams), nil
}

// actor returns the acting user; inactive users may not act at all.
func (e Engine) actor(dir *directory.Directory, actorID, action string) (domain.User, error) {
	u, ok := dir.User(actorID)
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", actorID, repo.ErrNotFound)
	}
	if !u.Active() {
		return domain.User{}, AuthorizationDeniedError{ActorID: actorID, Action: action}
	}
	return u, nil
}

func (e Engine) publish(ctx context.Context, evtType, kind, id, actorID string, payload map[string]any) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(ctx, domain.Event{
		At:         e.now(),
		Type:       evtType,
		Severity:   domain.SeverityInfo,
		EntityKind: kind,
		EntityID:   id,
		ActorID:    actorID,
		Payload:    payload,
	})
}

// ImportDirectory upserts every team and user of the seed.
func (e Engine) ImportDirectory(ctx context.Context, seed directory.Seed) error {
	if err := seed.Validate(); err != nil {
		return err
	}
	return e.Repo.Atomic(ctx, func(r repo.Repo) error {
		for _, t := range seed.Teams {
			t.Revision = 1
			if cur, err := r.Teams.Get(ctx, t.ID); err == nil {
				t.Revision = cur.Revision + 1
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err := r.Teams.Upsert(ctx, t.ID, t.Revision, t); err != nil {
				return err
			}
		}
		for _, u := range seed.Users {
			u.Revision = 1
			if cur, err := r.Users.Get(ctx, u.ID); err == nil {
				u.Revision = cur.Revision + 1
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err := r.Users.Upsert(ctx, u.ID, u.Revision, u); err != nil {
				return err
			}
		}
		return nil
	})
}

// RenameTeam changes the display label only; every reference holds the team id.
func (e Engine) RenameTeam(ctx context.Context, teamID, name string) (domain.Team, error) {
	if name == "" {
		return domain.Team{}, errors.New("team name is required")
	}
	unlock := e.lock("team:" + teamID)
	defer unlock()
	dir, err := e.Directory(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	t, ok := dir.Team(teamID)
	if !ok {
		return domain.Team{}, fmt.Errorf("team %s: %w", teamID, repo.ErrNotFound)
	}
	if other, ok := dir.TeamByName(name); ok && other.ID != teamID {
		return domain.Team{}, fmt.Errorf("duplicate team name %q: used by %s", name, other.ID)
	}
	old := t.Name
	t.Name = name
	t.Revision++
	if err := e.Repo.Teams.Upsert(ctx, t.ID, t.Revision, t); err != nil {
		return domain.Team{}, err
	}
	e.publish(ctx, "team.renamed", "team", t.ID, "", map[string]any{"from": old, "to": name})
	return t, nil
}
