package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"procline/internal/domain"
)

// NewMemory returns a process-local repo. Atomic runs fn directly; the engine
// performs every check before its first write, so only storage faults could
// leave a partial write and memory has none.
func NewMemory() Repo {
	return Repo{
		Users:     newMemoryCollection[domain.User](kindUser),
		Teams:     newMemoryCollection[domain.Team](kindTeam),
		Processes: newMemoryCollection[domain.ProcessDefinition](kindProcess),
		Runs:      newMemoryCollection[domain.ProcessRun](kindRun),
		Tasks:     newMemoryCollection[domain.Task](kindTask),
	}
}

type memoryDoc struct {
	revision int
	body     []byte
}

type memoryCollection[T any] struct {
	kind  string
	mu    sync.RWMutex
	order []string
	docs  map[string]memoryDoc
}

func newMemoryCollection[T any](kind string) *memoryCollection[T] {
	return &memoryCollection[T]{kind: kind, docs: map[string]memoryDoc{}}
}

// Values are stored encoded so callers never share maps or slices with the store.
func (c *memoryCollection[T]) decode(id string, d memoryDoc) (T, error) {
	var v T
	if err := json.Unmarshal(d.body, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", c.kind, id, err)
	}
	return v, nil
}

func (c *memoryCollection[T]) All(_ context.Context) ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		v, err := c.decode(id, c.docs[id])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *memoryCollection[T]) Get(_ context.Context, id string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", c.kind, id, ErrNotFound)
	}
	return c.decode(id, d)
}

func (c *memoryCollection[T]) Upsert(_ context.Context, id string, revision int, v T) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, exists := c.docs[id]
	switch {
	case revision <= 1 && exists:
		return fmt.Errorf("%s %s at revision %d: %w", c.kind, id, revision, ErrStaleRevision)
	case revision > 1 && !exists:
		return fmt.Errorf("%s %s: %w", c.kind, id, ErrNotFound)
	case revision > 1 && cur.revision != revision-1:
		return fmt.Errorf("%s %s at revision %d: %w", c.kind, id, revision, ErrStaleRevision)
	}
	if !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = memoryDoc{revision: revision, body: body}
	return nil
}

func (c *memoryCollection[T]) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%s %s: %w", c.kind, id, ErrNotFound)
	}
	delete(c.docs, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	return nil
}
