package events_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/config"
	"procline/internal/db"
	"procline/internal/domain"
	"procline/internal/events"
	"procline/internal/logging"
	"procline/internal/migrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)
	return conn
}

func event(typ, kind, id string) domain.Event {
	return domain.Event{
		At:         time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Type:       typ,
		EntityKind: kind,
		EntityID:   id,
		Payload:    map[string]any{"id": id},
	}
}

func TestWriterList(t *testing.T) {
	w := events.Writer{DB: openDB(t), Logger: logging.Discard()}
	ctx := context.Background()
	require.NoError(t, w.Append(ctx, event("process.created", "process", "p1")))
	require.NoError(t, w.Append(ctx, event("run.created", "run", "r1")))
	w.Publish(ctx, event("run.step.updated", "run", "r1"))

	all, err := w.List(ctx, events.Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "process.created", all[0].Type)
	assert.Equal(t, domain.SeverityInfo, all[0].Severity)
	assert.Equal(t, "p1", all[0].Payload["id"])

	runs, err := w.List(ctx, events.Query{EntityKind: "run", EntityID: "r1"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	latest, err := w.List(ctx, events.Query{Newest: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "run.step.updated", latest[0].Type)

	after, err := w.List(ctx, events.Query{AfterID: all[1].ID, Type: "run.step.updated"})
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &events.Recorder{}, &events.Recorder{}
	sink := events.Multi{a, events.LogSink{Logger: logging.Discard()}, b}
	sink.Publish(context.Background(), event("run.created", "run", "r1"))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.OfType("run.created"), 1)
	assert.Empty(t, b.OfType("run.cancelled"))
}

type receiver struct {
	mu     sync.Mutex
	status int
	got    []http.Header
	bodies []domain.Event
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.status != 0 && rc.status != http.StatusOK {
		w.WriteHeader(rc.status)
		return
	}
	var evt domain.Event
	_ = json.NewDecoder(r.Body).Decode(&evt)
	rc.got = append(rc.got, r.Header.Clone())
	rc.bodies = append(rc.bodies, evt)
}

func (rc *receiver) deliveries() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.got)
}

func TestRelayDeliversNewMatchingEvents(t *testing.T) {
	w := events.Writer{DB: openDB(t), Logger: logging.Discard()}
	ctx := context.Background()
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	require.NoError(t, w.Append(ctx, event("run.health.critical", "run", "old")))
	relay := events.NewRelay(w, []config.WebhookConfig{{URL: srv.URL, Events: []string{"run.health.critical"}}}, logging.Discard())

	relay.DispatchAll(ctx)
	assert.Zero(t, rc.deliveries(), "a new target starts after the existing history")

	require.NoError(t, w.Append(ctx, event("run.health.critical", "run", "r1")))
	require.NoError(t, w.Append(ctx, event("process.created", "process", "p1")))
	relay.DispatchAll(ctx)
	require.Equal(t, 1, rc.deliveries())
	assert.Equal(t, "run.health.critical", rc.got[0].Get("X-Procline-Event"))
	assert.Equal(t, strconv.FormatInt(rc.bodies[0].ID, 10), rc.got[0].Get("X-Procline-Delivery"))
	assert.Equal(t, "r1", rc.bodies[0].EntityID)

	relay.DispatchAll(ctx)
	assert.Equal(t, 1, rc.deliveries(), "the cursor moved past filtered events too")
}

func TestRelayRetriesAfterFailure(t *testing.T) {
	w := events.Writer{DB: openDB(t), Logger: logging.Discard()}
	ctx := context.Background()
	rc := &receiver{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	relay := events.NewRelay(w, []config.WebhookConfig{{URL: srv.URL}}, logging.Discard())
	relay.DispatchAll(ctx)
	require.NoError(t, w.Append(ctx, event("run.created", "run", "r1")))

	relay.DispatchAll(ctx)
	assert.Zero(t, rc.deliveries())

	rc.mu.Lock()
	rc.status = http.StatusOK
	rc.mu.Unlock()
	relay.DispatchAll(ctx)
	require.Equal(t, 1, rc.deliveries())
	assert.Equal(t, "run.created", rc.bodies[0].Type)
}

func TestRelayRunWithoutWebhooks(t *testing.T) {
	relay := events.NewRelay(events.Writer{}, nil, logging.Discard())
	assert.NoError(t, relay.Run(context.Background()))
}
