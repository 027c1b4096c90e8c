// Package events carries domain announcements out of the core.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"procline/internal/domain"
)

// Sink receives events. Publishing is fire-and-forget: sinks handle their own failures.
type Sink interface {
	Publish(ctx context.Context, evt domain.Event)
}

// Writer appends events to the workspace events table.
type Writer struct {
	DB     *sql.DB
	Logger *slog.Logger
}

func (w Writer) Publish(ctx context.Context, evt domain.Event) {
	if err := w.Append(ctx, evt); err != nil {
		logger(w.Logger).ErrorContext(ctx, "append event", "type", evt.Type, "entity_id", evt.EntityID, "error", err)
	}
}

func (w Writer) Append(ctx context.Context, evt domain.Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	if evt.Severity == "" {
		evt.Severity = domain.SeverityInfo
	}
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,severity,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		evt.At.UTC().Format(time.RFC3339Nano), evt.Type, string(evt.Severity), evt.EntityKind, nullable(evt.EntityID), nullable(evt.ActorID), string(data))
	return err
}

// Query filters the event table. Zero values match everything.
type Query struct {
	AfterID    int64
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Newest     bool
}

func (w Writer) List(ctx context.Context, q Query) ([]domain.Event, error) {
	clauses := []string{"id > ?"}
	args := []any{q.AfterID}
	if q.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, q.Type)
	}
	if q.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, q.EntityKind)
	}
	if q.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, q.EntityID)
	}
	order := "ASC"
	if q.Newest {
		order = "DESC"
	}
	query := `SELECT id,ts,type,severity,entity_kind,COALESCE(entity_id,''),COALESCE(actor_id,''),payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ` + order
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			evt      domain.Event
			ts, body string
			severity string
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.Type, &severity, &evt.EntityKind, &evt.EntityID, &evt.ActorID, &body); err != nil {
			return nil, err
		}
		evt.Severity = domain.Severity(severity)
		evt.At, _ = time.Parse(time.RFC3339Nano, ts)
		if err := json.Unmarshal([]byte(body), &evt.Payload); err != nil {
			return nil, fmt.Errorf("decode event %d payload: %w", evt.ID, err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, evt domain.Event) {
	level := slog.LevelInfo
	if evt.Severity == domain.SeverityCritical {
		level = slog.LevelWarn
	}
	logger(s.Logger).Log(ctx, level, "event", "type", evt.Type, "entity_kind", evt.EntityKind, "entity_id", evt.EntityID, "actor_id", evt.ActorID)
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, evt domain.Event) {
	for _, s := range m {
		s.Publish(ctx, evt)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Publish(_ context.Context, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(t string) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
