package events

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"procline/internal/config"
	"procline/internal/domain"
)

const (
	defaultRelayInterval = 2 * time.Second
	defaultRelayTimeout  = 5 * time.Second
	defaultRelayBatch    = 100
)

// Relay polls the events table and POSTs new events to each configured webhook.
// Each target keeps a persisted cursor; a target seen for the first time starts
// at the newest event so history is not replayed.
type Relay struct {
	Writer   Writer
	Webhooks []config.WebhookConfig
	Client   *http.Client
	Interval time.Duration
	Logger   *slog.Logger
}

func NewRelay(w Writer, hooks []config.WebhookConfig, logger *slog.Logger) *Relay {
	return &Relay{
		Writer:   w,
		Webhooks: hooks,
		Client:   &http.Client{Timeout: defaultRelayTimeout},
		Interval: defaultRelayInterval,
		Logger:   logger,
	}
}

// Run dispatches until ctx is done. With no webhooks it returns immediately.
func (r *Relay) Run(ctx context.Context) error {
	if len(r.Webhooks) == 0 {
		return nil
	}
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchAll makes one delivery pass over every webhook.
func (r *Relay) DispatchAll(ctx context.Context) {
	for _, hook := range r.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := r.dispatch(ctx, hook); err != nil {
			logger(r.Logger).WarnContext(ctx, "relay delivery failed", "url", hook.URL, "error", err)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, hook config.WebhookConfig) error {
	cursor, err := r.cursor(ctx, hook.URL)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	evts, err := r.Writer.List(ctx, Query{AfterID: cursor, Limit: defaultRelayBatch})
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if filter.match(evt.Type) {
			if err := r.post(ctx, hook, evt); err != nil {
				return err
			}
		}
		if err := r.setCursor(ctx, hook.URL, evt.ID); err != nil {
			return fmt.Errorf("store cursor: %w", err)
		}
	}
	return nil
}

func (r *Relay) cursor(ctx context.Context, target string) (int64, error) {
	var id int64
	err := r.Writer.DB.QueryRowContext(ctx, `SELECT last_event_id FROM relay_cursors WHERE target=?`, target).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := r.Writer.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, r.setCursor(ctx, target, id)
}

func (r *Relay) setCursor(ctx context.Context, target string, id int64) error {
	_, err := r.Writer.DB.ExecContext(ctx, `INSERT INTO relay_cursors(target,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(target) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`,
		target, id, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (r *Relay) post(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Procline-Event", evt.Type)
	req.Header.Set("X-Procline-Delivery", strconv.FormatInt(evt.ID, 10))
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRelayTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return eventFilter{all: len(set) == 0, set: set}
}

func (f eventFilter) match(evtType string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evtType]
	return ok
}
