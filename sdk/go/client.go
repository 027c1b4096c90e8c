package proclinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Procline HTTP API client. Every request acts as UserID.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, userID string) *Client {
	return &Client{
		BaseURL: baseURL,
		UserID:  userID,
		Timeout: 10 * time.Second,
	}
}

// AsUser returns a copy of the client acting as another user.
func (c *Client) AsUser(userID string) *Client {
	cp := *c
	cp.UserID = userID
	return &cp
}

// Step is a process step (partial).
type Step struct {
	ID         string `json:"id,omitempty"`
	OrderIndex int    `json:"order_index,omitempty"`
	Text       string `json:"text"`
	InputType  string `json:"input_type,omitempty"`
	Required   bool   `json:"required,omitempty"`
}

// Process represents one process version (partial).
type Process struct {
	ID                  string `json:"id"`
	RootID              string `json:"root_id"`
	VersionNumber       int    `json:"version_number"`
	Status              string `json:"status"`
	Title               string `json:"title"`
	Category            string `json:"category"`
	SequentialExecution bool   `json:"sequential_execution"`
	Steps               []Step `json:"steps"`
	Revision            int    `json:"revision"`
}

// Freshness is the review status of a process version.
type Freshness struct {
	Status        string `json:"status"`
	DaysRemaining int    `json:"days_remaining"`
}

// ProcessView is a process with its freshness report.
type ProcessView struct {
	Process   Process   `json:"process"`
	Freshness Freshness `json:"freshness"`
}

// CreateProcess is the payload for a new process family.
type CreateProcess struct {
	Title               string `json:"title"`
	Description         string `json:"description,omitempty"`
	Category            string `json:"category"`
	ReviewFrequencyDays int    `json:"review_frequency_days,omitempty"`
	ReviewDueLeadDays   int    `json:"review_due_lead_days,omitempty"`
	SequentialExecution bool   `json:"sequential_execution,omitempty"`
	Steps               []Step `json:"steps,omitempty"`
}

// Run represents a process run (partial).
type Run struct {
	ID               string   `json:"id"`
	RootProcessID    string   `json:"root_process_id"`
	VersionID        string   `json:"version_id"`
	Name             string   `json:"run_name"`
	Status           string   `json:"status"`
	CompletedStepIDs []string `json:"completed_step_ids"`
	HealthScore      int      `json:"health_score"`
	Revision         int      `json:"revision"`
}

// RunView is a run with its derived progress fields.
type RunView struct {
	Run                     Run      `json:"run"`
	Progress                int      `json:"progress"`
	UnresolvedBlockers      int      `json:"unresolved_blockers"`
	CanSubmitWithExceptions bool     `json:"can_submit_with_exceptions"`
	LockedSteps             []string `json:"locked_steps"`
}

// Feedback is a comment attached to a run step.
type Feedback struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Text     string `json:"text"`
	Resolved bool   `json:"resolved"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	At         time.Time      `json:"at"`
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProcess creates a process family as a DRAFT v1.
func (c *Client) CreateProcess(ctx context.Context, in CreateProcess) (ProcessView, error) {
	var resp ProcessView
	err := c.do(ctx, http.MethodPost, "processes", in, &resp)
	return resp, err
}

// Process fetches a process version by id.
func (c *Client) Process(ctx context.Context, id string) (ProcessView, error) {
	var resp ProcessView
	err := c.do(ctx, http.MethodGet, "processes/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Transition applies a lifecycle action: submit, recall, reject, publish or refresh.
func (c *Client) Transition(ctx context.Context, id, action string) (ProcessView, error) {
	var resp ProcessView
	endpoint := fmt.Sprintf("processes/%s/%s", url.PathEscape(id), url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Publish moves a DRAFT through review to PUBLISHED.
func (c *Client) Publish(ctx context.Context, id string) (ProcessView, error) {
	if _, err := c.Transition(ctx, id, "submit"); err != nil {
		return ProcessView{}, err
	}
	return c.Transition(ctx, id, "publish")
}

// StartRun starts a run of a PUBLISHED version.
func (c *Client) StartRun(ctx context.Context, processID, name string, dueAt *time.Time) (RunView, error) {
	body := map[string]any{}
	if name != "" {
		body["run_name"] = name
	}
	if dueAt != nil {
		body["due_at"] = dueAt
	}
	var resp RunView
	endpoint := fmt.Sprintf("processes/%s/runs", url.PathEscape(processID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Run fetches a run visible to the acting user.
func (c *Client) Run(ctx context.Context, id string) (RunView, error) {
	var resp RunView
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ToggleStep toggles a CHECKBOX step.
func (c *Client) ToggleStep(ctx context.Context, runID, stepID string) (RunView, error) {
	var resp RunView
	err := c.do(ctx, http.MethodPost, c.stepPath(runID, stepID, "toggle"), nil, &resp)
	return resp, err
}

// SetStepText sets or clears a TEXT_INPUT value.
func (c *Client) SetStepText(ctx context.Context, runID, stepID, text string) (RunView, error) {
	var resp RunView
	err := c.do(ctx, http.MethodPut, c.stepPath(runID, stepID, "value"), map[string]any{"text": text}, &resp)
	return resp, err
}

// AddFeedback attaches feedback to a step.
func (c *Client) AddFeedback(ctx context.Context, runID, stepID, kind, text string) (Feedback, error) {
	var resp Feedback
	body := map[string]any{"type": kind, "text": text}
	err := c.do(ctx, http.MethodPost, c.stepPath(runID, stepID, "feedback"), body, &resp)
	return resp, err
}

// ResolveFeedback marks feedback resolved.
func (c *Client) ResolveFeedback(ctx context.Context, runID, feedbackID string) (RunView, error) {
	var resp RunView
	endpoint := fmt.Sprintf("runs/%s/feedback/%s/resolve", url.PathEscape(runID), url.PathEscape(feedbackID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitRun submits a READY_TO_SUBMIT run.
func (c *Client) SubmitRun(ctx context.Context, runID string) (RunView, error) {
	var resp RunView
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("runs/%s/submit", url.PathEscape(runID)), nil, &resp)
	return resp, err
}

// ValidateRun approves or rejects a submitted run.
func (c *Client) ValidateRun(ctx context.Context, runID string, approved bool, reason string) (RunView, error) {
	var resp RunView
	body := map[string]any{"approved": approved, "reason": reason}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("runs/%s/validate", url.PathEscape(runID)), body, &resp)
	return resp, err
}

// CancelRun cancels a run.
func (c *Client) CancelRun(ctx context.Context, runID, reason string) (RunView, error) {
	var resp RunView
	body := map[string]any{"reason": reason}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("runs/%s/cancel", url.PathEscape(runID)), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) stepPath(runID, stepID, action string) string {
	return fmt.Sprintf("runs/%s/steps/%s/%s", url.PathEscape(runID), url.PathEscape(stepID), action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
