package server

import (
	"time"

	"procline/internal/domain"
	"procline/internal/engine"
	"procline/internal/engine/freshness"
)

// Request payloads

type AssignmentRequest struct {
	JobTitles []string `json:"job_titles,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	TeamIDs   []string `json:"team_ids,omitempty"`
}

type StepRequest struct {
	ID         string             `json:"id,omitempty"`
	OrderIndex int                `json:"order_index,omitempty"`
	Text       string             `json:"text"`
	InputType  string             `json:"input_type,omitempty" enum:"CHECKBOX,TEXT_INPUT,FILE_UPLOAD,INFO"`
	Required   bool               `json:"required,omitempty"`
	Assignment *AssignmentRequest `json:"assignment,omitempty"`
}

type DelegationRequest struct {
	Kind  string `json:"kind" enum:"user,job_title,team"`
	Value string `json:"value"`
}

type GovernanceRequest struct {
	Editor       *DelegationRequest `json:"editor,omitempty"`
	Publisher    *DelegationRequest `json:"publisher,omitempty"`
	RunValidator *DelegationRequest `json:"run_validator,omitempty"`
	Executor     *DelegationRequest `json:"executor,omitempty"`
}

type CreateProcessRequest struct {
	Title               string             `json:"title"`
	Description         string             `json:"description,omitempty"`
	Category            string             `json:"category" doc:"Owning team id"`
	IsPublic            bool               `json:"is_public,omitempty"`
	ReviewFrequencyDays int                `json:"review_frequency_days,omitempty" minimum:"0"`
	ReviewDueLeadDays   int                `json:"review_due_lead_days,omitempty" minimum:"0"`
	SequentialExecution bool               `json:"sequential_execution,omitempty"`
	Steps               []StepRequest      `json:"steps,omitempty"`
	Governance          *GovernanceRequest `json:"governance,omitempty"`
}

type UpdateDraftRequest struct {
	Title               *string            `json:"title,omitempty"`
	Description         *string            `json:"description,omitempty"`
	IsPublic            *bool              `json:"is_public,omitempty"`
	ReviewFrequencyDays *int               `json:"review_frequency_days,omitempty"`
	ReviewDueLeadDays   *int               `json:"review_due_lead_days,omitempty"`
	SequentialExecution *bool              `json:"sequential_execution,omitempty"`
	Steps               []StepRequest      `json:"steps,omitempty"`
	Governance          *GovernanceRequest `json:"governance,omitempty"`
}

type NewDraftRequest struct {
	OverwriteDraftID string `json:"overwrite_draft_id,omitempty"`
}

type ResolveConflictRequest struct {
	Choice string `json:"choice" enum:"continue,discard"`
}

type CreateRunRequest struct {
	Name  string     `json:"run_name,omitempty"`
	DueAt *time.Time `json:"due_at,omitempty"`
}

type StepValueRequest struct {
	Text string          `json:"text,omitempty"`
	File *domain.FileRef `json:"file,omitempty"`
}

type FeedbackRequest struct {
	Type string `json:"type" enum:"BLOCKER,ADVISORY,PRAISE"`
	Text string `json:"text"`
}

type ValidateRunRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RenameTeamRequest struct {
	Name string `json:"name"`
}

// Response payloads

type ProcessResponse struct {
	Process   domain.ProcessDefinition `json:"process"`
	Freshness freshness.Report         `json:"freshness"`
}

type RunResponse struct {
	Run                     domain.ProcessRun `json:"run"`
	Progress                int               `json:"progress"`
	UnresolvedBlockers      int               `json:"unresolved_blockers"`
	CanSubmitWithExceptions bool              `json:"can_submit_with_exceptions"`
	LockedSteps             []string          `json:"locked_steps"`
	Tasks                   []domain.Task     `json:"tasks,omitempty"`
}

type LaunchCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type RefreshCheckResponse struct {
	Allowed bool `json:"allowed"`
}

type InteractResponse struct {
	Allowed  bool `json:"allowed"`
	Override bool `json:"override"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type bodyOf[T any] struct {
	Body T
}

func reply[T any](v T) *bodyOf[T] { return &bodyOf[T]{Body: v} }

func (r StepRequest) step() domain.ProcessStep {
	s := domain.ProcessStep{
		ID:         r.ID,
		OrderIndex: r.OrderIndex,
		Text:       r.Text,
		InputType:  domain.InputType(r.InputType),
		Required:   r.Required,
	}
	if r.Assignment != nil {
		s.Assignment = domain.Assignment{JobTitles: r.Assignment.JobTitles, UserIDs: r.Assignment.UserIDs, TeamIDs: r.Assignment.TeamIDs}
	}
	return s
}

func steps(in []StepRequest) []domain.ProcessStep {
	if in == nil {
		return nil
	}
	out := make([]domain.ProcessStep, 0, len(in))
	for _, s := range in {
		out = append(out, s.step())
	}
	return out
}

func (d *DelegationRequest) delegation() domain.Delegation {
	if d == nil {
		return domain.Delegation{}
	}
	return domain.Delegation{Kind: domain.DelegationKind(d.Kind), Value: d.Value}
}

func (g *GovernanceRequest) governance() domain.Governance {
	if g == nil {
		return domain.Governance{}
	}
	return domain.Governance{
		Editor:       g.Editor.delegation(),
		Publisher:    g.Publisher.delegation(),
		RunValidator: g.RunValidator.delegation(),
		Executor:     g.Executor.delegation(),
	}
}

func processResponse(p domain.ProcessDefinition, now time.Time) ProcessResponse {
	return ProcessResponse{Process: p, Freshness: freshness.Calculate(p, now)}
}

func runResponse(run domain.ProcessRun, p domain.ProcessDefinition, tasks []domain.Task) RunResponse {
	locked := []string{}
	for _, s := range p.OrderedSteps() {
		if s.Actionable() && engine.StepLocked(p, run, s.ID) {
			locked = append(locked, s.ID)
		}
	}
	return RunResponse{
		Run:                     run,
		Progress:                engine.Progress(run, p),
		UnresolvedBlockers:      engine.TotalUnresolvedBlockers(run),
		CanSubmitWithExceptions: engine.CanSubmitWithExceptions(run, p),
		LockedSteps:             locked,
		Tasks:                   tasks,
	}
}
