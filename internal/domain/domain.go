package domain

import (
	"slices"
	"strings"
	"time"
)

type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInactive UserStatus = "INACTIVE"
)

// Permissions are independent flags; none implies another.
type Permissions struct {
	CanDesign          bool `json:"can_design" yaml:"can_design"`
	CanVerifyDesign    bool `json:"can_verify_design" yaml:"can_verify_design"`
	CanExecute         bool `json:"can_execute" yaml:"can_execute"`
	CanVerifyRun       bool `json:"can_verify_run" yaml:"can_verify_run"`
	CanManageTeam      bool `json:"can_manage_team" yaml:"can_manage_team"`
	CanAccessBilling   bool `json:"can_access_billing" yaml:"can_access_billing"`
	CanAccessWorkspace bool `json:"can_access_workspace" yaml:"can_access_workspace"`
}

// All reports whether every flag is set.
func (p Permissions) All() bool {
	return p.CanDesign && p.CanVerifyDesign && p.CanExecute && p.CanVerifyRun &&
		p.CanManageTeam && p.CanAccessBilling && p.CanAccessWorkspace
}

type User struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Email       string      `json:"email,omitempty" yaml:"email"`
	JobTitle    string      `json:"job_title,omitempty" yaml:"job_title"`
	TeamID      string      `json:"team_id,omitempty" yaml:"team_id"`
	Status      UserStatus  `json:"status" yaml:"status" enum:"ACTIVE,INACTIVE"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
	Revision    int         `json:"revision" yaml:"-"`
}

func (u User) Active() bool { return u.Status == UserActive }

// IsGlobalAdmin holds for users carrying every permission flag.
func (u User) IsGlobalAdmin() bool { return u.Permissions.All() }

type Team struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Color       string `json:"color,omitempty" yaml:"color"`
	LeadUserID  string `json:"lead_user_id,omitempty" yaml:"lead_user_id"`
	Revision    int    `json:"revision" yaml:"-"`
}

type Role string

const (
	RoleEditor       Role = "editor"
	RolePublisher    Role = "publisher"
	RoleRunValidator Role = "run_validator"
	RoleExecutor     Role = "executor"
)

var Roles = []Role{RoleEditor, RolePublisher, RoleRunValidator, RoleExecutor}

type DelegationKind string

const (
	DelegateNone     DelegationKind = ""
	DelegateUser     DelegationKind = "user"
	DelegateJobTitle DelegationKind = "job_title"
	DelegateTeam     DelegationKind = "team"
)

// Delegation points a governance role (or a task) at a user, a job title or a team.
type Delegation struct {
	Kind  DelegationKind `json:"kind,omitempty" yaml:"kind" enum:"user,job_title,team"`
	Value string         `json:"value,omitempty" yaml:"value"`
}

func ToUser(id string) Delegation        { return Delegation{Kind: DelegateUser, Value: id} }
func ToJobTitle(title string) Delegation { return Delegation{Kind: DelegateJobTitle, Value: title} }
func ToTeam(teamID string) Delegation    { return Delegation{Kind: DelegateTeam, Value: teamID} }

func (d Delegation) IsNone() bool { return d.Kind == DelegateNone || d.Value == "" }

func (d Delegation) String() string {
	if d.IsNone() {
		return "-"
	}
	return string(d.Kind) + ":" + d.Value
}

type Governance struct {
	Editor       Delegation `json:"editor" yaml:"editor"`
	Publisher    Delegation `json:"publisher" yaml:"publisher"`
	RunValidator Delegation `json:"run_validator" yaml:"run_validator"`
	Executor     Delegation `json:"executor" yaml:"executor"`
}

func (g Governance) For(role Role) Delegation {
	switch role {
	case RoleEditor:
		return g.Editor
	case RolePublisher:
		return g.Publisher
	case RoleRunValidator:
		return g.RunValidator
	case RoleExecutor:
		return g.Executor
	}
	return Delegation{}
}

type ProcessStatus string

const (
	ProcessDraft     ProcessStatus = "DRAFT"
	ProcessInReview  ProcessStatus = "IN_REVIEW"
	ProcessPublished ProcessStatus = "PUBLISHED"
	ProcessArchived  ProcessStatus = "ARCHIVED"
)

type InputType string

const (
	InputCheckbox   InputType = "CHECKBOX"
	InputText       InputType = "TEXT_INPUT"
	InputFileUpload InputType = "FILE_UPLOAD"
	InputInfo       InputType = "INFO"
)

// Assignment narrows who acts on a step. Empty means any executor.
type Assignment struct {
	JobTitles []string `json:"job_titles,omitempty" yaml:"job_titles"`
	UserIDs   []string `json:"user_ids,omitempty" yaml:"user_ids"`
	TeamIDs   []string `json:"team_ids,omitempty" yaml:"team_ids"`
}

func (a Assignment) Empty() bool {
	return len(a.JobTitles) == 0 && len(a.UserIDs) == 0 && len(a.TeamIDs) == 0
}

// Delegations flattens the assignment into task assignees.
func (a Assignment) Delegations() []Delegation {
	var out []Delegation
	for _, id := range a.UserIDs {
		out = append(out, ToUser(id))
	}
	for _, t := range a.JobTitles {
		out = append(out, ToJobTitle(t))
	}
	for _, id := range a.TeamIDs {
		out = append(out, ToTeam(id))
	}
	return out
}

type ProcessStep struct {
	ID         string     `json:"id" yaml:"id"`
	OrderIndex int        `json:"order_index" yaml:"order_index"`
	Text       string     `json:"text" yaml:"text"`
	InputType  InputType  `json:"input_type" yaml:"input_type" enum:"CHECKBOX,TEXT_INPUT,FILE_UPLOAD,INFO"`
	Required   bool       `json:"required" yaml:"required"`
	Assignment Assignment `json:"assignment" yaml:"assignment"`
}

// Actionable steps take part in progress and gating; INFO steps never do.
func (s ProcessStep) Actionable() bool { return s.InputType != InputInfo }

// Automated steps complete from the presence of a value rather than a checkbox.
func (s ProcessStep) Automated() bool {
	return s.InputType == InputText || s.InputType == InputFileUpload
}

type ProcessDefinition struct {
	ID                  string        `json:"id"`
	RootID              string        `json:"root_id"`
	VersionNumber       int           `json:"version_number"`
	Status              ProcessStatus `json:"status" enum:"DRAFT,IN_REVIEW,PUBLISHED,ARCHIVED"`
	Title               string        `json:"title"`
	Description         string        `json:"description,omitempty"`
	OwningTeamID        string        `json:"category"`
	IsPublic            bool          `json:"is_public"`
	CreatedAt           time.Time     `json:"created_at"`
	CreatedBy           string        `json:"created_by"`
	PublishedAt         *time.Time    `json:"published_at,omitempty"`
	PublishedBy         string        `json:"published_by,omitempty"`
	LastReviewedAt      *time.Time    `json:"last_reviewed_at,omitempty"`
	LastReviewedBy      string        `json:"last_reviewed_by,omitempty"`
	ReviewFrequencyDays int           `json:"review_frequency_days"`
	ReviewDueLeadDays   int           `json:"review_due_lead_days"`
	SequentialExecution bool          `json:"sequential_execution"`
	Steps               []ProcessStep `json:"steps"`
	Governance          Governance    `json:"governance"`
	Revision            int           `json:"revision"`
}

// InFlight reports whether the version is still being worked on.
func (p ProcessDefinition) InFlight() bool {
	return p.Status == ProcessDraft || p.Status == ProcessInReview
}

// OrderedSteps returns a copy of the steps sorted by order index.
func (p ProcessDefinition) OrderedSteps() []ProcessStep {
	steps := slices.Clone(p.Steps)
	slices.SortStableFunc(steps, func(a, b ProcessStep) int { return a.OrderIndex - b.OrderIndex })
	return steps
}

func (p ProcessDefinition) Step(id string) (ProcessStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return ProcessStep{}, false
}

type RunStatus string

const (
	RunNotStarted    RunStatus = "NOT_STARTED"
	RunInProgress    RunStatus = "IN_PROGRESS"
	RunReadyToSubmit RunStatus = "READY_TO_SUBMIT"
	RunInReview      RunStatus = "IN_REVIEW"
	RunApproved      RunStatus = "APPROVED"
	RunRejected      RunStatus = "REJECTED"
	RunCancelled     RunStatus = "CANCELLED"
	RunCompleted     RunStatus = "COMPLETED"
)

// Terminal statuses are skipped by the reactor. REJECTED counts as terminal
// there even though a rejected run may be reworked.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunApproved, RunCancelled, RunRejected:
		return true
	}
	return false
}

// Editable statuses accept step interaction.
func (s RunStatus) Editable() bool {
	switch s {
	case RunNotStarted, RunInProgress, RunReadyToSubmit, RunRejected:
		return true
	}
	return false
}

type FeedbackType string

const (
	FeedbackBlocker  FeedbackType = "BLOCKER"
	FeedbackAdvisory FeedbackType = "ADVISORY"
	FeedbackPraise   FeedbackType = "PRAISE"
)

type Feedback struct {
	ID         string       `json:"id"`
	StepID     string       `json:"step_id"`
	AuthorID   string       `json:"author_id"`
	Text       string       `json:"text"`
	Type       FeedbackType `json:"type" enum:"BLOCKER,ADVISORY,PRAISE"`
	Resolved   bool         `json:"resolved"`
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
}

func (f Feedback) OpenBlocker() bool { return f.Type == FeedbackBlocker && !f.Resolved }

type FileRef struct {
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type StepValue struct {
	Checked bool     `json:"checked,omitempty"`
	Text    string   `json:"text,omitempty"`
	File    *FileRef `json:"file,omitempty"`
}

func (v StepValue) Present() bool {
	return v.Checked || strings.TrimSpace(v.Text) != "" || (v.File != nil && v.File.Name != "")
}

const overrideTag = " (Team Lead Override)"

type ActivityEntry struct {
	At       time.Time `json:"at"`
	ActorID  string    `json:"actor_id"`
	Action   string    `json:"action"`
	StepID   string    `json:"step_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Override bool      `json:"override,omitempty"`
}

func (a ActivityEntry) Message() string {
	msg := a.Action
	if a.Detail != "" {
		msg += ": " + a.Detail
	}
	if a.Override {
		msg += overrideTag
	}
	return msg
}

type ProcessRun struct {
	ID               string                `json:"id"`
	RootProcessID    string                `json:"root_process_id"`
	VersionID        string                `json:"version_id"`
	Name             string                `json:"run_name"`
	StartedBy        string                `json:"started_by"`
	StartedAt        time.Time             `json:"started_at"`
	StepValues       map[string]StepValue  `json:"step_values"`
	CompletedStepIDs []string              `json:"completed_step_ids"`
	StepFeedback     map[string][]Feedback `json:"step_feedback"`
	Status           RunStatus             `json:"status" enum:"NOT_STARTED,IN_PROGRESS,READY_TO_SUBMIT,IN_REVIEW,APPROVED,REJECTED,CANCELLED,COMPLETED"`
	ActivityLog      []ActivityEntry       `json:"activity_log"`
	DueAt            *time.Time            `json:"due_at,omitempty"`
	HealthScore      int                   `json:"health_score"`
	SubmittedAt      *time.Time            `json:"submitted_at,omitempty"`
	ValidatedAt      *time.Time            `json:"validated_at,omitempty"`
	ValidatorUserID  string                `json:"validator_user_id,omitempty"`
	ValidationReason string                `json:"validation_reason,omitempty"`
	Revision         int                   `json:"revision"`
}

func (r ProcessRun) Completed(stepID string) bool {
	return slices.Contains(r.CompletedStepIDs, stepID)
}

// SetCompleted adds or removes the step from the completed set.
func (r *ProcessRun) SetCompleted(stepID string, done bool) {
	i := slices.Index(r.CompletedStepIDs, stepID)
	switch {
	case done && i < 0:
		r.CompletedStepIDs = append(r.CompletedStepIDs, stepID)
		slices.Sort(r.CompletedStepIDs)
	case !done && i >= 0:
		r.CompletedStepIDs = slices.Delete(r.CompletedStepIDs, i, i+1)
	}
}

// Log prepends an entry; the activity log is kept newest-first.
func (r *ProcessRun) Log(e ActivityEntry) {
	r.ActivityLog = append([]ActivityEntry{e}, r.ActivityLog...)
}

func (r ProcessRun) HasOpenBlocker(stepID string) bool {
	for _, f := range r.StepFeedback[stepID] {
		if f.OpenBlocker() {
			return true
		}
	}
	return false
}

// UnresolvedBlockers counts open blockers across every step.
func (r ProcessRun) UnresolvedBlockers() int {
	n := 0
	for _, list := range r.StepFeedback {
		for _, f := range list {
			if f.OpenBlocker() {
				n++
			}
		}
	}
	return n
}

type TaskStatus string

const (
	TaskOpen TaskStatus = "OPEN"
	TaskDone TaskStatus = "DONE"
)

type Task struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	StepID    string     `json:"step_id"`
	Assignee  Delegation `json:"assignee"`
	Status    TaskStatus `json:"status" enum:"OPEN,DONE"`
	CreatedAt time.Time  `json:"created_at"`
	Revision  int        `json:"revision"`
}

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityCritical Severity = "CRITICAL"
)

type Event struct {
	ID         int64          `json:"id"`
	At         time.Time      `json:"at"`
	Type       string         `json:"type"`
	Severity   Severity       `json:"severity"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
