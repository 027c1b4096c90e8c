package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"procline/internal/directory"
	"procline/internal/domain"
	"procline/internal/engine/freshness"
	"procline/internal/engine/governance"
	"procline/internal/repo"
)

// ProcessCreateOptions are parameters for a new process family.
// Zero review cadence values take the workspace defaults.
type ProcessCreateOptions struct {
	Title               string
	Description         string
	OwningTeamID        string
	IsPublic            bool
	ReviewFrequencyDays int
	ReviewDueLeadDays   int
	SequentialExecution bool
	Steps               []domain.ProcessStep
	Governance          domain.Governance
}

func (e Engine) CreateProcess(ctx context.Context, actorID string, opts ProcessCreateOptions) (domain.ProcessDefinition, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.ProcessDefinition{}, errors.New("title is required")
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	actor, err := e.actor(dir, actorID, "create process")
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	if !actor.Permissions.CanDesign && !actor.IsGlobalAdmin() {
		return domain.ProcessDefinition{}, AuthorizationDeniedError{ActorID: actorID, Action: "create process"}
	}
	if _, ok := dir.Team(opts.OwningTeamID); !ok {
		return domain.ProcessDefinition{}, fmt.Errorf("owning team %s: %w", opts.OwningTeamID, repo.ErrNotFound)
	}
	steps, err := normalizeSteps(opts.Steps, dir)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	gov := governance.DefaultGovernance(opts.OwningTeamID, opts.Governance)
	if err := validateGovernance(gov, dir); err != nil {
		return domain.ProcessDefinition{}, err
	}
	if opts.ReviewFrequencyDays == 0 {
		opts.ReviewFrequencyDays = e.Config.Freshness.DefaultReviewFrequencyDays
	}
	if opts.ReviewDueLeadDays == 0 {
		opts.ReviewDueLeadDays = e.Config.Freshness.DefaultReviewDueLeadDays
	}
	id := uuid.NewString()
	p := domain.ProcessDefinition{
		ID:                  id,
		RootID:              id,
		VersionNumber:       1,
		Status:              domain.ProcessDraft,
		Title:               strings.TrimSpace(opts.Title),
		Description:         opts.Description,
		OwningTeamID:        opts.OwningTeamID,
		IsPublic:            opts.IsPublic,
		CreatedAt:           e.now(),
		CreatedBy:           actorID,
		ReviewFrequencyDays: opts.ReviewFrequencyDays,
		ReviewDueLeadDays:   opts.ReviewDueLeadDays,
		SequentialExecution: opts.SequentialExecution,
		Steps:               steps,
		Governance:          gov,
		Revision:            1,
	}
	if err := e.Repo.Processes.Upsert(ctx, p.ID, p.Revision, p); err != nil {
		return domain.ProcessDefinition{}, err
	}
	e.publish(ctx, "process.created", "process", p.ID, actorID, map[string]any{"title": p.Title, "version": p.VersionNumber})
	return p, nil
}

// DraftUpdate carries the editable fields of a DRAFT. Nil fields are left unchanged.
type DraftUpdate struct {
	Title               *string
	Description         *string
	IsPublic            *bool
	ReviewFrequencyDays *int
	ReviewDueLeadDays   *int
	SequentialExecution *bool
	Steps               []domain.ProcessStep
	Governance          *domain.Governance
}

func (e Engine) UpdateDraft(ctx context.Context, actorID, id string, upd DraftUpdate) (domain.ProcessDefinition, error) {
	p, unlock, err := e.lockProcess(ctx, id)
	if err != nil {
		return p, err
	}
	defer unlock()
	dir, err := e.Directory(ctx)
	if err != nil {
		return p, err
	}
	actor, err := e.actor(dir, actorID, "edit process")
	if err != nil {
		return p, err
	}
	if p.Status != domain.ProcessDraft {
		return p, IllegalTransitionError{Entity: "process", ID: p.ID, State: string(p.Status), Action: "edit"}
	}
	if !governance.HasGovernancePermission(actor, p, domain.RoleEditor, dir) {
		return p, AuthorizationDeniedError{ActorID: actorID, Action: "edit process", Role: domain.RoleEditor}
	}
	next := p
	if upd.Title != nil {
		if strings.TrimSpace(*upd.Title) == "" {
			return p, errors.New("title is required")
		}
		next.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.IsPublic != nil {
		next.IsPublic = *upd.IsPublic
	}
	if upd.ReviewFrequencyDays != nil {
		if *upd.ReviewFrequencyDays < 0 {
			return p, errors.New("review frequency must be >= 0")
		}
		next.ReviewFrequencyDays = *upd.ReviewFrequencyDays
	}
	if upd.ReviewDueLeadDays != nil {
		if *upd.ReviewDueLeadDays < 0 {
			return p, errors.New("review lead days must be >= 0")
		}
		next.ReviewDueLeadDays = *upd.ReviewDueLeadDays
	}
	if upd.SequentialExecution != nil {
		next.SequentialExecution = *upd.SequentialExecution
	}
	if upd.Steps != nil {
		steps, err := normalizeSteps(upd.Steps, dir)
		if err != nil {
			return p, err
		}
		next.Steps = steps
	}
	if upd.Governance != nil {
		if err := validateGovernance(*upd.Governance, dir); err != nil {
			return p, err
		}
		next.Governance = *upd.Governance
	}
	next.Revision++
	if err := e.Repo.Processes.Upsert(ctx, next.ID, next.Revision, next); err != nil {
		return p, err
	}
	e.publish(ctx, "process.updated", "process", next.ID, actorID, nil)
	return next, nil
}

func (e Engine) SubmitForReview(ctx context.Context, actorID, id string) (domain.ProcessDefinition, error) {
	return e.moveProcess(ctx, actorID, id, "submit for review", domain.RoleEditor, domain.ProcessDraft, domain.ProcessInReview)
}

func (e Engine) RecallToDraft(ctx context.Context, actorID, id string) (domain.ProcessDefinition, error) {
	return e.moveProcess(ctx, actorID, id, "recall", domain.RoleEditor, domain.ProcessInReview, domain.ProcessDraft)
}

// RejectReview is the publisher's side of the IN_REVIEW → DRAFT transition.
func (e Engine) RejectReview(ctx context.Context, actorID, id string) (domain.ProcessDefinition, error) {
	return e.moveProcess(ctx, actorID, id, "reject review", domain.RolePublisher, domain.ProcessInReview, domain.ProcessDraft)
}

func (e Engine) moveProcess(ctx context.Context, actorID, id, action string, role domain.Role, from, to domain.ProcessStatus) (domain.ProcessDefinition, error) {
	p, unlock, err := e.lockProcess(ctx, id)
	if err != nil {
		return p, err
	}
	defer unlock()
	dir, err := e.Directory(ctx)
	if err != nil {
		return p, err
	}
	actor, err := e.actor(dir, actorID, action)
	if err != nil {
		return p, err
	}
	if p.Status != from {
		return p, IllegalTransitionError{Entity: "process", ID: p.ID, State: string(p.Status), Action: action}
	}
	if !governance.HasGovernancePermission(actor, p, role, dir) {
		return p, AuthorizationDeniedError{ActorID: actorID, Action: action, Role: role}
	}
	next := p
	next.Status = to
	next.Revision++
	if err := e.Repo.Processes.Upsert(ctx, next.ID, next.Revision, next); err != nil {
		return p, err
	}
	e.publish(ctx, "process.status.changed", "process", next.ID, actorID, map[string]any{"from": string(from), "to": string(to), "action": action})
	return next, nil
}

// Publish moves an IN_REVIEW version live and archives the family's previous
// PUBLISHED version in the same write.
func (e Engine) Publish(ctx context.Context, actorID, id string) (domain.ProcessDefinition, error) {
	p, unlock, err := e.lockProcess(ctx, id)
	if err != nil {
		return p, err
	}
	defer unlock()
	dir, err := e.Directory(ctx)
	if err != nil {
		return p, err
	}
	actor, err := e.actor(dir, actorID, "publish")
	if err != nil {
		return p, err
	}
	if p.Status != domain.ProcessInReview {
		return p, IllegalTransitionError{Entity: "process", ID: p.ID, State: string(p.Status), Action: "publish"}
	}
	if !governance.HasGovernancePermission(actor, p, domain.RolePublisher, dir) {
		return p, AuthorizationDeniedError{ActorID: actorID, Action: "publish", Role: domain.RolePublisher}
	}
	family, err := e.Repo.Family(ctx, p.RootID)
	if err != nil {
		return p, err
	}
	now := e.now()
	next := p
	next.Status = domain.ProcessPublished
	next.PublishedAt, next.PublishedBy = &now, actorID
	next.LastReviewedAt, next.LastReviewedBy = &now, actorID
	next.Revision++
	var archived []string
	err = e.Repo.Atomic(ctx, func(r repo.Repo) error {
		for _, v := range family {
			if v.ID == p.ID || v.Status != domain.ProcessPublished {
				continue
			}
			v.Status = domain.ProcessArchived
			v.Revision++
			if err := r.Processes.Upsert(ctx, v.ID, v.Revision, v); err != nil {
				return err
			}
			archived = append(archived, v.ID)
		}
		return r.Processes.Upsert(ctx, next.ID, next.Revision, next)
	})
	if err != nil {
		return p, err
	}
	e.publish(ctx, "process.published", "process", next.ID, actorID, map[string]any{"version": next.VersionNumber, "archived": archived})
	return next, nil
}

// CreateNewDraft branches baseID into a new DRAFT. overwriteDraftID, when set,
// names the in-flight version to discard; otherwise any in-flight version is a conflict.
func (e Engine) CreateNewDraft(ctx context.Context, actorID, baseID, overwriteDraftID string) (domain.ProcessDefinition, error) {
	base, unlock, err := e.lockProcess(ctx, baseID)
	if err != nil {
		return base, err
	}
	defer unlock()
	dir, err := e.Directory(ctx)
	if err != nil {
		return base, err
	}
	actor, err := e.actor(dir, actorID, "create draft")
	if err != nil {
		return base, err
	}
	if !governance.HasGovernancePermission(actor, base, domain.RoleEditor, dir) {
		return base, AuthorizationDeniedError{ActorID: actorID, Action: "create draft", Role: domain.RoleEditor}
	}
	if overwriteDraftID != "" && overwriteDraftID == baseID {
		return base, errors.New("cannot branch from the draft being discarded")
	}
	family, err := e.Repo.Family(ctx, base.RootID)
	if err != nil {
		return base, err
	}
	maxVersion := 0
	overwriteFound := overwriteDraftID == ""
	for _, v := range family {
		if v.ID == overwriteDraftID {
			if !v.InFlight() {
				return base, IllegalTransitionError{Entity: "process", ID: v.ID, State: string(v.Status), Action: "discard"}
			}
			overwriteFound = true
			continue
		}
		if v.InFlight() {
			return base, ConflictError{RootID: base.RootID, InFlight: v}
		}
		maxVersion = max(maxVersion, v.VersionNumber)
	}
	if !overwriteFound {
		return base, fmt.Errorf("draft %s not in family %s: %w", overwriteDraftID, base.RootID, repo.ErrNotFound)
	}
	draft := base
	draft.ID = uuid.NewString()
	draft.VersionNumber = maxVersion + 1
	draft.Status = domain.ProcessDraft
	draft.CreatedAt = e.now()
	draft.CreatedBy = actorID
	draft.PublishedAt, draft.PublishedBy = nil, ""
	draft.LastReviewedAt, draft.LastReviewedBy = nil, ""
	draft.Steps = copySteps(base.Steps)
	draft.Revision = 1
	err = e.Repo.Atomic(ctx, func(r repo.Repo) error {
		if overwriteDraftID != "" {
			if err := r.Processes.Delete(ctx, overwriteDraftID); err != nil {
				return err
			}
		}
		return r.Processes.Upsert(ctx, draft.ID, draft.Revision, draft)
	})
	if err != nil {
		return base, err
	}
	e.publish(ctx, "process.draft.created", "process", draft.ID, actorID, map[string]any{
		"base":        base.ID,
		"version":     draft.VersionNumber,
		"overwritten": overwriteDraftID,
	})
	return draft, nil
}

type EditMode string

const (
	EditOpen     EditMode = "edit"
	EditReadOnly EditMode = "read_only"
	EditBranched EditMode = "branched"
	EditConflict EditMode = "conflict"
)

// EditIntent is the outcome of asking to edit a version. On conflict, InFlight
// holds the existing DRAFT or IN_REVIEW version the caller must decide about.
type EditIntent struct {
	Mode     EditMode                  `json:"mode" enum:"edit,read_only,branched,conflict"`
	Process  domain.ProcessDefinition  `json:"process"`
	InFlight *domain.ProcessDefinition `json:"in_flight,omitempty"`
}

func (e Engine) HandleEditIntent(ctx context.Context, actorID, id string) (EditIntent, error) {
	p, err := e.GetProcess(ctx, id)
	if err != nil {
		return EditIntent{}, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return EditIntent{}, err
	}
	actor, err := e.actor(dir, actorID, "edit process")
	if err != nil {
		return EditIntent{}, err
	}
	editor := governance.HasGovernancePermission(actor, p, domain.RoleEditor, dir)
	switch {
	case p.Status == domain.ProcessDraft && editor:
		return EditIntent{Mode: EditOpen, Process: p}, nil
	case p.Status == domain.ProcessDraft, p.Status == domain.ProcessInReview, !editor:
		return EditIntent{Mode: EditReadOnly, Process: p}, nil
	}
	draft, err := e.CreateNewDraft(ctx, actorID, p.ID, "")
	var conflict ConflictError
	if errors.As(err, &conflict) {
		inFlight := conflict.InFlight
		return EditIntent{Mode: EditConflict, Process: p, InFlight: &inFlight}, nil
	}
	if err != nil {
		return EditIntent{}, err
	}
	return EditIntent{Mode: EditBranched, Process: draft}, nil
}

type ConflictChoice string

const (
	ContinueInFlight ConflictChoice = "continue"
	DiscardAndBranch ConflictChoice = "discard"
)

// ResolveEditConflict settles a conflict reported by HandleEditIntent.
func (e Engine) ResolveEditConflict(ctx context.Context, actorID, targetID string, choice ConflictChoice) (EditIntent, error) {
	target, err := e.GetProcess(ctx, targetID)
	if err != nil {
		return EditIntent{}, err
	}
	family, err := e.Repo.Family(ctx, target.RootID)
	if err != nil {
		return EditIntent{}, err
	}
	idx := slices.IndexFunc(family, func(v domain.ProcessDefinition) bool { return v.InFlight() })
	if idx < 0 {
		return e.HandleEditIntent(ctx, actorID, targetID)
	}
	inFlight := family[idx]
	switch choice {
	case ContinueInFlight:
		return e.HandleEditIntent(ctx, actorID, inFlight.ID)
	case DiscardAndBranch:
		draft, err := e.CreateNewDraft(ctx, actorID, target.ID, inFlight.ID)
		if err != nil {
			return EditIntent{}, err
		}
		return EditIntent{Mode: EditBranched, Process: draft}, nil
	}
	return EditIntent{}, fmt.Errorf("unknown conflict choice %q", choice)
}

// RefreshProcess re-stamps the review of a live version without changing content.
func (e Engine) RefreshProcess(ctx context.Context, actorID, id string) (domain.ProcessDefinition, error) {
	p, unlock, err := e.lockProcess(ctx, id)
	if err != nil {
		return p, err
	}
	defer unlock()
	dir, err := e.Directory(ctx)
	if err != nil {
		return p, err
	}
	actor, err := e.actor(dir, actorID, "refresh process")
	if err != nil {
		return p, err
	}
	if p.Status != domain.ProcessPublished {
		return p, IllegalTransitionError{Entity: "process", ID: p.ID, State: string(p.Status), Action: "refresh"}
	}
	if !freshness.CanRefreshProcess(actor, p, dir) {
		return p, AuthorizationDeniedError{ActorID: actorID, Action: "refresh process"}
	}
	now := e.now()
	next := p
	next.LastReviewedAt, next.LastReviewedBy = &now, actorID
	next.Revision++
	if err := e.Repo.Processes.Upsert(ctx, next.ID, next.Revision, next); err != nil {
		return p, err
	}
	e.publish(ctx, "process.refreshed", "process", next.ID, actorID, map[string]any{"version": next.VersionNumber})
	return next, nil
}

func (e Engine) GetProcess(ctx context.Context, id string) (domain.ProcessDefinition, error) {
	return e.Repo.Processes.Get(ctx, id)
}

// ListFamily returns every version of a process ordered by version number.
func (e Engine) ListFamily(ctx context.Context, rootID string) ([]domain.ProcessDefinition, error) {
	family, err := e.Repo.Family(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if len(family) == 0 {
		return nil, fmt.Errorf("process family %s: %w", rootID, repo.ErrNotFound)
	}
	slices.SortFunc(family, func(a, b domain.ProcessDefinition) int { return a.VersionNumber - b.VersionNumber })
	return family, nil
}

func (e Engine) ListProcesses(ctx context.Context) ([]domain.ProcessDefinition, error) {
	return e.Repo.Processes.All(ctx)
}

func (e Engine) ResolveGovernance(ctx context.Context, id string) (governance.Holders, error) {
	p, err := e.GetProcess(ctx, id)
	if err != nil {
		return governance.Holders{}, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return governance.Holders{}, err
	}
	return governance.ResolveGovernance(p, dir)
}

func (e Engine) Freshness(ctx context.Context, id string) (freshness.Report, error) {
	p, err := e.GetProcess(ctx, id)
	if err != nil {
		return freshness.Report{}, err
	}
	return freshness.Calculate(p, e.now()), nil
}

// CanRefreshProcess reports whether the actor may refresh the version.
func (e Engine) CanRefreshProcess(ctx context.Context, actorID, id string) (bool, error) {
	p, err := e.GetProcess(ctx, id)
	if err != nil {
		return false, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return false, err
	}
	u, ok := dir.User(actorID)
	if !ok {
		return false, fmt.Errorf("user %s: %w", actorID, repo.ErrNotFound)
	}
	return u.Active() && freshness.CanRefreshProcess(u, p, dir), nil
}

// lockProcess loads a version and holds its family lock; the version is
// re-read under the lock.
func (e Engine) lockProcess(ctx context.Context, id string) (domain.ProcessDefinition, func(), error) {
	p, err := e.GetProcess(ctx, id)
	if err != nil {
		return p, nil, err
	}
	unlock := e.lock(familyKey(p.RootID))
	p, err = e.GetProcess(ctx, id)
	if err != nil {
		unlock()
		return p, nil, err
	}
	return p, unlock, nil
}

func normalizeSteps(in []domain.ProcessStep, dir *directory.Directory) ([]domain.ProcessStep, error) {
	steps := copySteps(in)
	explicitOrder := slices.ContainsFunc(steps, func(s domain.ProcessStep) bool { return s.OrderIndex != 0 })
	seenID := map[string]bool{}
	seenOrder := map[int]bool{}
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if seenID[s.ID] {
			return nil, fmt.Errorf("duplicate step id %s", s.ID)
		}
		seenID[s.ID] = true
		if !explicitOrder {
			s.OrderIndex = i
		}
		if seenOrder[s.OrderIndex] {
			return nil, fmt.Errorf("duplicate step order index %d", s.OrderIndex)
		}
		seenOrder[s.OrderIndex] = true
		if strings.TrimSpace(s.Text) == "" {
			return nil, fmt.Errorf("step %d text is required", i)
		}
		switch s.InputType {
		case "":
			s.InputType = domain.InputCheckbox
		case domain.InputCheckbox, domain.InputText, domain.InputFileUpload:
		case domain.InputInfo:
			s.Required = false
			s.Assignment = domain.Assignment{}
		default:
			return nil, fmt.Errorf("step %s has invalid input type %q", s.ID, s.InputType)
		}
		for _, uid := range s.Assignment.UserIDs {
			if _, ok := dir.User(uid); !ok {
				return nil, fmt.Errorf("step %s assigns unknown user %s", s.ID, uid)
			}
		}
		for _, tid := range s.Assignment.TeamIDs {
			if _, ok := dir.Team(tid); !ok {
				return nil, fmt.Errorf("step %s assigns unknown team %s", s.ID, tid)
			}
		}
	}
	slices.SortStableFunc(steps, func(a, b domain.ProcessStep) int { return a.OrderIndex - b.OrderIndex })
	return steps, nil
}

// copySteps deep-copies steps. Ids are kept so a step keeps its identity across versions.
func copySteps(in []domain.ProcessStep) []domain.ProcessStep {
	out := make([]domain.ProcessStep, len(in))
	for i, s := range in {
		s.Assignment = domain.Assignment{
			JobTitles: slices.Clone(s.Assignment.JobTitles),
			UserIDs:   slices.Clone(s.Assignment.UserIDs),
			TeamIDs:   slices.Clone(s.Assignment.TeamIDs),
		}
		out[i] = s
	}
	return out
}

func validateGovernance(g domain.Governance, dir *directory.Directory) error {
	for _, role := range domain.Roles {
		d := g.For(role)
		if d.IsNone() {
			continue
		}
		switch d.Kind {
		case domain.DelegateUser:
			if _, ok := dir.User(d.Value); !ok {
				return fmt.Errorf("%s delegation: user %s: %w", role, d.Value, repo.ErrNotFound)
			}
		case domain.DelegateTeam:
			if _, ok := dir.Team(d.Value); !ok {
				return fmt.Errorf("%s delegation: team %s: %w", role, d.Value, repo.ErrNotFound)
			}
		case domain.DelegateJobTitle:
		default:
			return fmt.Errorf("%s delegation has invalid kind %q", role, d.Kind)
		}
	}
	return nil
}
