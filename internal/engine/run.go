package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"procline/internal/directory"
	"procline/internal/domain"
	"procline/internal/engine/freshness"
	"procline/internal/engine/governance"
	"procline/internal/repo"
)

type RunCreateOptions struct {
	Name  string
	DueAt *time.Time
}

// CanLaunchRun reports nil when actor may start a run of p now.
func (e Engine) CanLaunchRun(actor domain.User, p domain.ProcessDefinition, dir *directory.Directory) error {
	if p.Status != domain.ProcessPublished {
		return IllegalTransitionError{Entity: "process", ID: p.ID, State: string(p.Status), Action: "launch run of"}
	}
	if !actor.Active() || !governance.HasGovernancePermission(actor, p, domain.RoleExecutor, dir) {
		return AuthorizationDeniedError{ActorID: actor.ID, Action: "launch run", Role: domain.RoleExecutor}
	}
	if r := freshness.Calculate(p, e.now()); r.Status == freshness.Expired {
		return FreshnessBlockedError{ProcessID: p.ID, ExpiredAt: *r.ExpiresAt, DaysRemaining: r.DaysRemaining}
	}
	return nil
}

// LaunchCheck is CanLaunchRun by ids.
func (e Engine) LaunchCheck(ctx context.Context, actorID, processID string) error {
	p, err := e.GetProcess(ctx, processID)
	if err != nil {
		return err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return err
	}
	actor, err := e.actor(dir, actorID, "launch run")
	if err != nil {
		return err
	}
	return e.CanLaunchRun(actor, p, dir)
}

// CreateRun starts a run of a PUBLISHED version and materializes one task per
// assignment entry of each actionable step.
func (e Engine) CreateRun(ctx context.Context, actorID, processID string, opts RunCreateOptions) (domain.ProcessRun, error) {
	p, err := e.GetProcess(ctx, processID)
	if err != nil {
		return domain.ProcessRun{}, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return domain.ProcessRun{}, err
	}
	actor, err := e.actor(dir, actorID, "launch run")
	if err != nil {
		return domain.ProcessRun{}, err
	}
	if err := e.CanLaunchRun(actor, p, dir); err != nil {
		return domain.ProcessRun{}, err
	}
	now := e.now()
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = fmt.Sprintf("%s %s", p.Title, now.Format(time.DateOnly))
	}
	run := domain.ProcessRun{
		ID:               uuid.NewString(),
		RootProcessID:    p.RootID,
		VersionID:        p.ID,
		Name:             name,
		StartedBy:        actorID,
		StartedAt:        now,
		StepValues:       map[string]domain.StepValue{},
		CompletedStepIDs: []string{},
		StepFeedback:     map[string][]domain.Feedback{},
		Status:           domain.RunNotStarted,
		DueAt:            opts.DueAt,
		HealthScore:      100,
		Revision:         1,
	}
	run.Log(domain.ActivityEntry{At: now, ActorID: actorID, Action: "run started", Detail: fmt.Sprintf("%s v%d", p.Title, p.VersionNumber)})
	var tasks []domain.Task
	for _, s := range p.OrderedSteps() {
		if !s.Actionable() {
			continue
		}
		for _, d := range s.Assignment.Delegations() {
			tasks = append(tasks, domain.Task{
				ID:        uuid.NewString(),
				RunID:     run.ID,
				StepID:    s.ID,
				Assignee:  d,
				Status:    domain.TaskOpen,
				CreatedAt: now,
				Revision:  1,
			})
		}
	}
	err = e.Repo.Atomic(ctx, func(r repo.Repo) error {
		if err := r.Runs.Upsert(ctx, run.ID, run.Revision, run); err != nil {
			return err
		}
		for _, t := range tasks {
			if err := r.Tasks.Upsert(ctx, t.ID, t.Revision, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.ProcessRun{}, err
	}
	e.publish(ctx, "run.created", "run", run.ID, actorID, map[string]any{"process_id": p.ID, "tasks": len(tasks)})
	return run, nil
}

// ToggleStep flips a CHECKBOX step.
func (e Engine) ToggleStep(ctx context.Context, actorID, runID, stepID string) (domain.ProcessRun, error) {
	return e.mutateStep(ctx, actorID, runID, stepID, "toggle", func(run *domain.ProcessRun, step domain.ProcessStep) (domain.ActivityEntry, error) {
		if step.InputType != domain.InputCheckbox {
			return domain.ActivityEntry{}, IllegalTransitionError{Entity: "step", ID: step.ID, State: string(step.InputType), Action: "toggle"}
		}
		done := !run.Completed(step.ID)
		run.SetCompleted(step.ID, done)
		v := run.StepValues[step.ID]
		v.Checked = done
		run.StepValues[step.ID] = v
		action := "step checked"
		if !done {
			action = "step unchecked"
		}
		return domain.ActivityEntry{Action: action, Detail: step.Text}, nil
	})
}

// SetStepValue stores the value of a TEXT_INPUT or FILE_UPLOAD step; the step
// is complete exactly when the value is present.
func (e Engine) SetStepValue(ctx context.Context, actorID, runID, stepID string, value domain.StepValue) (domain.ProcessRun, error) {
	return e.mutateStep(ctx, actorID, runID, stepID, "set value of", func(run *domain.ProcessRun, step domain.ProcessStep) (domain.ActivityEntry, error) {
		if !step.Automated() {
			return domain.ActivityEntry{}, IllegalTransitionError{Entity: "step", ID: step.ID, State: string(step.InputType), Action: "set value of"}
		}
		value.Checked = false
		if step.InputType == domain.InputText {
			value.File = nil
		} else {
			value.Text = ""
		}
		present := value.Present()
		if present {
			run.StepValues[step.ID] = value
		} else {
			delete(run.StepValues, step.ID)
		}
		run.SetCompleted(step.ID, present)
		action := "value set"
		if !present {
			action = "value cleared"
		}
		return domain.ActivityEntry{Action: action, Detail: step.Text}, nil
	})
}

type stepMutation func(run *domain.ProcessRun, step domain.ProcessStep) (domain.ActivityEntry, error)

// mutateStep runs every interaction check, applies fn to a copy of the run and
// then stores the run with its task states in one write.
func (e Engine) mutateStep(ctx context.Context, actorID, runID, stepID, action string, fn stepMutation) (domain.ProcessRun, error) {
	unlock := e.lock(runKey(runID))
	defer unlock()
	run, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return run, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return run, err
	}
	actor, err := e.actor(dir, actorID, action+" step")
	if err != nil {
		return run, err
	}
	if !run.Status.Editable() {
		return run, IllegalTransitionError{Entity: "run", ID: run.ID, State: string(run.Status), Action: action + " step of"}
	}
	if err := e.checkInProgressFreshness(p); err != nil {
		return run, err
	}
	step, ok := p.Step(stepID)
	if !ok {
		return run, fmt.Errorf("step %s: %w", stepID, repo.ErrNotFound)
	}
	if !step.Actionable() {
		return run, IllegalTransitionError{Entity: "step", ID: step.ID, State: string(step.InputType), Action: action}
	}
	if blockedBy, locked := LockedBy(p, run, stepID); locked {
		return run, StepLockedError{StepID: stepID, BlockedBy: blockedBy}
	}
	access := governance.CanInteract(actor, p, step, dir)
	if !access.Allowed {
		return run, AuthorizationDeniedError{ActorID: actorID, Action: action + " step " + stepID, Role: domain.RoleExecutor}
	}

	next := cloneRun(run)
	entry, err := fn(&next, step)
	if err != nil {
		return run, err
	}
	entry.At, entry.ActorID, entry.StepID, entry.Override = e.now(), actorID, stepID, access.Override
	next.Log(entry)
	next.Status = DeriveStatus(next, p)
	next.Revision++

	tasks, err := e.Repo.TasksForRun(ctx, run.ID)
	if err != nil {
		return run, err
	}
	if err := e.saveRun(ctx, next, syncTasks(tasks, next)); err != nil {
		return run, err
	}
	e.publish(ctx, "run.step.updated", "run", next.ID, actorID, map[string]any{
		"step_id":  stepID,
		"action":   entry.Action,
		"override": access.Override,
		"status":   string(next.Status),
	})
	return next, nil
}

func (e Engine) checkInProgressFreshness(p domain.ProcessDefinition) error {
	if !e.Config.Freshness.BlockInProgressWhenExpired {
		return nil
	}
	if r := freshness.Calculate(p, e.now()); r.Status == freshness.Expired {
		return FreshnessBlockedError{ProcessID: p.ID, ExpiredAt: *r.ExpiresAt, DaysRemaining: r.DaysRemaining}
	}
	return nil
}

// AddFeedback attaches feedback to a step. Anyone who can see the run may comment.
func (e Engine) AddFeedback(ctx context.Context, actorID, runID, stepID string, kind domain.FeedbackType, text string) (domain.ProcessRun, domain.Feedback, error) {
	switch kind {
	case domain.FeedbackBlocker, domain.FeedbackAdvisory, domain.FeedbackPraise:
	default:
		return domain.ProcessRun{}, domain.Feedback{}, fmt.Errorf("invalid feedback type %q", kind)
	}
	if strings.TrimSpace(text) == "" {
		return domain.ProcessRun{}, domain.Feedback{}, errors.New("feedback text is required")
	}
	unlock := e.lock(runKey(runID))
	defer unlock()
	run, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return run, domain.Feedback{}, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return run, domain.Feedback{}, err
	}
	actor, err := e.actor(dir, actorID, "add feedback")
	if err != nil {
		return run, domain.Feedback{}, err
	}
	if closedForFeedback(run.Status) {
		return run, domain.Feedback{}, IllegalTransitionError{Entity: "run", ID: run.ID, State: string(run.Status), Action: "add feedback to"}
	}
	if _, ok := p.Step(stepID); !ok {
		return run, domain.Feedback{}, fmt.Errorf("step %s: %w", stepID, repo.ErrNotFound)
	}
	tasks, err := e.Repo.TasksForRun(ctx, run.ID)
	if err != nil {
		return run, domain.Feedback{}, err
	}
	if !governance.CanSeeRun(actor, run, p, tasks, dir) {
		return run, domain.Feedback{}, AuthorizationDeniedError{ActorID: actorID, Action: "add feedback"}
	}
	now := e.now()
	fb := domain.Feedback{
		ID:        uuid.NewString(),
		StepID:    stepID,
		AuthorID:  actorID,
		Text:      strings.TrimSpace(text),
		Type:      kind,
		CreatedAt: now,
	}
	next := cloneRun(run)
	next.StepFeedback[stepID] = append(next.StepFeedback[stepID], fb)
	next.Log(domain.ActivityEntry{At: now, ActorID: actorID, Action: "feedback added", StepID: stepID, Detail: string(kind)})
	if next.Status.Editable() {
		if derived := DeriveStatus(next, p); next.Status != domain.RunNotStarted || derived == domain.RunReadyToSubmit {
			next.Status = derived
		}
	}
	next.Revision++
	if err := e.saveRun(ctx, next, nil); err != nil {
		return run, domain.Feedback{}, err
	}
	e.publish(ctx, "run.feedback.added", "run", next.ID, actorID, map[string]any{"step_id": stepID, "feedback_id": fb.ID, "type": string(kind)})
	return next, fb, nil
}

// ResolveFeedback closes a feedback entry. The author, the Run Validator and
// anyone allowed to act on the step may resolve it.
func (e Engine) ResolveFeedback(ctx context.Context, actorID, runID, feedbackID string) (domain.ProcessRun, error) {
	unlock := e.lock(runKey(runID))
	defer unlock()
	run, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return run, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return run, err
	}
	actor, err := e.actor(dir, actorID, "resolve feedback")
	if err != nil {
		return run, err
	}
	if closedForFeedback(run.Status) {
		return run, IllegalTransitionError{Entity: "run", ID: run.ID, State: string(run.Status), Action: "resolve feedback on"}
	}
	stepID, idx := findFeedback(run, feedbackID)
	if idx < 0 {
		return run, fmt.Errorf("feedback %s: %w", feedbackID, repo.ErrNotFound)
	}
	fb := run.StepFeedback[stepID][idx]
	if fb.Resolved {
		return run, IllegalTransitionError{Entity: "feedback", ID: fb.ID, State: "resolved", Action: "resolve"}
	}
	allowed := fb.AuthorID == actorID || governance.HasGovernancePermission(actor, p, domain.RoleRunValidator, dir)
	if !allowed {
		if step, ok := p.Step(stepID); ok {
			allowed = governance.CanInteract(actor, p, step, dir).Allowed
		}
	}
	if !allowed {
		return run, AuthorizationDeniedError{ActorID: actorID, Action: "resolve feedback"}
	}
	now := e.now()
	next := cloneRun(run)
	fb.Resolved, fb.ResolvedAt, fb.ResolvedBy = true, &now, actorID
	next.StepFeedback[stepID][idx] = fb
	next.Log(domain.ActivityEntry{At: now, ActorID: actorID, Action: "feedback resolved", StepID: stepID, Detail: string(fb.Type)})
	if next.Status.Editable() && next.Status != domain.RunNotStarted {
		next.Status = DeriveStatus(next, p)
	}
	next.Revision++
	if err := e.saveRun(ctx, next, nil); err != nil {
		return run, err
	}
	e.publish(ctx, "run.feedback.resolved", "run", next.ID, actorID, map[string]any{"step_id": stepID, "feedback_id": fb.ID})
	return next, nil
}

// SubmitRun hands a READY_TO_SUBMIT run to its validator. Any open blocker
// anywhere in the run holds submission back.
func (e Engine) SubmitRun(ctx context.Context, actorID, runID string) (domain.ProcessRun, error) {
	unlock := e.lock(runKey(runID))
	defer unlock()
	run, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return run, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return run, err
	}
	actor, err := e.actor(dir, actorID, "submit run")
	if err != nil {
		return run, err
	}
	if !governance.HasGovernancePermission(actor, p, domain.RoleExecutor, dir) {
		return run, AuthorizationDeniedError{ActorID: actorID, Action: "submit run", Role: domain.RoleExecutor}
	}
	if run.Status != domain.RunReadyToSubmit || !CanSubmitWithExceptions(run, p) {
		return run, IllegalTransitionError{Entity: "run", ID: run.ID, State: string(run.Status), Action: "submit"}
	}
	if n := run.UnresolvedBlockers(); n > 0 {
		return run, SubmissionBlockedError{UnresolvedBlockers: n, StepIDs: blockedSteps(run)}
	}
	now := e.now()
	next := cloneRun(run)
	next.Status = domain.RunInReview
	next.SubmittedAt = &now
	next.Log(domain.ActivityEntry{At: now, ActorID: actorID, Action: "run submitted"})
	next.Revision++
	if err := e.saveRun(ctx, next, nil); err != nil {
		return run, err
	}
	e.publish(ctx, "run.submitted", "run", next.ID, actorID, nil)
	return next, nil
}

// ValidateRun approves or rejects a submitted run.
func (e Engine) ValidateRun(ctx context.Context, actorID, runID string, approved bool, reason string) (domain.ProcessRun, error) {
	unlock := e.lock(runKey(runID))
	defer unlock()
	run, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return run, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return run, err
	}
	actor, err := e.actor(dir, actorID, "validate run")
	if err != nil {
		return run, err
	}
	if !governance.HasGovernancePermission(actor, p, domain.RoleRunValidator, dir) {
		return run, AuthorizationDeniedError{ActorID: actorID, Action: "validate run", Role: domain.RoleRunValidator}
	}
	if run.Status != domain.RunInReview {
		return run, IllegalTransitionError{Entity: "run", ID: run.ID, State: string(run.Status), Action: "validate"}
	}
	now := e.now()
	next := cloneRun(run)
	action := "run rejected"
	next.Status = domain.RunRejected
	if approved {
		next.Status, action = domain.RunApproved, "run approved"
	}
	next.ValidatedAt, next.ValidatorUserID, next.ValidationReason = &now, actorID, strings.TrimSpace(reason)
	next.Log(domain.ActivityEntry{At: now, ActorID: actorID, Action: action, Detail: next.ValidationReason})
	next.Revision++
	if err := e.saveRun(ctx, next, nil); err != nil {
		return run, err
	}
	e.publish(ctx, "run.validated", "run", next.ID, actorID, map[string]any{"approved": approved, "reason": next.ValidationReason})
	return next, nil
}

// CancelRun stops a run that has not reached a terminal status.
func (e Engine) CancelRun(ctx context.Context, actorID, runID, reason string) (domain.ProcessRun, error) {
	unlock := e.lock(runKey(runID))
	defer unlock()
	run, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return run, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return run, err
	}
	actor, err := e.actor(dir, actorID, "cancel run")
	if err != nil {
		return run, err
	}
	if run.StartedBy != actorID && !governance.HasGovernancePermission(actor, p, domain.RoleExecutor, dir) {
		return run, AuthorizationDeniedError{ActorID: actorID, Action: "cancel run", Role: domain.RoleExecutor}
	}
	if run.Status.Terminal() {
		return run, IllegalTransitionError{Entity: "run", ID: run.ID, State: string(run.Status), Action: "cancel"}
	}
	next := cloneRun(run)
	next.Status = domain.RunCancelled
	next.Log(domain.ActivityEntry{At: e.now(), ActorID: actorID, Action: "run cancelled", Detail: strings.TrimSpace(reason)})
	next.Revision++
	if err := e.saveRun(ctx, next, nil); err != nil {
		return run, err
	}
	e.publish(ctx, "run.cancelled", "run", next.ID, actorID, map[string]any{"reason": reason})
	return next, nil
}

func (e Engine) GetRun(ctx context.Context, id string) (domain.ProcessRun, error) {
	return e.Repo.Runs.Get(ctx, id)
}

func (e Engine) ListRuns(ctx context.Context) ([]domain.ProcessRun, error) {
	return e.Repo.Runs.All(ctx)
}

// RunView bundles a run with the version it executes.
type RunView struct {
	Run     domain.ProcessRun
	Process domain.ProcessDefinition
	Tasks   []domain.Task
}

// ViewRun loads a run for an actor who may see it.
func (e Engine) ViewRun(ctx context.Context, actorID, runID string) (RunView, error) {
	run, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return RunView{}, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return RunView{}, err
	}
	actor, err := e.actor(dir, actorID, "view run")
	if err != nil {
		return RunView{}, err
	}
	tasks, err := e.Repo.TasksForRun(ctx, run.ID)
	if err != nil {
		return RunView{}, err
	}
	if !governance.CanSeeRun(actor, run, p, tasks, dir) {
		return RunView{}, AuthorizationDeniedError{ActorID: actorID, Action: "view run"}
	}
	return RunView{Run: run, Process: p, Tasks: tasks}, nil
}

// ListVisibleRuns returns the runs the actor may see, in creation order.
func (e Engine) ListVisibleRuns(ctx context.Context, actorID string) ([]domain.ProcessRun, error) {
	dir, err := e.Directory(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := e.actor(dir, actorID, "list runs")
	if err != nil {
		return nil, err
	}
	runs, err := e.Repo.Runs.All(ctx)
	if err != nil {
		return nil, err
	}
	procs, err := e.Repo.Processes.All(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.Tasks.All(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.ProcessDefinition, len(procs))
	for _, p := range procs {
		byID[p.ID] = p
	}
	var out []domain.ProcessRun
	for _, run := range runs {
		p, ok := byID[run.VersionID]
		if !ok {
			e.Logger.WarnContext(ctx, "run references missing process version", "run_id", run.ID, "version_id", run.VersionID)
			continue
		}
		if governance.CanSeeRun(actor, run, p, tasks, dir) {
			out = append(out, run)
		}
	}
	return out, nil
}

// CanSeeRun reports whether the actor may observe the run.
func (e Engine) CanSeeRun(ctx context.Context, actorID, runID string) (bool, error) {
	_, err := e.ViewRun(ctx, actorID, runID)
	var denied AuthorizationDeniedError
	if errors.As(err, &denied) {
		return false, nil
	}
	return err == nil, err
}

// CanInteract reports how the actor may act on a step of the run, if at all.
func (e Engine) CanInteract(ctx context.Context, actorID, runID, stepID string) (governance.Access, error) {
	_, p, err := e.loadRun(ctx, runID)
	if err != nil {
		return governance.Access{}, err
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return governance.Access{}, err
	}
	u, ok := dir.User(actorID)
	if !ok {
		return governance.Access{}, fmt.Errorf("user %s: %w", actorID, repo.ErrNotFound)
	}
	step, ok := p.Step(stepID)
	if !ok {
		return governance.Access{}, fmt.Errorf("step %s: %w", stepID, repo.ErrNotFound)
	}
	return governance.CanInteract(u, p, step, dir), nil
}

func (e Engine) loadRun(ctx context.Context, runID string) (domain.ProcessRun, domain.ProcessDefinition, error) {
	run, err := e.Repo.Runs.Get(ctx, runID)
	if err != nil {
		return run, domain.ProcessDefinition{}, err
	}
	p, err := e.Repo.Processes.Get(ctx, run.VersionID)
	if err != nil {
		return run, p, fmt.Errorf("run %s version: %w", run.ID, err)
	}
	return run, p, nil
}

func (e Engine) saveRun(ctx context.Context, run domain.ProcessRun, tasks []domain.Task) error {
	return e.Repo.Atomic(ctx, func(r repo.Repo) error {
		if err := r.Runs.Upsert(ctx, run.ID, run.Revision, run); err != nil {
			return err
		}
		for _, t := range tasks {
			if err := r.Tasks.Upsert(ctx, t.ID, t.Revision, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// syncTasks returns the tasks whose status must change to follow step completion.
func syncTasks(tasks []domain.Task, run domain.ProcessRun) []domain.Task {
	var changed []domain.Task
	for _, t := range tasks {
		want := domain.TaskOpen
		if run.Completed(t.StepID) {
			want = domain.TaskDone
		}
		if t.Status != want {
			t.Status = want
			t.Revision++
			changed = append(changed, t)
		}
	}
	return changed
}

// DeriveStatus recomputes an editable run's status from its steps.
func DeriveStatus(run domain.ProcessRun, p domain.ProcessDefinition) domain.RunStatus {
	if CanSubmitWithExceptions(run, p) {
		return domain.RunReadyToSubmit
	}
	return domain.RunInProgress
}

// CanSubmitWithExceptions holds when every required actionable step is completed
// or carries an open blocker.
func CanSubmitWithExceptions(run domain.ProcessRun, p domain.ProcessDefinition) bool {
	for _, s := range p.Steps {
		if !s.Actionable() || !s.Required {
			continue
		}
		if !run.Completed(s.ID) && !run.HasOpenBlocker(s.ID) {
			return false
		}
	}
	return true
}

func TotalUnresolvedBlockers(run domain.ProcessRun) int { return run.UnresolvedBlockers() }

// Progress is the percentage of actionable steps completed.
func Progress(run domain.ProcessRun, p domain.ProcessDefinition) int {
	total, done := 0, 0
	for _, s := range p.Steps {
		if !s.Actionable() {
			continue
		}
		total++
		if run.Completed(s.ID) {
			done++
		}
	}
	if total == 0 {
		return 100
	}
	return done * 100 / total
}

// LockedBy reports the step holding stepID back under sequential execution:
// the nearest preceding non-INFO step, while it is incomplete.
func LockedBy(p domain.ProcessDefinition, run domain.ProcessRun, stepID string) (string, bool) {
	if !p.SequentialExecution {
		return "", false
	}
	steps := p.OrderedSteps()
	i := slices.IndexFunc(steps, func(s domain.ProcessStep) bool { return s.ID == stepID })
	for j := i - 1; j >= 0; j-- {
		if !steps[j].Actionable() {
			continue
		}
		if run.Completed(steps[j].ID) {
			return "", false
		}
		return steps[j].ID, true
	}
	return "", false
}

func StepLocked(p domain.ProcessDefinition, run domain.ProcessRun, stepID string) bool {
	_, locked := LockedBy(p, run, stepID)
	return locked
}

func closedForFeedback(s domain.RunStatus) bool {
	return s == domain.RunApproved || s == domain.RunCancelled || s == domain.RunCompleted
}

func findFeedback(run domain.ProcessRun, id string) (string, int) {
	for stepID, list := range run.StepFeedback {
		for i, f := range list {
			if f.ID == id {
				return stepID, i
			}
		}
	}
	return "", -1
}

func blockedSteps(run domain.ProcessRun) []string {
	var ids []string
	for stepID := range run.StepFeedback {
		if run.HasOpenBlocker(stepID) {
			ids = append(ids, stepID)
		}
	}
	slices.Sort(ids)
	return ids
}

// cloneRun copies the mutable parts of a run so a failed write leaves the
// caller's value untouched.
func cloneRun(r domain.ProcessRun) domain.ProcessRun {
	out := r
	out.StepValues = make(map[string]domain.StepValue, len(r.StepValues))
	for k, v := range r.StepValues {
		out.StepValues[k] = v
	}
	out.StepFeedback = make(map[string][]domain.Feedback, len(r.StepFeedback))
	for k, v := range r.StepFeedback {
		out.StepFeedback[k] = slices.Clone(v)
	}
	out.CompletedStepIDs = slices.Clone(r.CompletedStepIDs)
	out.ActivityLog = slices.Clone(r.ActivityLog)
	return out
}
