package engine

import (
	"fmt"
	"strings"
	"time"

	"procline/internal/domain"
)

// AuthorizationDeniedError indicates the actor lacks the role or permission for an action.
type AuthorizationDeniedError struct {
	ActorID string
	Action  string
	Role    domain.Role
}

func (e AuthorizationDeniedError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("actor %s may not %s: %s role required", e.ActorID, e.Action, e.Role)
	}
	return fmt.Sprintf("actor %s may not %s", e.ActorID, e.Action)
}

// IllegalTransitionError rejects an action that the entity's current state does not allow.
type IllegalTransitionError struct {
	Entity string
	ID     string
	State  string
	Action string
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Action, e.Entity, e.ID, e.State)
}

// FreshnessBlockedError rejects work against an expired process version.
type FreshnessBlockedError struct {
	ProcessID     string
	ExpiredAt     time.Time
	DaysRemaining int
}

func (e FreshnessBlockedError) Error() string {
	return fmt.Sprintf("process %s expired on %s (%d days overdue for review)",
		e.ProcessID, e.ExpiredAt.UTC().Format(time.DateOnly), -e.DaysRemaining)
}

// ConflictError reports an existing in-flight version. Callers resolve it by
// continuing that version or discarding it and branching again.
type ConflictError struct {
	RootID   string
	InFlight domain.ProcessDefinition
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("process %s already has version %d in %s", e.RootID, e.InFlight.VersionNumber, e.InFlight.Status)
}

// StepLockedError rejects interaction with a step that sequential execution holds back.
type StepLockedError struct {
	StepID    string
	BlockedBy string
}

func (e StepLockedError) Error() string {
	return fmt.Sprintf("step %s is locked until step %s is completed", e.StepID, e.BlockedBy)
}

// SubmissionBlockedError rejects a submission while blockers are open.
type SubmissionBlockedError struct {
	UnresolvedBlockers int
	StepIDs            []string
}

func (e SubmissionBlockedError) Error() string {
	return fmt.Sprintf("%d unresolved blocker(s) on steps %s", e.UnresolvedBlockers, strings.Join(e.StepIDs, ","))
}
