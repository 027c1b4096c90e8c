package governance

import (
	"slices"

	"procline/internal/directory"
	"procline/internal/domain"
)

// Access describes whether a user may act on a step and by which path.
type Access struct {
	Allowed  bool
	Override bool
}

// CanInteract requires the executor role and then either a direct assignment
// (or an unassigned step) or a managerial override: lead of the owning team or
// lead of any team assigned to the step.
func CanInteract(u domain.User, p domain.ProcessDefinition, step domain.ProcessStep, dir *directory.Directory) Access {
	if !step.Actionable() || !u.Active() {
		return Access{}
	}
	if !HasGovernancePermission(u, p, domain.RoleExecutor, dir) {
		return Access{}
	}
	if directlyAssigned(u, step.Assignment) {
		return Access{Allowed: true}
	}
	if dir.IsLead(u.ID, p.OwningTeamID) {
		return Access{Allowed: true, Override: true}
	}
	for _, teamID := range step.Assignment.TeamIDs {
		if dir.IsLead(u.ID, teamID) {
			return Access{Allowed: true, Override: true}
		}
	}
	return Access{}
}

func directlyAssigned(u domain.User, a domain.Assignment) bool {
	if a.Empty() {
		return true
	}
	return slices.Contains(a.UserIDs, u.ID) ||
		(u.TeamID != "" && slices.Contains(a.TeamIDs, u.TeamID)) ||
		(u.JobTitle != "" && slices.Contains(a.JobTitles, u.JobTitle))
}

// CanSeeRun is broader than CanInteract: anyone tied to the run or to the
// owning team may observe it, and so may anyone who holds the executor or
// validator role or leads a team assigned to one of its steps.
func CanSeeRun(u domain.User, run domain.ProcessRun, p domain.ProcessDefinition, tasks []domain.Task, dir *directory.Directory) bool {
	if u.IsGlobalAdmin() || run.StartedBy == u.ID {
		return true
	}
	if (u.TeamID != "" && u.TeamID == p.OwningTeamID) || dir.IsLead(u.ID, p.OwningTeamID) {
		return true
	}
	for _, role := range []domain.Role{domain.RoleExecutor, domain.RoleRunValidator} {
		if HasGovernancePermission(u, p, role, dir) {
			return true
		}
		if holder, err := ResolveDelegation(p.Governance.For(role), p.OwningTeamID, dir); err == nil && holder.ID == u.ID {
			return true
		}
	}
	for _, step := range p.Steps {
		for _, teamID := range step.Assignment.TeamIDs {
			if dir.IsLead(u.ID, teamID) {
				return true
			}
		}
	}
	for _, t := range tasks {
		if t.RunID != run.ID {
			continue
		}
		if assignee, err := ResolveDelegation(t.Assignee, p.OwningTeamID, dir); err == nil && assignee.ID == u.ID {
			return true
		}
	}
	return false
}
