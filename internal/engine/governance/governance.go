// Package governance decides who holds a process role and who may act on a step or see a run.
// Every function is pure over a directory snapshot.
package governance

import (
	"errors"
	"fmt"

	"procline/internal/directory"
	"procline/internal/domain"
)

// ErrNoEligibleUser is returned when the waterfall finds no active candidate
// and the directory has no active Global Admin to fall back on.
var ErrNoEligibleUser = errors.New("no eligible active user")

// ResolveEffectiveUser walks the waterfall: specific user, job title, team lead,
// team member, Global Admin. Each step only accepts ACTIVE users and ties break
// on the directory's id order.
func ResolveEffectiveUser(userID, jobTitle, teamID string, dir *directory.Directory) (domain.User, error) {
	if userID != "" {
		if u, ok := dir.User(userID); ok && u.Active() {
			return u, nil
		}
	}
	if jobTitle != "" {
		for _, u := range dir.Users() {
			if u.Active() && u.JobTitle == jobTitle {
				return u, nil
			}
		}
	}
	if teamID != "" {
		if lead, ok := dir.Lead(teamID); ok {
			return lead, nil
		}
		if members := dir.ActiveMembers(teamID); len(members) > 0 {
			return members[0], nil
		}
	}
	for _, u := range dir.Users() {
		if u.Active() && u.IsGlobalAdmin() {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("resolve user=%q job_title=%q team=%q: %w", userID, jobTitle, teamID, ErrNoEligibleUser)
}

// ResolveDelegation resolves one delegation. An unset delegation resolves to the
// owning team's lead before the admin fallback.
func ResolveDelegation(d domain.Delegation, owningTeamID string, dir *directory.Directory) (domain.User, error) {
	if d.IsNone() {
		if lead, ok := dir.Lead(owningTeamID); ok {
			return lead, nil
		}
		return ResolveEffectiveUser("", "", "", dir)
	}
	switch d.Kind {
	case domain.DelegateUser:
		return ResolveEffectiveUser(d.Value, "", "", dir)
	case domain.DelegateJobTitle:
		return ResolveEffectiveUser("", d.Value, "", dir)
	case domain.DelegateTeam:
		return ResolveEffectiveUser("", "", d.Value, dir)
	}
	return domain.User{}, fmt.Errorf("unknown delegation kind %q", d.Kind)
}

// Holders is the resolved user for each governance role.
type Holders struct {
	Editor       domain.User `json:"editor"`
	Publisher    domain.User `json:"publisher"`
	RunValidator domain.User `json:"run_validator"`
	Executor     domain.User `json:"executor"`
}

func ResolveGovernance(p domain.ProcessDefinition, dir *directory.Directory) (Holders, error) {
	var h Holders
	targets := map[domain.Role]*domain.User{
		domain.RoleEditor:       &h.Editor,
		domain.RolePublisher:    &h.Publisher,
		domain.RoleRunValidator: &h.RunValidator,
		domain.RoleExecutor:     &h.Executor,
	}
	for _, role := range domain.Roles {
		u, err := ResolveDelegation(p.Governance.For(role), p.OwningTeamID, dir)
		if err != nil {
			return Holders{}, fmt.Errorf("%s: %w", role, err)
		}
		*targets[role] = u
	}
	return h, nil
}

// HasGovernancePermission checks a user against a role's delegation.
// Global Admins always pass; an unset delegation falls back to leadership of the owning team.
func HasGovernancePermission(u domain.User, p domain.ProcessDefinition, role domain.Role, dir *directory.Directory) bool {
	if u.IsGlobalAdmin() {
		return true
	}
	d := p.Governance.For(role)
	switch {
	case d.IsNone():
		return dir.IsLead(u.ID, p.OwningTeamID)
	case d.Kind == domain.DelegateUser:
		return u.ID == d.Value
	case d.Kind == domain.DelegateJobTitle:
		return u.JobTitle == d.Value
	case d.Kind == domain.DelegateTeam:
		return u.TeamID == d.Value || dir.IsLead(u.ID, d.Value)
	}
	return false
}

// DefaultGovernance applies the creation-time policy: doer roles (editor, executor)
// default to the owning team, approver roles (publisher, run validator) stay unset
// so they fall back to the owning team's lead.
func DefaultGovernance(owningTeamID string, overrides domain.Governance) domain.Governance {
	g := overrides
	if g.Editor.IsNone() && owningTeamID != "" {
		g.Editor = domain.ToTeam(owningTeamID)
	}
	if g.Executor.IsNone() && owningTeamID != "" {
		g.Executor = domain.ToTeam(owningTeamID)
	}
	return g
}
