// Package freshness classifies how recently a published process was reviewed.
package freshness

import (
	"math"
	"time"

	"procline/internal/directory"
	"procline/internal/domain"
	"procline/internal/engine/governance"
)

type Status string

const (
	Current Status = "CURRENT"
	DueSoon Status = "DUE_SOON"
	Expired Status = "EXPIRED"
)

const day = 24 * time.Hour

// Report carries the classification plus the numbers behind it.
// ExpiresAt is nil when the process is not subject to review.
type Report struct {
	Status        Status     `json:"status" enum:"CURRENT,DUE_SOON,EXPIRED"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
}

// Calculate only applies to PUBLISHED processes with a positive review frequency;
// everything else is CURRENT.
func Calculate(p domain.ProcessDefinition, now time.Time) Report {
	if p.Status != domain.ProcessPublished || p.ReviewFrequencyDays <= 0 {
		return Report{Status: Current}
	}
	reviewed := p.CreatedAt
	switch {
	case p.LastReviewedAt != nil:
		reviewed = *p.LastReviewedAt
	case p.PublishedAt != nil:
		reviewed = *p.PublishedAt
	}
	expires := reviewed.Add(time.Duration(p.ReviewFrequencyDays) * day)
	remaining := int(math.Ceil(float64(expires.Sub(now)) / float64(day)))
	r := Report{ExpiresAt: &expires, DaysRemaining: remaining}
	switch {
	case remaining < 0:
		r.Status = Expired
	case remaining <= p.ReviewDueLeadDays:
		r.Status = DueSoon
	default:
		r.Status = Current
	}
	return r
}

func CalculateStatus(p domain.ProcessDefinition, now time.Time) Status {
	return Calculate(p, now).Status
}

// CanRefreshProcess allows Global Admins, the resolved Editor and Publisher,
// and the owning team's lead.
func CanRefreshProcess(u domain.User, p domain.ProcessDefinition, dir *directory.Directory) bool {
	if u.IsGlobalAdmin() || dir.IsLead(u.ID, p.OwningTeamID) {
		return true
	}
	for _, role := range []domain.Role{domain.RoleEditor, domain.RolePublisher} {
		holder, err := governance.ResolveDelegation(p.Governance.For(role), p.OwningTeamID, dir)
		if err == nil && holder.ID == u.ID {
			return true
		}
	}
	return false
}
