// Package directory holds the users and teams that governance is resolved against.
package directory

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"procline/internal/domain"
)

// Directory is an immutable snapshot of users and teams.
// Users are ordered by id ascending; every "first match" lookup follows that order.
type Directory struct {
	users []domain.User
	teams []domain.Team
	byID  map[string]int
	team  map[string]int
}

func New(users []domain.User, teams []domain.Team) *Directory {
	d := &Directory{
		users: slices.Clone(users),
		teams: slices.Clone(teams),
		byID:  make(map[string]int, len(users)),
		team:  make(map[string]int, len(teams)),
	}
	slices.SortFunc(d.users, func(a, b domain.User) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(d.teams, func(a, b domain.Team) int { return strings.Compare(a.ID, b.ID) })
	for i, u := range d.users {
		d.byID[u.ID] = i
	}
	for i, t := range d.teams {
		d.team[t.ID] = i
	}
	return d
}

func (d *Directory) Users() []domain.User { return d.users }
func (d *Directory) Teams() []domain.Team { return d.teams }

func (d *Directory) User(id string) (domain.User, bool) {
	i, ok := d.byID[id]
	if !ok {
		return domain.User{}, false
	}
	return d.users[i], true
}

func (d *Directory) Team(id string) (domain.Team, bool) {
	i, ok := d.team[id]
	if !ok {
		return domain.Team{}, false
	}
	return d.teams[i], true
}

// TeamByName matches the display label; callers should prefer ids.
func (d *Directory) TeamByName(name string) (domain.Team, bool) {
	for _, t := range d.teams {
		if t.Name == name {
			return t, true
		}
	}
	return domain.Team{}, false
}

// Lead returns the team's lead if it references an ACTIVE user.
func (d *Directory) Lead(teamID string) (domain.User, bool) {
	t, ok := d.Team(teamID)
	if !ok || t.LeadUserID == "" {
		return domain.User{}, false
	}
	u, ok := d.User(t.LeadUserID)
	if !ok || !u.Active() {
		return domain.User{}, false
	}
	return u, true
}

// IsLead reports whether userID is the effective lead of teamID.
func (d *Directory) IsLead(userID, teamID string) bool {
	if teamID == "" {
		return false
	}
	lead, ok := d.Lead(teamID)
	return ok && lead.ID == userID
}

// ActiveMembers lists active users of the team in id order.
func (d *Directory) ActiveMembers(teamID string) []domain.User {
	var out []domain.User
	for _, u := range d.users {
		if u.TeamID == teamID && u.Active() {
			out = append(out, u)
		}
	}
	return out
}

// Seed is the YAML shape accepted by `procline directory import`.
type Seed struct {
	Teams []domain.Team `yaml:"teams"`
	Users []domain.User `yaml:"users"`
}

func (s Seed) Validate() error {
	teams := map[string]bool{}
	names := map[string]bool{}
	for _, t := range s.Teams {
		if t.ID == "" {
			return errors.New("team id is required")
		}
		if teams[t.ID] {
			return fmt.Errorf("duplicate team id %s", t.ID)
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate team name %q", t.Name)
		}
		teams[t.ID] = true
		names[t.Name] = true
	}
	users := map[string]bool{}
	for _, u := range s.Users {
		if u.ID == "" {
			return errors.New("user id is required")
		}
		if users[u.ID] {
			return fmt.Errorf("duplicate user id %s", u.ID)
		}
		users[u.ID] = true
		if u.TeamID != "" && !teams[u.TeamID] {
			return fmt.Errorf("user %s references unknown team %s", u.ID, u.TeamID)
		}
		switch u.Status {
		case domain.UserActive, domain.UserInactive:
		default:
			return fmt.Errorf("user %s has invalid status %q", u.ID, u.Status)
		}
	}
	for _, t := range s.Teams {
		if t.LeadUserID != "" && !users[t.LeadUserID] {
			return fmt.Errorf("team %s lead %s is not a known user", t.ID, t.LeadUserID)
		}
	}
	return nil
}

// SeedFromYAML parses a directory seed. Users without a status default to ACTIVE.
func SeedFromYAML(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("invalid directory yaml: %w", err)
	}
	for i := range s.Users {
		if s.Users[i].Status == "" {
			s.Users[i].Status = domain.UserActive
		}
	}
	if err := s.Validate(); err != nil {
		return Seed{}, err
	}
	return s, nil
}

func SeedFromFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	return SeedFromYAML(data)
}
