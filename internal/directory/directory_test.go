package directory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/directory"
	"procline/internal/domain"
)

const seedYAML = `
teams:
  - id: t-ops
    name: Operations
    lead_user_id: u-lee
  - id: t-fin
    name: Finance
users:
  - id: u-zed
    name: Zed
    team_id: t-ops
  - id: u-lee
    name: Lee
    job_title: Supervisor
    team_id: t-ops
    permissions:
      can_design: true
  - id: u-amy
    name: Amy
    team_id: t-ops
    status: INACTIVE
`

func TestSeedFromYAML(t *testing.T) {
	seed, err := directory.SeedFromYAML([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Users, 3)
	assert.Equal(t, domain.UserActive, seed.Users[0].Status, "status defaults to ACTIVE")
	assert.Equal(t, domain.UserInactive, seed.Users[2].Status)
	assert.True(t, seed.Users[1].Permissions.CanDesign)

	dir := directory.New(seed.Users, seed.Teams)
	var ids []string
	for _, u := range dir.Users() {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"u-amy", "u-lee", "u-zed"}, ids, "users are kept in id order")

	lead, ok := dir.Lead("t-ops")
	require.True(t, ok)
	assert.Equal(t, "u-lee", lead.ID)
	assert.True(t, dir.IsLead("u-lee", "t-ops"))
	assert.False(t, dir.IsLead("u-lee", ""))

	members := dir.ActiveMembers("t-ops")
	require.Len(t, members, 2)
	assert.Equal(t, "u-lee", members[0].ID)

	team, ok := dir.TeamByName("Finance")
	require.True(t, ok)
	assert.Equal(t, "t-fin", team.ID)
	_, ok = dir.Lead("t-fin")
	assert.False(t, ok)
}

func TestLeadMustBeActive(t *testing.T) {
	dir := directory.New(
		[]domain.User{{ID: "u-gone", TeamID: "t-ops", Status: domain.UserInactive}},
		[]domain.Team{{ID: "t-ops", Name: "Operations", LeadUserID: "u-gone"}},
	)
	_, ok := dir.Lead("t-ops")
	assert.False(t, ok)
}

func TestSeedValidation(t *testing.T) {
	cases := map[string]string{
		"duplicate team id":   "teams:\n  - {id: t, name: A}\n  - {id: t, name: B}\n",
		"duplicate team name": "teams:\n  - {id: a, name: Ops}\n  - {id: b, name: Ops}\n",
		"unknown team":        "users:\n  - {id: u, team_id: t-none}\n",
		"unknown lead":        "teams:\n  - {id: t, name: A, lead_user_id: u-none}\n",
		"bad status":          "users:\n  - {id: u, status: RETIRED}\n",
		"missing user id":     "users:\n  - {name: nobody}\n",
		"duplicate user":      "users:\n  - {id: u}\n  - {id: u}\n",
		"bad yaml":            "teams: {",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := directory.SeedFromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}
