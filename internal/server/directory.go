package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"procline/internal/domain"
	"procline/internal/engine"
)

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*bodyOf[domain.User], error) {
		u, ok := principalFromContext(ctx)
		if !ok {
			_, err := actorIDFromContext(ctx)
			return nil, err
		}
		return reply(u), nil
	})
}

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/directory/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*bodyOf[[]domain.User], error) {
		dir, err := e.Directory(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(dir.Users()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/directory/teams",
		Summary:     "List teams",
	}, func(ctx context.Context, _ *struct{}) (*bodyOf[[]domain.Team], error) {
		dir, err := e.Directory(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(dir.Teams()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-team",
		Method:      http.MethodPatch,
		Path:        "/directory/teams/{team_id}",
		Summary:     "Rename team",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string            `path:"team_id"`
		Body   RenameTeamRequest `json:"body"`
	}) (*bodyOf[domain.Team], error) {
		u, ok := principalFromContext(ctx)
		if !ok {
			_, err := actorIDFromContext(ctx)
			return nil, err
		}
		if !u.IsGlobalAdmin() && !u.Permissions.CanManageTeam {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "can_manage_team required", nil)
		}
		t, err := e.RenameTeam(ctx, input.TeamID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})
}
