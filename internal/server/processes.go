package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"procline/internal/domain"
	"procline/internal/engine"
	"procline/internal/engine/freshness"
	"procline/internal/engine/governance"
)

var lifecycleErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

type processPath struct {
	ID string `path:"process_id"`
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Create a process family as a DRAFT v1",
		DefaultStatus: http.StatusCreated,
		Errors:        lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*bodyOf[ProcessResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProcess(ctx, actorID, engine.ProcessCreateOptions{
			Title:               input.Body.Title,
			Description:         input.Body.Description,
			OwningTeamID:        input.Body.Category,
			IsPublic:            input.Body.IsPublic,
			ReviewFrequencyDays: input.Body.ReviewFrequencyDays,
			ReviewDueLeadDays:   input.Body.ReviewDueLeadDays,
			SequentialExecution: input.Body.SequentialExecution,
			Steps:               steps(input.Body.Steps),
			Governance:          input.Body.Governance.governance(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(processResponse(p, e.Clock())), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List process versions",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"DRAFT,IN_REVIEW,PUBLISHED,ARCHIVED"`
	}) (*bodyOf[[]ProcessResponse], error) {
		items, err := e.ListProcesses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		now := e.Clock()
		out := []ProcessResponse{}
		for _, p := range items {
			if input.Status != "" && string(p.Status) != input.Status {
				continue
			}
			out = append(out, processResponse(p, now))
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}",
		Summary:     "Get a process version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*bodyOf[ProcessResponse], error) {
		p, err := e.GetProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(processResponse(p, e.Clock())), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-family",
		Method:      http.MethodGet,
		Path:        "/families/{root_id}",
		Summary:     "List every version of a process family",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RootID string `path:"root_id"`
	}) (*bodyOf[[]ProcessResponse], error) {
		family, err := e.ListFamily(ctx, input.RootID)
		if err != nil {
			return nil, handleError(err)
		}
		now := e.Clock()
		out := make([]ProcessResponse, 0, len(family))
		for _, p := range family {
			out = append(out, processResponse(p, now))
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft",
		Method:      http.MethodPatch,
		Path:        "/processes/{process_id}",
		Summary:     "Edit a DRAFT version",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		processPath
		Body UpdateDraftRequest `json:"body"`
	}) (*bodyOf[ProcessResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		upd := engine.DraftUpdate{
			Title:               input.Body.Title,
			Description:         input.Body.Description,
			IsPublic:            input.Body.IsPublic,
			ReviewFrequencyDays: input.Body.ReviewFrequencyDays,
			ReviewDueLeadDays:   input.Body.ReviewDueLeadDays,
			SequentialExecution: input.Body.SequentialExecution,
			Steps:               steps(input.Body.Steps),
		}
		if input.Body.Governance != nil {
			g := input.Body.Governance.governance()
			upd.Governance = &g
		}
		p, err := e.UpdateDraft(ctx, actorID, input.ID, upd)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(processResponse(p, e.Clock())), nil
	})

	transitions := []struct {
		id, path, summary string
		fn                func(context.Context, string, string) (domain.ProcessDefinition, error)
	}{
		{"submit-for-review", "/processes/{process_id}/submit", "Submit a DRAFT for review", e.SubmitForReview},
		{"recall-to-draft", "/processes/{process_id}/recall", "Recall an IN_REVIEW version to DRAFT", e.RecallToDraft},
		{"reject-review", "/processes/{process_id}/reject", "Reject an IN_REVIEW version back to DRAFT", e.RejectReview},
		{"publish", "/processes/{process_id}/publish", "Publish an IN_REVIEW version", e.Publish},
		{"refresh-process", "/processes/{process_id}/refresh", "Mark a PUBLISHED version as reviewed", e.RefreshProcess},
	}
	for _, tr := range transitions {
		fn := tr.fn
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPost,
			Path:        tr.path,
			Summary:     tr.summary,
			Errors:      lifecycleErrors,
		}, func(ctx context.Context, input *processPath) (*bodyOf[ProcessResponse], error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := fn(ctx, actorID, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(processResponse(p, e.Clock())), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-new-draft",
		Method:        http.MethodPost,
		Path:          "/processes/{process_id}/drafts",
		Summary:       "Branch a new DRAFT from a version",
		DefaultStatus: http.StatusCreated,
		Errors:        lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		processPath
		Body NewDraftRequest `json:"body" required:"false"`
	}) (*bodyOf[ProcessResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateNewDraft(ctx, actorID, input.ID, input.Body.OverwriteDraftID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(processResponse(p, e.Clock())), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-intent",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/edit-intent",
		Summary:     "Open a version for editing, branching when needed",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *processPath) (*bodyOf[engine.EditIntent], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		intent, err := e.HandleEditIntent(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(intent), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-edit-conflict",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/edit-intent/resolve",
		Summary:     "Continue the in-flight version or discard it and branch",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		processPath
		Body ResolveConflictRequest `json:"body"`
	}) (*bodyOf[engine.EditIntent], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		intent, err := e.ResolveEditConflict(ctx, actorID, input.ID, engine.ConflictChoice(input.Body.Choice))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(intent), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-governance",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/governance",
		Summary:     "Resolve the holder of each governance role",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *processPath) (*bodyOf[governance.Holders], error) {
		h, err := e.ResolveGovernance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(h), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-freshness",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/freshness",
		Summary:     "Review freshness of a version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*bodyOf[freshness.Report], error) {
		r, err := e.Freshness(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-launch-run",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/launch-check",
		Summary:     "Whether the current user may start a run now",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*bodyOf[LaunchCheckResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.LaunchCheck(ctx, actorID, input.ID)
		if err == nil {
			return reply(LaunchCheckResponse{Allowed: true}), nil
		}
		if se := handleError(err); se.GetStatus() == http.StatusNotFound || se.GetStatus() >= 500 {
			return nil, se
		}
		return reply(LaunchCheckResponse{Reason: err.Error()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-refresh-process",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/refresh-check",
		Summary:     "Whether the current user may refresh the version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*bodyOf[RefreshCheckResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ok, err := e.CanRefreshProcess(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(RefreshCheckResponse{Allowed: ok}), nil
	})
}
