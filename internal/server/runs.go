package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"procline/internal/domain"
	"procline/internal/engine"
)

type runPath struct {
	RunID string `path:"run_id"`
}

type stepPath struct {
	RunID  string `path:"run_id"`
	StepID string `path:"step_id"`
}

func registerRuns(api huma.API, e engine.Engine) {
	// respond reloads the run view so responses carry derived fields. An actor
	// who may no longer see the run still gets the run without its tasks.
	respond := func(ctx context.Context, actorID string, run domain.ProcessRun) (*bodyOf[RunResponse], error) {
		view, err := e.ViewRun(ctx, actorID, run.ID)
		if err != nil {
			var denied engine.AuthorizationDeniedError
			if !errors.As(err, &denied) {
				return nil, handleError(err)
			}
			e.Logger.DebugContext(ctx, "run view denied after mutation", "run_id", run.ID, "actor", actorID)
			p, perr := e.GetProcess(ctx, run.VersionID)
			if perr != nil {
				return nil, handleError(perr)
			}
			return reply(runResponse(run, p, nil)), nil
		}
		return reply(runResponse(view.Run, view.Process, view.Tasks)), nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/processes/{process_id}/runs",
		Summary:       "Start a run of a PUBLISHED version",
		DefaultStatus: http.StatusCreated,
		Errors:        lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		processPath
		Body CreateRunRequest `json:"body" required:"false"`
	}) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.CreateRun(ctx, actorID, input.ID, engine.RunCreateOptions{Name: input.Body.Name, DueAt: input.Body.DueAt})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, actorID, run)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs visible to the current user",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*bodyOf[[]domain.ProcessRun], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		runs, err := e.ListVisibleRuns(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := []domain.ProcessRun{}
		for _, r := range runs {
			if input.Status == "" || string(r.Status) == input.Status {
				out = append(out, r)
			}
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get a run",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.ViewRun(ctx, actorID, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(runResponse(view.Run, view.Process, view.Tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-step",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/steps/{step_id}/toggle",
		Summary:     "Toggle a CHECKBOX step",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *stepPath) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.ToggleStep(ctx, actorID, input.RunID, input.StepID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, actorID, run)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-step-value",
		Method:      http.MethodPut,
		Path:        "/runs/{run_id}/steps/{step_id}/value",
		Summary:     "Set or clear a TEXT_INPUT or FILE_UPLOAD value",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		stepPath
		Body StepValueRequest `json:"body"`
	}) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.SetStepValue(ctx, actorID, input.RunID, input.StepID, domain.StepValue{Text: input.Body.Text, File: input.Body.File})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, actorID, run)
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-interact",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/steps/{step_id}/access",
		Summary:     "Whether the current user may act on a step",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *stepPath) (*bodyOf[InteractResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		access, err := e.CanInteract(ctx, actorID, input.RunID, input.StepID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(InteractResponse{Allowed: access.Allowed, Override: access.Override}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-feedback",
		Method:        http.MethodPost,
		Path:          "/runs/{run_id}/steps/{step_id}/feedback",
		Summary:       "Add feedback to a step",
		DefaultStatus: http.StatusCreated,
		Errors:        lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		stepPath
		Body FeedbackRequest `json:"body"`
	}) (*bodyOf[domain.Feedback], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, fb, err := e.AddFeedback(ctx, actorID, input.RunID, input.StepID, domain.FeedbackType(input.Body.Type), input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(fb), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-feedback",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/feedback/{feedback_id}/resolve",
		Summary:     "Resolve a feedback entry",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		runPath
		FeedbackID string `path:"feedback_id"`
	}) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.ResolveFeedback(ctx, actorID, input.RunID, input.FeedbackID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, actorID, run)
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/submit",
		Summary:     "Submit a READY_TO_SUBMIT run for validation",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *runPath) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.SubmitRun(ctx, actorID, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, actorID, run)
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/validate",
		Summary:     "Approve or reject a submitted run",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		runPath
		Body ValidateRunRequest `json:"body"`
	}) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.ValidateRun(ctx, actorID, input.RunID, input.Body.Approved, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, actorID, run)
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/cancel",
		Summary:     "Cancel a run",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		runPath
		Body CancelRunRequest `json:"body" required:"false"`
	}) (*bodyOf[RunResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.CancelRun(ctx, actorID, input.RunID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, actorID, run)
	})
}
