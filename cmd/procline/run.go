package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procline/internal/app"
	"procline/internal/domain"
	"procline/internal/engine"
)

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Runs of published processes"}
	run.AddCommand(runStartCmd())
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	run.AddCommand(runToggleCmd())
	run.AddCommand(runSetValueCmd())
	run.AddCommand(runFeedbackCmd())
	run.AddCommand(runSubmitCmd())
	run.AddCommand(runValidateCmd())
	run.AddCommand(runCancelCmd())
	return run
}

func runStartCmd() *cobra.Command {
	var name, due string
	cmd := &cobra.Command{
		Use:   "start <process-id>",
		Short: "Start a run of a PUBLISHED version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			opts := engine.RunCreateOptions{Name: name}
			if due != "" {
				t, err := parseDue(due)
				if err != nil {
					return err
				}
				opts.DueAt = &t
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				run, err := ws.Engine.CreateRun(ctx, actorID, args[0], opts)
				if err != nil {
					return err
				}
				return showRun(ctx, ws, actorID, run.ID)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "run name (defaults to title and date)")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q", s)
	}
	return t, nil
}

func runListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				runs, err := ws.Engine.ListVisibleRuns(ctx, actorID)
				if err != nil {
					return err
				}
				var out []domain.ProcessRun
				for _, r := range runs {
					if status == "" || strings.EqualFold(string(r.Status), status) {
						out = append(out, r)
					}
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Health", "Blockers", "Due"})
				for _, r := range out {
					due := "-"
					if r.DueAt != nil {
						due = r.DueAt.Format("2006-01-02")
					}
					tw.AppendRow(table.Row{r.ID, r.Name, r.Status, r.HealthScore, r.UnresolvedBlockers(), due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func runShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return showRun(ctx, ws, actorID, args[0])
			})
		},
	}
}

func runToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <run-id> <step-id>",
		Short: "Toggle a CHECKBOX step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStepAction(cmd, args[0], func(ctx context.Context, ws *app.Workspace, actorID string) error {
				_, err := ws.Engine.ToggleStep(ctx, actorID, args[0], args[1])
				return err
			})
		},
	}
}

func runSetValueCmd() *cobra.Command {
	var text, fileName, fileURL string
	var clearValue bool
	cmd := &cobra.Command{
		Use:   "set-value <run-id> <step-id>",
		Short: "Set or clear the value of a TEXT_INPUT or FILE_UPLOAD step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v domain.StepValue
			if !clearValue {
				v.Text = text
				if fileName != "" {
					v.File = &domain.FileRef{Name: fileName, URL: fileURL}
				}
				if !v.Present() {
					return errors.New("value required; pass --text, --file-name or --clear")
				}
			}
			return runStepAction(cmd, args[0], func(ctx context.Context, ws *app.Workspace, actorID string) error {
				_, err := ws.Engine.SetStepValue(ctx, actorID, args[0], args[1], v)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text value")
	cmd.Flags().StringVar(&fileName, "file-name", "", "uploaded file name")
	cmd.Flags().StringVar(&fileURL, "file-url", "", "uploaded file location")
	cmd.Flags().BoolVar(&clearValue, "clear", false, "clear the value")
	return cmd
}

func runFeedbackCmd() *cobra.Command {
	fb := &cobra.Command{Use: "feedback", Short: "Step feedback"}
	var kind, text string
	add := &cobra.Command{
		Use:   "add <run-id> <step-id>",
		Short: "Add BLOCKER, ADVISORY or PRAISE feedback to a step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStepAction(cmd, args[0], func(ctx context.Context, ws *app.Workspace, actorID string) error {
				_, f, err := ws.Engine.AddFeedback(ctx, actorID, args[0], args[1], domain.FeedbackType(strings.ToUpper(kind)), text)
				if err == nil && !viper.GetBool("json") {
					fmt.Printf("feedback %s added\n", f.ID)
				}
				return err
			})
		},
	}
	add.Flags().StringVar(&kind, "type", string(domain.FeedbackAdvisory), "BLOCKER, ADVISORY or PRAISE")
	add.Flags().StringVar(&text, "text", "", "feedback text")
	resolve := &cobra.Command{
		Use:   "resolve <run-id> <feedback-id>",
		Short: "Resolve a feedback entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStepAction(cmd, args[0], func(ctx context.Context, ws *app.Workspace, actorID string) error {
				_, err := ws.Engine.ResolveFeedback(ctx, actorID, args[0], args[1])
				return err
			})
		},
	}
	fb.AddCommand(add, resolve)
	return fb
}

func runSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <run-id>",
		Short: "Submit a READY_TO_SUBMIT run for validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStepAction(cmd, args[0], func(ctx context.Context, ws *app.Workspace, actorID string) error {
				_, err := ws.Engine.SubmitRun(ctx, actorID, args[0])
				return err
			})
		},
	}
}

func runValidateCmd() *cobra.Command {
	var reject bool
	var reason string
	cmd := &cobra.Command{
		Use:   "validate <run-id>",
		Short: "Approve a submitted run, or reject it with --reject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStepAction(cmd, args[0], func(ctx context.Context, ws *app.Workspace, actorID string) error {
				_, err := ws.Engine.ValidateRun(ctx, actorID, args[0], !reject, reason)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&reason, "reason", "", "validation note")
	return cmd
}

func runCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStepAction(cmd, args[0], func(ctx context.Context, ws *app.Workspace, actorID string) error {
				_, err := ws.Engine.CancelRun(ctx, actorID, args[0], reason)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation note")
	return cmd
}

// runStepAction performs a run mutation as the acting user and then prints the run.
func runStepAction(cmd *cobra.Command, runID string, fn func(context.Context, *app.Workspace, string) error) error {
	actorID, err := actingUser()
	if err != nil {
		return err
	}
	return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
		if err := fn(ctx, ws, actorID); err != nil {
			return err
		}
		return showRun(ctx, ws, actorID, runID)
	})
}

func showRun(ctx context.Context, ws *app.Workspace, actorID, runID string) error {
	view, err := ws.Engine.ViewRun(ctx, actorID, runID)
	if err != nil {
		return err
	}
	run, p := view.Run, view.Process
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"run":                        run,
			"progress":                   engine.Progress(run, p),
			"unresolved_blockers":        engine.TotalUnresolvedBlockers(run),
			"can_submit_with_exceptions": engine.CanSubmitWithExceptions(run, p),
			"tasks":                      view.Tasks,
		})
	}
	fmt.Printf("%s  %q  %s  health %d  progress %d%%\n", run.ID, run.Name, run.Status, run.HealthScore, engine.Progress(run, p))
	fmt.Printf("process %s v%d\n", p.ID, p.VersionNumber)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Step", "Type", "Done", "Locked By", "Blockers", "Text"})
	for _, s := range p.OrderedSteps() {
		lockedBy, _ := engine.LockedBy(p, run, s.ID)
		blockers := 0
		for _, f := range run.StepFeedback[s.ID] {
			if f.OpenBlocker() {
				blockers++
			}
		}
		tw.AppendRow(table.Row{s.OrderIndex, s.ID, s.InputType, run.Completed(s.ID), lockedBy, blockers, s.Text})
	}
	tw.Render()
	return nil
}
