package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"procline/internal/app"
	"procline/internal/domain"
	"procline/internal/engine"
	"procline/internal/engine/freshness"
)

// processFile is the YAML layout accepted by process create and process update.
type processFile struct {
	Title               string               `yaml:"title"`
	Description         *string              `yaml:"description"`
	Category            string               `yaml:"category"`
	IsPublic            *bool                `yaml:"is_public"`
	ReviewFrequencyDays *int                 `yaml:"review_frequency_days"`
	ReviewDueLeadDays   *int                 `yaml:"review_due_lead_days"`
	SequentialExecution *bool                `yaml:"sequential_execution"`
	Steps               []domain.ProcessStep `yaml:"steps"`
	Governance          *domain.Governance   `yaml:"governance"`
}

func readProcessFile(path string) (processFile, error) {
	var pf processFile
	data, err := os.ReadFile(path)
	if err != nil {
		return pf, err
	}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return pf, fmt.Errorf("parse %s: %w", path, err)
	}
	return pf, nil
}

func derefOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func processCmd() *cobra.Command {
	process := &cobra.Command{Use: "process", Short: "Process templates and their versions"}
	process.AddCommand(processCreateCmd())
	process.AddCommand(processListCmd())
	process.AddCommand(processShowCmd())
	process.AddCommand(processFamilyCmd())
	process.AddCommand(processUpdateCmd())
	process.AddCommand(processTransitionCmd("submit", "Submit a DRAFT for review", engine.Engine.SubmitForReview))
	process.AddCommand(processTransitionCmd("recall", "Recall an IN_REVIEW version to DRAFT", engine.Engine.RecallToDraft))
	process.AddCommand(processTransitionCmd("reject", "Reject an IN_REVIEW version back to DRAFT", engine.Engine.RejectReview))
	process.AddCommand(processTransitionCmd("publish", "Publish an IN_REVIEW version, archiving the previous one", engine.Engine.Publish))
	process.AddCommand(processTransitionCmd("refresh", "Mark a PUBLISHED version as reviewed", engine.Engine.RefreshProcess))
	process.AddCommand(processNewDraftCmd())
	process.AddCommand(processEditCmd())
	process.AddCommand(processResolveCmd())
	process.AddCommand(processGovernanceCmd())
	process.AddCommand(processFreshnessCmd())
	return process
}

func processCreateCmd() *cobra.Command {
	var file, title, category string
	var sequential bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a process family as DRAFT v1",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			var pf processFile
			if file != "" {
				if pf, err = readProcessFile(file); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("title") {
				pf.Title = title
			}
			if cmd.Flags().Changed("category") {
				pf.Category = category
			}
			if cmd.Flags().Changed("sequential") {
				pf.SequentialExecution = &sequential
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.CreateProcess(ctx, actorID, engine.ProcessCreateOptions{
					Title:               pf.Title,
					Description:         derefOr(pf.Description, ""),
					OwningTeamID:        pf.Category,
					IsPublic:            derefOr(pf.IsPublic, false),
					ReviewFrequencyDays: derefOr(pf.ReviewFrequencyDays, 0),
					ReviewDueLeadDays:   derefOr(pf.ReviewDueLeadDays, 0),
					SequentialExecution: derefOr(pf.SequentialExecution, false),
					Steps:               pf.Steps,
					Governance:          derefOr(pf.Governance, domain.Governance{}),
				})
				if err != nil {
					return err
				}
				return printProcess(ws, p)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "process definition YAML")
	cmd.Flags().StringVar(&title, "title", "", "process title")
	cmd.Flags().StringVar(&category, "category", "", "owning team id")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "require steps in order")
	return cmd
}

func processListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List process versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListProcesses(ctx)
				if err != nil {
					return err
				}
				var out []domain.ProcessDefinition
				for _, p := range items {
					if status == "" || strings.EqualFold(string(p.Status), status) {
						out = append(out, p)
					}
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				now := ws.Engine.Clock()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Family", "Version", "Status", "Title", "Category", "Freshness"})
				for _, p := range out {
					tw.AppendRow(table.Row{p.ID, p.RootID, p.VersionNumber, p.Status, p.Title, p.OwningTeamID, freshness.CalculateStatus(p, now)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func processShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <process-id>",
		Short: "Show a process version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				return printProcess(ws, p)
			})
		},
	}
}

func processFamilyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "family <root-id>",
		Short: "List every version of a process family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				family, err := ws.Engine.ListFamily(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(family)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "ID", "Status", "Created", "Published"})
				for _, p := range family {
					published := "-"
					if p.PublishedAt != nil {
						published = p.PublishedAt.Format("2006-01-02")
					}
					tw.AppendRow(table.Row{p.VersionNumber, p.ID, p.Status, p.CreatedAt.Format("2006-01-02"), published})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func processUpdateCmd() *cobra.Command {
	var file, title, description string
	cmd := &cobra.Command{
		Use:   "update <process-id>",
		Short: "Edit a DRAFT version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			var upd engine.DraftUpdate
			if file != "" {
				pf, err := readProcessFile(file)
				if err != nil {
					return err
				}
				if pf.Title != "" {
					upd.Title = &pf.Title
				}
				upd.Description = pf.Description
				upd.IsPublic = pf.IsPublic
				upd.ReviewFrequencyDays = pf.ReviewFrequencyDays
				upd.ReviewDueLeadDays = pf.ReviewDueLeadDays
				upd.SequentialExecution = pf.SequentialExecution
				upd.Steps = pf.Steps
				upd.Governance = pf.Governance
			}
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &description
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.UpdateDraft(ctx, actorID, args[0], upd)
				if err != nil {
					return err
				}
				return printProcess(ws, p)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML with the fields to change")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

type processTransition func(engine.Engine, context.Context, string, string) (domain.ProcessDefinition, error)

func processTransitionCmd(use, short string, fn processTransition) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <process-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := fn(ws.Engine, ctx, actorID, args[0])
				if err != nil {
					return err
				}
				return printProcess(ws, p)
			})
		},
	}
}

func processNewDraftCmd() *cobra.Command {
	var overwrite string
	cmd := &cobra.Command{
		Use:   "new-draft <process-id>",
		Short: "Branch a new DRAFT from a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.CreateNewDraft(ctx, actorID, args[0], overwrite)
				if err != nil {
					return err
				}
				return printProcess(ws, p)
			})
		},
	}
	cmd.Flags().StringVar(&overwrite, "overwrite", "", "id of an in-flight version to discard")
	return cmd
}

func processEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <process-id>",
		Short: "Open a version for editing, branching a DRAFT when needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				intent, err := ws.Engine.HandleEditIntent(ctx, actorID, args[0])
				if err != nil {
					return err
				}
				return printEditIntent(intent)
			})
		},
	}
}

func processResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-conflict <process-id> <continue|discard>",
		Short: "Continue the in-flight version or discard it and branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actingUser()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				intent, err := ws.Engine.ResolveEditConflict(ctx, actorID, args[0], engine.ConflictChoice(args[1]))
				if err != nil {
					return err
				}
				return printEditIntent(intent)
			})
		},
	}
}

func processGovernanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "governance <process-id>",
		Short: "Show who holds each governance role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				h, err := ws.Engine.ResolveGovernance(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "Delegation", "Holder"})
				for _, role := range domain.Roles {
					var u domain.User
					switch role {
					case domain.RoleEditor:
						u = h.Editor
					case domain.RolePublisher:
						u = h.Publisher
					case domain.RoleRunValidator:
						u = h.RunValidator
					case domain.RoleExecutor:
						u = h.Executor
					}
					tw.AppendRow(table.Row{role, p.Governance.For(role), fmt.Sprintf("%s (%s)", u.Name, u.ID)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func processFreshnessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freshness <process-id>",
		Short: "Show review freshness of a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, err := ws.Engine.Freshness(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				if r.ExpiresAt == nil {
					fmt.Printf("%s (not subject to review)\n", r.Status)
					return nil
				}
				fmt.Printf("%s, expires %s (%d days remaining)\n", r.Status, r.ExpiresAt.Format("2006-01-02"), r.DaysRemaining)
				return nil
			})
		},
	}
}

func printProcess(ws *app.Workspace, p domain.ProcessDefinition) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	fmt.Printf("%s  v%d  %s  %q\n", p.ID, p.VersionNumber, p.Status, p.Title)
	fmt.Printf("family %s, category %s, freshness %s\n", p.RootID, p.OwningTeamID, freshness.CalculateStatus(p, ws.Engine.Clock()))
	if len(p.Steps) == 0 {
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Step", "Type", "Required", "Text"})
	for _, s := range p.OrderedSteps() {
		tw.AppendRow(table.Row{s.OrderIndex, s.ID, s.InputType, s.Required, s.Text})
	}
	tw.Render()
	return nil
}

func printEditIntent(intent engine.EditIntent) error {
	if viper.GetBool("json") {
		return printJSON(intent)
	}
	fmt.Printf("mode %s: %s v%d (%s)\n", intent.Mode, intent.Process.ID, intent.Process.VersionNumber, intent.Process.Status)
	if intent.InFlight != nil {
		fmt.Printf("in-flight version %s v%d (%s); resolve with continue or discard\n", intent.InFlight.ID, intent.InFlight.VersionNumber, intent.InFlight.Status)
	}
	return nil
}
