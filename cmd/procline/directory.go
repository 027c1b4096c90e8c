package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procline/internal/app"
	"procline/internal/directory"
)

func directoryCmd() *cobra.Command {
	dir := &cobra.Command{Use: "directory", Short: "Users and teams"}
	dir.AddCommand(directoryImportCmd())
	dir.AddCommand(directoryUsersCmd())
	dir.AddCommand(directoryTeamsCmd())
	dir.AddCommand(directoryRenameTeamCmd())
	return dir
}

func directoryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert teams and users from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := directory.SeedFromFile(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.ImportDirectory(ctx, seed); err != nil {
					return err
				}
				fmt.Printf("Imported %d teams and %d users\n", len(seed.Teams), len(seed.Users))
				return nil
			})
		},
	}
}

func directoryUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				dir, err := ws.Engine.Directory(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dir.Users())
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Job Title", "Team", "Status", "Admin"})
				for _, u := range dir.Users() {
					team := u.TeamID
					if t, ok := dir.Team(u.TeamID); ok {
						team = t.Name
					}
					tw.AppendRow(table.Row{u.ID, u.Name, u.JobTitle, team, u.Status, u.IsGlobalAdmin()})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func directoryTeamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				dir, err := ws.Engine.Directory(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dir.Teams())
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Lead", "Active Members"})
				for _, t := range dir.Teams() {
					lead := "-"
					if u, ok := dir.Lead(t.ID); ok {
						lead = u.Name
					}
					tw.AppendRow(table.Row{t.ID, t.Name, lead, len(dir.ActiveMembers(t.ID))})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func directoryRenameTeamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename-team <team-id> <name>",
		Short: "Change a team's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t, err := ws.Engine.RenameTeam(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Team %s is now %q\n", t.ID, t.Name)
				return nil
			})
		},
	}
}
