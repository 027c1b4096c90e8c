package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procline/internal/app"
	"procline/internal/directory"
	"procline/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "procline",
	Short: "procline CLI",
	Long: `procline manages versioned process templates and their runs.
- Directory: users and teams imported from YAML; teams are referenced by id, names are labels.
- Processes: DRAFT -> IN_REVIEW -> PUBLISHED -> ARCHIVED, one in-flight version per family.
- Governance: editor, publisher, run validator and executor, each delegated to a user, job title or team.
- Freshness: published versions expire without periodic review; expired versions cannot start runs.
- Runs: step completion with sequential locking, blockers, submission and validation.
- Reactor: rescans run health and raises an alert when a run turns critical.
- Event log: every change, view with 'procline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.New(os.Stderr, viper.GetString("log-level"), viper.GetString("log-format") == "json")
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROCLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("as", "", "acting user id")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "as", "json", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(directoryCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(reactorCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var name, dirFile string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace with a default procline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			var seed *directory.Seed
			if dirFile != "" {
				s, err := directory.SeedFromFile(dirFile)
				if err != nil {
					return err
				}
				seed = &s
			}
			if name == "" {
				name = "procline"
			}
			ws, err := app.Init(cmd.Context(), workspace, name, seed, slog.Default())
			if err != nil {
				return err
			}
			defer ws.Close()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"workspace": ws.Path, "name": ws.Config.Workspace.Name})
			}
			fmt.Printf("Initialized procline workspace %q in %s\n", ws.Config.Workspace.Name, ws.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workspace name")
	cmd.Flags().StringVar(&dirFile, "directory", "", "directory YAML to import")
	return cmd
}

// withWorkspace opens the workspace for the duration of fn.
func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), slog.Default())
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func actingUser() (string, error) {
	as := strings.TrimSpace(viper.GetString("as"))
	if as == "" {
		return "", errors.New("acting user required; pass --as or set PROCLINE_AS")
	}
	return as, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
