package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"procline/internal/app"
	"procline/internal/events"
	"procline/internal/reactor"
	"procline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noReactor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the health reactor and webhook relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if !cmd.Flags().Changed("addr") && ws.Config.Server.Addr != "" {
					addr = ws.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && ws.Config.Server.BasePath != "" {
					basePath = ws.Config.Server.BasePath
				}
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				handler, err := server.New(server.Config{
					Engine:   ws.Engine,
					BasePath: basePath,
					Events:   &ws.Events,
					Metrics:  reg,
					Logger:   ws.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					fmt.Printf("Serving procline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if !noReactor {
					r := reactor.New(ws.Engine, reactor.NewMetrics(reg))
					g.Go(func() error { return r.Run(ctx) })
				}
				relay := events.NewRelay(ws.Events, ws.Config.Webhooks, ws.Logger.With("component", "relay"))
				g.Go(func() error { return relay.Run(ctx) })
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noReactor, "no-reactor", false, "do not run the health reactor")
	return cmd
}

func reactorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reactor",
		Short: "Recompute run health and raise critical alerts",
		Long:  "Scans every non-terminal run, stores changed health scores and raises run.health.critical when a run drops to the configured threshold.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r := reactor.New(ws.Engine, nil)
				if !once {
					ws.Logger.InfoContext(ctx, "reactor started", "interval", ws.Config.Reactor.Interval, "threshold", ws.Config.Reactor.HealthAlertThreshold)
					return r.Run(ctx)
				}
				res := r.Scan(ctx)
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("scanned %d, skipped %d, alerts %d, errors %d\n", res.Scanned, res.Skipped, len(res.Alerts), res.Errors)
				for _, a := range res.Alerts {
					fmt.Printf("  run %s health %d -> %d\n", a.RunID, a.Previous, a.Current)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "scan once and exit")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: process transitions, run activity, health alerts and directory changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Events.List(ctx, events.Query{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n, Newest: true})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "At", "Type", "Severity", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.At.Format(time.RFC3339), e.Type, e.Severity, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
