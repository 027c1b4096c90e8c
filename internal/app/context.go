// Package app wires a workspace: database, migrations, config, event sinks and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"procline/internal/config"
	"procline/internal/db"
	"procline/internal/directory"
	"procline/internal/engine"
	"procline/internal/events"
	"procline/internal/migrate"
	"procline/internal/repo"
)

// Workspace is an opened procline workspace.
type Workspace struct {
	Path   string
	DB     *sql.DB
	Config *config.Config
	Events events.Writer
	Engine engine.Engine
	Logger *slog.Logger
}

// Open opens the workspace database, applies pending migrations and builds an
// engine whose events go both to the events table and to the log.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(db.Path(path)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workspace %s is not initialized; run procline init", path)
		}
		return nil, err
	}
	return open(ctx, path, logger)
}

func open(ctx context.Context, path string, logger *slog.Logger) (*Workspace, error) {
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: path})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Migrate(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.DebugContext(ctx, "workspace opened", "path", path, "schema_version", version)
	w := events.Writer{DB: conn, Logger: logger}
	eng := engine.New(repo.NewSQLite(conn), events.Multi{w, events.LogSink{Logger: logger}}, cfg, logger)
	return &Workspace{Path: path, DB: conn, Config: cfg, Events: w, Engine: eng, Logger: logger}, nil
}

// Init creates the workspace directory, config file and schema. An existing
// config file is left untouched. A directory seed, when given, is imported.
func Init(ctx context.Context, path, name string, seed *directory.Seed, logger *slog.Logger) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(path); err != nil {
		return nil, err
	}
	cfgPath := config.Path(path)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(name)), 0o644); err != nil {
			return nil, fmt.Errorf("write config: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ws, err := open(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	if seed != nil {
		if err := ws.Engine.ImportDirectory(ctx, *seed); err != nil {
			ws.Close()
			return nil, fmt.Errorf("import directory: %w", err)
		}
	}
	return ws, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
