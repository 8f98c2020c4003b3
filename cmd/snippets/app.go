package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/phrazzld/snippet-runner/internal/api"
	"github.com/phrazzld/snippet-runner/internal/config"
	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/engine/memory"
	"github.com/phrazzld/snippet-runner/internal/lifecycle"
	"github.com/phrazzld/snippet-runner/internal/platform/postgres"
	"github.com/phrazzld/snippet-runner/internal/platform/redis"
	"github.com/phrazzld/snippet-runner/internal/snippets"
	"github.com/phrazzld/snippet-runner/internal/task"
)

// shutdownTimeout bounds the cleanup hooks run at exit.
const shutdownTimeout = 10 * time.Second

// application holds the shared dependencies of a snippet run and releases
// them through a single lifecycle manager on every exit path.
type application struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	engine   engine.Engine
	pipeline *task.Pipeline
	status   *api.Server

	lifecycle *lifecycle.Manager
}

// newApplication connects the configured engine backend, creates the
// pipeline and starts the status endpoint when enabled. Anything acquired
// before a failure is released before returning.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*application, error) {
	app := &application{
		config:    cfg,
		logger:    logger,
		out:       out,
		lifecycle: lifecycle.NewManager(logger),
	}

	eng, err := app.setupEngine(ctx)
	if err != nil {
		app.cleanup()
		return nil, err
	}
	app.engine = eng

	app.pipeline = task.NewPipeline(pipelineConfig(cfg.Pipeline), logger)

	if cfg.Status.Addr != "" {
		srv, err := api.Start(cfg.Status.Addr, api.NewRouter(app.pipeline, logger), logger.With("component", "status"))
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to start status endpoint: %w", err)
		}
		app.status = srv
		app.lifecycle.Register("status server", srv.Shutdown)
	}

	logger.Info("Application initialized successfully",
		"engine", cfg.Engine.Backend,
		"workers", cfg.Pipeline.Workers,
		"backlog_cap", cfg.Pipeline.Workers*cfg.Pipeline.BacklogMultiplier)
	return app, nil
}

// setupEngine builds the configured backend and registers its release.
func (app *application) setupEngine(ctx context.Context) (engine.Engine, error) {
	cfg := app.config

	switch cfg.Engine.Backend {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := postgres.Migrate(db, app.logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		eng := postgres.NewEngine(db, postgres.WithDataSources(cfg.Engine.DataSources...))
		app.lifecycle.Register("engine", closer(eng.Close))
		return eng, nil

	default:
		var opts []memory.Option
		if len(cfg.Engine.DataSources) > 0 {
			opts = append(opts, memory.WithDataSources(cfg.Engine.DataSources...))
		}
		if cfg.Redis.Addr != "" {
			queue, err := redis.Connect(ctx, cfg.Redis, app.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to connect redo queue: %w", err)
			}
			app.lifecycle.Register("redo queue", closer(queue.Close))
			opts = append(opts, memory.WithRedoStore(queue))
		}
		eng := memory.New(opts...)
		app.lifecycle.Register("engine", closer(eng.Close))
		return eng, nil
	}
}

// Run executes the selected snippets in order.
func (app *application) Run(ctx context.Context, selected []snippets.Snippet) error {
	env := snippets.NewEnv(app.engine, app.pipeline, app.config.Input, app.logger, app.out)
	return snippets.RunAll(ctx, env, selected)
}

// cleanup releases everything registered with the lifecycle manager. It is
// safe to call more than once.
func (app *application) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.lifecycle.Shutdown(ctx); err != nil {
		app.logger.Error("Error during shutdown", "error", err)
	}
	app.logger.Info("Application shutdown completed")
}

func pipelineConfig(c config.PipelineConfig) task.Config {
	return task.Config{
		Workers:           c.Workers,
		BacklogMultiplier: c.BacklogMultiplier,
		DrainPause:        c.DrainPause,
		IdlePause:         c.IdlePause,
		PollTimeout:       c.PollTimeout,
		ProgressInterval:  c.ProgressInterval,
		RetryDir:          c.RetryDir,
	}
}

func closer(fn func() error) lifecycle.CloseFunc {
	return func(context.Context) error { return fn() }
}
