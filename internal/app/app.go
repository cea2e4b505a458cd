// Package app wires the wizard's components from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sdlc-wizard/internal/agents/analyst"
	"sdlc-wizard/internal/agents/coder"
	"sdlc-wizard/internal/agents/extract"
	"sdlc-wizard/internal/agents/jira"
	"sdlc-wizard/internal/agents/llm"
	"sdlc-wizard/internal/agents/translate"
	"sdlc-wizard/internal/api"
	"sdlc-wizard/internal/api/handler"
	"sdlc-wizard/internal/config"
	"sdlc-wizard/internal/coordinator"
	"sdlc-wizard/internal/core/memory"
	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/core/postgres/repository"
	"sdlc-wizard/internal/executor"
	"sdlc-wizard/internal/infrastructure/fs"
	redisinfra "sdlc-wizard/internal/infrastructure/redis"
	"sdlc-wizard/internal/metrics"
	"sdlc-wizard/internal/notify"
	"sdlc-wizard/internal/service"
	"sdlc-wizard/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	Machine  *coordinator.StateMachine
	Service  service.WorkflowService
	Worker   *worker.Worker
	EventLog *notify.EventLog
	Router   *gin.Engine

	closers []func() error
}

// New builds every component named by cfg. Callers must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	runs, artifacts, err := a.storage()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.EventLog = notify.NewEventLog(cfg.Events.Buffer)
	sinks := notify.Fanout{a.EventLog, notify.NewLogSink(logger)}

	var (
		queue      ports.TaskQueue
		subscriber ports.EventSubscriber
	)
	if cfg.Redis.Enabled {
		client, err := redisinfra.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		queue = redisinfra.NewRedisQueue(client)
		bus := redisinfra.NewRedisEventBus(client, logger)
		sinks = append(sinks, bus)
		subscriber = bus
	} else {
		queue = memory.NewQueue(1024)
	}

	collab, err := Collaborators(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	set := executor.NewSet(collab,
		executor.WithTimeout(cfg.Executor.Timeout),
		executor.WithRetries(cfg.Executor.MaxRetries),
		executor.WithLogger(logger),
	)

	a.Machine = coordinator.New(runs, artifacts, sinks, set,
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(m),
	)
	a.Service = service.NewWorkflowService(a.Machine, artifacts, queue, a.EventLog, subscriber, logger)
	a.Worker = worker.NewWorker(queue, a.Machine, logger, m)

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	a.Router = api.NewRouter(
		handler.NewWorkflowHandler(a.Service),
		promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		logger,
	)
	return a, nil
}

func (a *App) storage() (ports.RunRepository, ports.ArtifactStore, error) {
	var db *gorm.DB
	if a.cfg.UsesPostgres() {
		var err error
		if db, err = repository.Open(a.cfg.Postgres.DSN); err != nil {
			return nil, nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		if err := repository.Migrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}

	var runs ports.RunRepository
	switch a.cfg.Storage.Runs {
	case "postgres":
		runs = repository.NewRunRepository(db)
	default:
		runs = memory.NewRunRepository()
	}

	var artifacts ports.ArtifactStore
	switch a.cfg.Storage.Artifacts {
	case "postgres":
		artifacts = repository.NewArtifactRepository(db)
	case "fs":
		store, err := fs.NewArtifactStore(a.cfg.Storage.FSRoot)
		if err != nil {
			return nil, nil, err
		}
		artifacts = store
	default:
		artifacts = memory.NewArtifactStore()
	}
	return runs, artifacts, nil
}

// Collaborators picks the agent implementations: the LLM when enabled,
// otherwise the pass-through translator with the deterministic analyst and
// coder, and JIRA or its mock.
func Collaborators(cfg *config.Config, logger *slog.Logger) (executor.Collaborators, error) {
	c := executor.Collaborators{
		Extractor:  extract.New(),
		Translator: translate.NewPassThrough(logger),
		Stories:    analyst.NewLineStoryGenerator(),
		Code:       coder.NewTemplateCoder(),
	}
	if cfg.LLM.Enabled {
		client := llm.NewClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: float32(cfg.LLM.Temperature),
		})
		c.Translator = llm.NewTranslator(client)
		c.Stories = llm.NewStoryGenerator(client)
		c.Code = llm.NewCodeGenerator(client)
	}
	if cfg.Jira.Enabled {
		client, err := jira.NewClient(jira.Config{
			URL:       cfg.Jira.URL,
			Username:  cfg.Jira.Username,
			Token:     cfg.Jira.Token,
			Project:   cfg.Jira.Project,
			IssueType: cfg.Jira.IssueType,
		})
		if err != nil {
			return executor.Collaborators{}, err
		}
		c.Tickets = client
	} else {
		c.Tickets = jira.NewMock(cfg.Jira.Project)
	}
	return c, nil
}

// Serve runs the HTTP server and the worker pool until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.Worker.StartPool(ctx, a.cfg.Worker.Concurrency)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
