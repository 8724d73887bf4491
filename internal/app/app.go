// Package app wires the kernel process together: Postgres store, Redis
// queues, job/task registries, the worker pool, the janitor, and the HTTP
// control plane. Adapted from the teacher's internal/app.App (same
// New/Start/Run/Close lifecycle shape), rewired end to end for the
// orchestration kernel instead of the teacher's course/chat/auth services.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	redisqueue "github.com/yungbote/neurobridge-backend/internal/clients/redis"
	"github.com/yungbote/neurobridge-backend/internal/data/db"
	jobstore "github.com/yungbote/neurobridge-backend/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-backend/internal/http/handlers"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/examples/greeting"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/janitor"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/kernel"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/readapi"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/retry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/worker"
	"github.com/yungbote/neurobridge-backend/internal/observability"
	"github.com/yungbote/neurobridge-backend/internal/platform/envutil"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	Router http.Handler

	deps    kernel.Deps
	pool    *worker.Pool
	janitor *janitor.Janitor
	cancel  context.CancelFunc

	jobQueue  queue.Queue
	taskQueue queue.Queue
}

func New() (*App, error) {
	log, err := logger.New(envLogMode())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg := LoadConfig()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	st := jobstore.NewStore(pg.DB(), log)

	ctx := context.Background()
	jobQueue, err := redisqueue.NewStreamQueue(ctx, cfg.RedisAddr, cfg.JobStreamName, cfg.JobGroupName, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job queue: %w", err)
	}
	taskQueue, err := redisqueue.NewStreamQueue(ctx, cfg.RedisAddr, cfg.TaskStreamName, cfg.TaskGroupName, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task queue: %w", err)
	}

	jobRegistry := registry.NewJobRegistry()
	taskRegistry := registry.NewTaskRegistry()
	if err := greeting.Register(jobRegistry, taskRegistry); err != nil {
		return nil, fmt.Errorf("failed to register greeting job type: %w", err)
	}

	deps := kernel.Deps{
		Store:     st,
		JobQueue:  jobQueue,
		TaskQueue: taskQueue,
		Jobs:      jobRegistry,
		Tasks:     taskRegistry,
		Log:       log,
		Retry:     retry.DefaultPolicy,
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	read := readapi.New(st)
	jobHandler := handlers.NewJobHandler(deps, read)
	router := wireRouter(log, metrics, jobHandler)

	return &App{
		Log:       log,
		Cfg:       cfg,
		Router:    router,
		deps:      deps,
		pool:      worker.NewPool(deps, log, cfg.ConsumerPrefix),
		janitor:   janitor.New(deps, log, cfg.JanitorInterval, cfg.JanitorStaleAfter),
		jobQueue:  jobQueue,
		taskQueue: taskQueue,
	}, nil
}

// Start launches the worker pool and janitor as background goroutines when
// runWorker is true. It returns immediately; call Close to stop them.
func (a *App) Start(runWorker bool) {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if runWorker {
		a.pool.Start(ctx)
		go a.janitor.Run(ctx)
	}
}

// Run blocks serving HTTP on addr until the server stops.
func (a *App) Run(addr string) error {
	return http.ListenAndServe(addr, a.Router)
}

func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.pool != nil {
		a.pool.Wait()
	}
	_ = a.jobQueue.Close()
	_ = a.taskQueue.Close()
	a.Log.Sync()
}

func envLogMode() string {
	switch envutil.String("ENV", "dev") {
	case "production", "prod":
		return "prod"
	default:
		return "dev"
	}
}
