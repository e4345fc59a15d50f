package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/infernarium/zip-verifyer/config"
	"github.com/infernarium/zip-verifyer/internal/adapters/reaper"
	"github.com/infernarium/zip-verifyer/internal/adapters/worker"
	"github.com/infernarium/zip-verifyer/internal/analyzer"
	"github.com/infernarium/zip-verifyer/internal/core"
	"github.com/infernarium/zip-verifyer/internal/data"
	httpx "github.com/infernarium/zip-verifyer/internal/http"
	"github.com/infernarium/zip-verifyer/internal/service"
)

// shutdownWaitTimeout is the maximum time to wait for graceful shutdown.
const shutdownWaitTimeout = 15 * time.Second

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Store       core.ContentStore
	Logger      *slog.Logger
}

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Tasks       *service.TaskService
	Submissions *service.SubmissionService
	Status      *service.StatusService
	Purge       *service.PurgeService
	Cache       *data.RedisCacheRepo
	TaskRepo    *data.TaskRepo
}

// BuildServices constructs the repositories and services from shared connections.
func BuildServices(deps ServiceDeps) (ServiceContainer, error) {
	if deps.Config == nil {
		return ServiceContainer{}, errors.New("config is required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database connection is required")
	}
	if deps.RedisClient == nil {
		return ServiceContainer{}, errors.New("redis client is required")
	}
	if deps.Store == nil {
		return ServiceContainer{}, errors.New("content store is required")
	}

	taskRepo := data.NewTaskRepo(deps.DB, data.TaskRepoConfig{
		MaxRetries: deps.Config.Worker.MaxRetries,
		Logger:     deps.Logger,
	})
	cacheRepo := data.NewRedisCacheRepo(deps.RedisClient)

	tasks, err := service.NewTaskService(service.TaskServiceOptions{
		Repo:         taskRepo,
		Cache:        cacheRepo,
		DefaultLease: deps.Config.Worker.TaskLease,
		SnapshotTTL:  deps.Config.Cache.SnapshotTTL,
		Logger:       deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create task service: %w", err)
	}

	submissions, err := service.NewSubmissionService(service.SubmissionServiceOptions{
		Repo:   taskRepo,
		Store:  deps.Store,
		Logger: deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create submission service: %w", err)
	}

	status, err := service.NewStatusService(service.StatusServiceOptions{
		Repo:        taskRepo,
		Cache:       cacheRepo,
		SnapshotTTL: deps.Config.Cache.SnapshotTTL,
		Logger:      deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create status service: %w", err)
	}

	purge, err := service.NewPurgeService(service.PurgeServiceOptions{
		Repo:   taskRepo,
		Store:  deps.Store,
		Cache:  cacheRepo,
		Logger: deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create purge service: %w", err)
	}

	return ServiceContainer{
		Tasks:       tasks,
		Submissions: submissions,
		Status:      status,
		Purge:       purge,
		Cache:       cacheRepo,
		TaskRepo:    taskRepo,
	}, nil
}

// buildProviderSpecs assembles the default provider set with configured timeouts.
func buildProviderSpecs(cfg config.WorkerConfig) []worker.ProviderSpec {
	rng := analyzer.NewRand()
	return []worker.ProviderSpec{
		{Provider: analyzer.NewCoverageProvider(analyzer.DefaultCoverageProfile(), rng), Timeout: cfg.CoverageTimeout},
		{Provider: analyzer.NewVulnerabilityProvider(analyzer.DefaultVulnerabilityProfile(), rng), Timeout: cfg.VulnerabilityTimeout},
		{Provider: analyzer.NewSmellsProvider(analyzer.DefaultSmellsProfile(), rng), Timeout: cfg.SmellsTimeout},
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Store    core.ContentStore
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the enabled services and blocks until a
// termination signal arrives or a background service fails.
func RunServicesWithShutdown(ctx context.Context, cfg ServiceOrchestrationConfig) error {
	if cfg.Config == nil {
		return errors.New("config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("parse enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(enabled))
	var dones []<-chan struct{}

	if enabled[config.ServiceModeWorker] {
		runner, workerErr := worker.NewRunner(worker.RunnerOptions{
			Logger:      logger,
			Store:       cfg.Store,
			Providers:   buildProviderSpecs(cfg.Config.Worker),
			Lease:       cfg.Config.Worker.TaskLease,
			Concurrency: cfg.Config.Worker.Concurrency,
			BackoffBase: cfg.Config.Worker.BackoffBase,
			Tasks:       cfg.Services.Tasks,
		})
		if workerErr != nil {
			return fmt.Errorf("create worker runner: %w", workerErr)
		}
		dones = append(dones, launchBackground(runCtx, errCh, logger, "worker", runner.Run))
	}

	if enabled[config.ServiceModeReaper] {
		runner, reaperErr := reaper.NewRunner(reaper.RunnerOptions{
			DB:       cfg.DB,
			Interval: cfg.Config.Reaper.Interval,
			Logger:   logger,
			Repo:     cfg.Services.TaskRepo,
		})
		if reaperErr != nil {
			return fmt.Errorf("create reaper runner: %w", reaperErr)
		}
		dones = append(dones, launchBackground(runCtx, errCh, logger, "reaper", runner.Run))
	}

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = startHTTPServer(cfg, errCh, logger)
	}

	// Block until shutdown signal or first background failure.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("service failed, shutting down", "error", runErr)
	}

	cancel()
	cfg.Services.Tasks.StopAllListeners()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer shutdownCancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("http server shutdown", "error", shutdownErr)
		}
	}

	waitForDones(dones, logger)
	return runErr
}

func startHTTPServer(cfg ServiceOrchestrationConfig, errCh chan<- error, logger *slog.Logger) *http.Server {
	handler := httpx.NewRouter(httpx.RouterServices{
		Submissions: cfg.Services.Submissions,
		Status:      cfg.Services.Status,
		Purge:       cfg.Services.Purge,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              cfg.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("http server failed: %w", err):
			default:
			}
		}
	}()

	return server
}

func launchBackground(
	ctx context.Context,
	errCh chan<- error,
	logger *slog.Logger,
	name string,
	start func(context.Context) error,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errCh <- fmt.Errorf("%s failed: %w", name, err):
			default:
				logger.Warn("dropping background service error", "service", name, "error", err)
			}
		}
	}()
	logger.Info("background service started", "service", name)
	return done
}

func waitForDones(dones []<-chan struct{}, logger *slog.Logger) {
	deadline := time.After(shutdownWaitTimeout)
	for _, done := range dones {
		select {
		case <-done:
		case <-deadline:
			logger.Warn("timed out waiting for background services to stop")
			return
		}
	}
}
