// Package worker pulls analysis tasks off the queue and runs the provider
// pipeline against the stored artifact.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/infernarium/zip-verifyer/internal/analyzer"
	"github.com/infernarium/zip-verifyer/internal/core"
	"github.com/infernarium/zip-verifyer/internal/data"
	"github.com/infernarium/zip-verifyer/internal/domain/model"
	"github.com/infernarium/zip-verifyer/internal/service"
)

// ProviderSpec pairs a provider with its enforced timeout. A provider that
// overruns its timeout fails the whole attempt.
type ProviderSpec struct {
	Provider analyzer.Provider
	Timeout  time.Duration
}

// RunnerOptions configures the worker runner adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	Store     core.ContentStore // Required: artifact blob store
	Providers []ProviderSpec    // Required: analysis providers to run per task

	// Task processing settings
	Lease       time.Duration // per-task lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1
	BackoffBase time.Duration // base for exponential retry backoff; defaults to 1s

	// Optional dependency injections (useful for tests/decoupling)
	Tasks     *service.TaskService
	TasksRepo core.TaskRepository
	Cache     core.CacheRepository
}

// Runner pulls tasks and executes the analysis pipeline.
type Runner struct {
	tasks       *service.TaskService
	store       core.ContentStore
	providers   []ProviderSpec
	logger      *slog.Logger
	lease       time.Duration
	backoffBase time.Duration
	workers     int
}

// NewRunner wires repositories/services and constructs a worker runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("ContentStore is required")
	}
	if len(opts.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	for _, spec := range opts.Providers {
		if spec.Provider == nil {
			return nil, errors.New("nil provider in provider specs")
		}
		if spec.Timeout <= 0 {
			return nil, fmt.Errorf("provider %s requires a positive timeout", spec.Provider.Name())
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}

	tasks := opts.Tasks
	if tasks == nil {
		repo := opts.TasksRepo
		if repo == nil {
			if opts.DB == nil {
				return nil, errors.New("either DB, TasksRepo, or Tasks must be provided")
			}
			repo = data.NewTaskRepo(opts.DB, data.TaskRepoConfig{Logger: opts.Logger})
		}
		if opts.Cache == nil {
			return nil, errors.New("Cache is required when Tasks is not provided")
		}
		var err error
		tasks, err = service.NewTaskService(service.TaskServiceOptions{
			Repo:         repo,
			Cache:        opts.Cache,
			DefaultLease: lease,
			Logger:       opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create task service: %w", err)
		}
	}

	return &Runner{
		tasks:       tasks,
		store:       opts.Store,
		providers:   opts.Providers,
		logger:      logger.With("component", "worker"),
		lease:       lease,
		backoffBase: backoffBase,
		workers:     workers,
	}, nil
}

// Run starts worker goroutines and processes tasks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner", "workers", r.workers, "lease", r.lease)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.tasks.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		task, err := r.tasks.ReserveNext(ctx, r.lease)
		switch {
		case err == nil:
			if task != nil {
				r.processTask(ctx, task)
			}
		case errors.Is(err, model.ErrNoTasksAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

// processTask runs one analysis attempt. Any provider failure, timeout, or
// fetch problem fails the attempt as a whole; partial results are never
// persisted.
func (r *Runner) processTask(ctx context.Context, task *model.Task) {
	stopHeartbeat := r.startHeartbeat(ctx, task.ID)
	defer stopHeartbeat()

	report, err := r.analyze(ctx, task)
	if err != nil {
		r.failAttempt(ctx, task, err)
		return
	}

	completed, err := r.tasks.Complete(ctx, task.ID, report)
	if err != nil {
		r.logger.ErrorContext(ctx, "complete task error", "task_id", task.ID, "error", err)
		return
	}
	if !completed {
		// Claim lost or record purged mid-flight. Nothing to do.
		r.logger.WarnContext(ctx, "task no longer claimable, dropping result", "task_id", task.ID)
	}
}

func (r *Runner) analyze(ctx context.Context, task *model.Task) (*model.Report, error) {
	content, err := r.store.Get(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", task.ID, err)
	}

	fragments := make([]analyzer.Fragment, len(r.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range r.providers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, spec.Timeout)
			defer cancel()

			fragment, analyzeErr := spec.Provider.Analyze(pctx, content)
			if analyzeErr != nil {
				return fmt.Errorf("provider %s: %w", spec.Provider.Name(), analyzeErr)
			}
			fragments[i] = fragment
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report, err := analyzer.MergeFragments(fragments...)
	if err != nil {
		return nil, fmt.Errorf("merge fragments: %w", err)
	}
	return report, nil
}

// failAttempt records the failure with the next attempt's due time. The delay
// doubles per attempt: base, 2·base, 4·base.
func (r *Runner) failAttempt(ctx context.Context, task *model.Task, cause error) {
	retryAt := time.Now().Add(r.backoffDelay(task.RetryCount))

	failed, err := r.tasks.Fail(ctx, task.ID, cause.Error(), retryAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "fail task error", "task_id", task.ID, "error", err, "original_error", cause)
		return
	}
	if !failed {
		r.logger.WarnContext(ctx, "task no longer claimable, dropping failure", "task_id", task.ID, "original_error", cause)
	}
}

func (r *Runner) backoffDelay(attempt int) time.Duration {
	delay := r.backoffBase
	for range attempt {
		delay *= 2
	}
	return delay
}

// startHeartbeat keeps the lease alive while the providers run. Returns a stop
// function the caller must invoke when processing ends.
func (r *Runner) startHeartbeat(ctx context.Context, id string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	interval := r.lease / 2
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if _, err := r.tasks.Heartbeat(hbCtx, id, r.lease); err != nil {
					r.logger.WarnContext(hbCtx, "heartbeat failed", "task_id", id, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
