package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/infernarium/zip-verifyer/internal/core"
	"github.com/infernarium/zip-verifyer/internal/domain/model"
	domaintask "github.com/infernarium/zip-verifyer/internal/domain/task"
)

// TaskServiceOptions groups dependencies for TaskService.
type TaskServiceOptions struct {
	Repo            core.TaskRepository        // Required: task record store
	Cache           core.CacheRepository       // Required: snapshot cache
	DefaultLease    time.Duration              // Required: default lease duration for claims
	SnapshotTTL     time.Duration              // Optional: snapshot TTL, defaults to DefaultSnapshotTTL
	Logger          *slog.Logger               // Optional: structured logger
	Notifier        domaintask.Notifier        // Optional: custom task availability notifier
	NotifierOptions domaintask.NotifierOptions // Optional: configure default notifier behaviour
}

// TaskService provides the task lifecycle operations workers drive: claiming,
// lease upkeep, and recording outcomes. Every observable transition pushes a
// fresh status snapshot so the cache tracks the record store.
type TaskService struct {
	repo         core.TaskRepository
	cache        core.CacheRepository
	defaultLease time.Duration
	snapshotTTL  time.Duration
	notifier     domaintask.Notifier
	logger       *slog.Logger
}

// NewTaskService constructs a new TaskService.
func NewTaskService(opts TaskServiceOptions) (*TaskService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("CacheRepository is required")
	}
	if opts.DefaultLease <= 0 {
		return nil, errors.New("DefaultLease must be positive")
	}

	snapshotTTL := opts.SnapshotTTL
	if snapshotTTL <= 0 {
		snapshotTTL = DefaultSnapshotTTL
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domaintask.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create task notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "task_service")
	}

	return &TaskService{
		repo:         opts.Repo,
		cache:        opts.Cache,
		defaultLease: opts.DefaultLease,
		snapshotTTL:  snapshotTTL,
		notifier:     notifier,
		logger:       logger,
	}, nil
}

// ReserveNext claims the next runnable task and publishes its IN_PROGRESS
// snapshot. Returns model.ErrNoTasksAvailable when the queue is drained.
func (s *TaskService) ReserveNext(ctx context.Context, lease time.Duration) (*model.Task, error) {
	task, err := s.repo.ReserveNext(ctx, s.leaseSeconds(lease))
	if err != nil {
		if errors.Is(err, model.ErrNoTasksAvailable) {
			return nil, model.ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("reserve next task: %w", err)
	}

	s.pushSnapshot(ctx, task.ID, model.TaskStatusInProgress, nil)

	if s.logger != nil {
		s.logger.DebugContext(ctx, "task reserved", "id", task.ID, "retry_count", task.RetryCount)
	}
	return task, nil
}

// Heartbeat extends the lease on a claimed task.
func (s *TaskService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	updated, err := s.repo.Heartbeat(ctx, id, s.leaseSeconds(extend))
	if err != nil {
		return false, fmt.Errorf("heartbeat task %s: %w", id, err)
	}
	return updated, nil
}

// Complete records a successful analysis: the report is persisted atomically
// with the SUCCESS transition, then the snapshot is published. Returns false
// when the task was not IN_PROGRESS, which means the claim was lost.
func (s *TaskService) Complete(ctx context.Context, id string, report *model.Report) (bool, error) {
	raw, err := model.MarshalReport(report)
	if err != nil {
		return false, fmt.Errorf("marshal report for task %s: %w", id, err)
	}

	completed, err := s.repo.MarkSuccess(ctx, id, raw)
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}
	if !completed {
		return false, nil
	}

	s.pushSnapshot(ctx, id, model.TaskStatusSuccess, report)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "task completed", "id", id)
	}
	return true, nil
}

// Fail records a failed attempt. retryAt schedules the next attempt; it is
// ignored by the record store once the retry budget is exhausted.
func (s *TaskService) Fail(ctx context.Context, id, errMsg string, retryAt time.Time) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	failed, err := s.repo.MarkFailed(ctx, id, errMsg, retryAt)
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}
	if !failed {
		return false, nil
	}

	s.pushSnapshot(ctx, id, model.TaskStatusFailed, nil)

	if s.logger != nil {
		s.logger.WarnContext(ctx, "task attempt failed", "id", id, "error", errMsg)
	}
	return true, nil
}

// GetByID returns a task by its content hash.
func (s *TaskService) GetByID(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// Stats returns task counts per status.
func (s *TaskService) Stats(ctx context.Context) (*model.TaskStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get task stats: %w", err)
	}
	return stats, nil
}

// Subscribe registers for task availability notifications. Returns an
// unsubscribe function and the notification channel.
func (s *TaskService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// StopAllListeners stops all notification listeners. Called during shutdown.
func (s *TaskService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all task listeners")
	}
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// leaseSeconds resolves a lease duration to whole seconds, falling back to
// the default and clamping sub-second values to one second.
func (s *TaskService) leaseSeconds(lease time.Duration) int {
	if lease <= 0 {
		lease = s.defaultLease
	}
	seconds := int(lease / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// pushSnapshot publishes the task's observable state to the cache. A cache
// write failure never fails the transition that triggered it.
func (s *TaskService) pushSnapshot(ctx context.Context, id string, status model.TaskStatus, result *model.Report) {
	raw, err := model.NewStatusSnapshot(status, result).Encode()
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to encode snapshot", "id", id, "status", status, "error", err)
		}
		return
	}
	if setErr := s.cache.Set(ctx, id, raw, s.snapshotTTL); setErr != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to push snapshot", "id", id, "status", status, "error", setErr)
	}
}
