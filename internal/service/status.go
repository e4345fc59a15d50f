package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/infernarium/zip-verifyer/internal/core"
	"github.com/infernarium/zip-verifyer/internal/data"
	"github.com/infernarium/zip-verifyer/internal/domain/model"
	apperrors "github.com/infernarium/zip-verifyer/internal/errors"
)

// DefaultSnapshotTTL is how long a status snapshot lives in the cache.
const DefaultSnapshotTTL = 300 * time.Second

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Repo        core.TaskRepository  // Required: task record store
	Cache       core.CacheRepository // Required: snapshot cache
	SnapshotTTL time.Duration        // Optional: snapshot TTL, defaults to DefaultSnapshotTTL
	Logger      *slog.Logger         // Optional: structured logger
}

// StatusService serves task status reads cache-first. A cache miss falls
// through to the record store and repopulates the snapshot.
type StatusService struct {
	repo        core.TaskRepository
	cache       core.CacheRepository
	snapshotTTL time.Duration
	logger      *slog.Logger
}

// NewStatusService constructs a new StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("CacheRepository is required")
	}

	ttl := opts.SnapshotTTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "status_service")
	}

	return &StatusService{
		repo:        opts.Repo,
		cache:       opts.Cache,
		snapshotTTL: ttl,
		logger:      logger,
	}, nil
}

// GetStatus returns the observable state of a task. The cache is consulted
// first; a malformed snapshot is a contract violation and surfaces as a
// CacheFault rather than being silently bypassed.
func (s *StatusService) GetStatus(ctx context.Context, id string) (*model.TaskStatusResponse, error) {
	if !model.ValidTaskID(id) {
		return nil, apperrors.InvalidInputf("malformed task id %q", id)
	}

	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		// Cache unavailability degrades to a record store read.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "cache read failed, falling back to record store", "id", id, "error", err)
		}
	} else if cached != nil {
		snapshot, decodeErr := model.DecodeStatusSnapshot(cached)
		if decodeErr != nil {
			return nil, apperrors.Wrapf(decodeErr, apperrors.ErrCodeCacheFault, "corrupt cache snapshot for task %s", id)
		}
		return &model.TaskStatusResponse{
			ID:     id,
			Status: snapshot.Status,
			Result: snapshot.Result,
		}, nil
	}

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrTaskNotFound) {
			return nil, apperrors.NotFoundf("task %s not found", id)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeRecordFailure, "read task %s", id)
	}

	resp := &model.TaskStatusResponse{ID: id, Status: task.Status}
	if task.Status == model.TaskStatusSuccess {
		report, reportErr := model.UnmarshalReport(task.Result)
		if reportErr != nil {
			return nil, apperrors.Wrapf(reportErr, apperrors.ErrCodeRecordFailure, "decode stored report for task %s", id)
		}
		resp.Result = report
	}

	s.repopulate(ctx, id, resp)
	return resp, nil
}

// repopulate refreshes the snapshot after a cache miss. Cache write failures
// are logged, not surfaced: the authoritative answer was already read.
func (s *StatusService) repopulate(ctx context.Context, id string, resp *model.TaskStatusResponse) {
	raw, err := model.NewStatusSnapshot(resp.Status, resp.Result).Encode()
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to encode snapshot", "id", id, "error", err)
		}
		return
	}
	if setErr := s.cache.Set(ctx, id, raw, s.snapshotTTL); setErr != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to repopulate snapshot", "id", id, "error", setErr)
	}
}
