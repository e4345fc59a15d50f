package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/infernarium/zip-verifyer/internal/core"
	apperrors "github.com/infernarium/zip-verifyer/internal/errors"
)

// PurgeServiceOptions groups dependencies for PurgeService.
type PurgeServiceOptions struct {
	Repo   core.TaskRepository  // Required: task record store
	Store  core.ContentStore    // Required: artifact blob store
	Cache  core.CacheRepository // Optional: snapshot cache, invalidated when present
	Logger *slog.Logger         // Optional: structured logger
}

// PurgeService wipes all system state: blobs, cache snapshots, and records.
type PurgeService struct {
	repo   core.TaskRepository
	store  core.ContentStore
	cache  core.CacheRepository
	logger *slog.Logger
}

// NewPurgeService constructs a new PurgeService.
func NewPurgeService(opts PurgeServiceOptions) (*PurgeService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ContentStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "purge_service")
	}

	return &PurgeService{
		repo:   opts.Repo,
		store:  opts.Store,
		cache:  opts.Cache,
		logger: logger,
	}, nil
}

// PurgeAll deletes every artifact blob and cache snapshot best-effort, then
// wipes all task records. Blob or cache delete failures are logged and do not
// stop the purge; the record wipe is the operation's success criterion.
// Purging an empty system succeeds and reports zero.
func (p *PurgeService) PurgeAll(ctx context.Context) (int64, error) {
	ids, err := p.repo.ListIDs(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeRecordFailure, "list task ids for purge")
	}

	for _, id := range ids {
		if delErr := p.store.Delete(ctx, id); delErr != nil && p.logger != nil {
			p.logger.WarnContext(ctx, "failed to delete blob during purge", "id", id, "error", delErr)
		}
		if p.cache != nil {
			if _, cacheErr := p.cache.Delete(ctx, id); cacheErr != nil && p.logger != nil {
				p.logger.WarnContext(ctx, "failed to delete snapshot during purge", "id", id, "error", cacheErr)
			}
		}
	}

	count, err := p.repo.PurgeAll(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeRecordFailure, "purge task records")
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, "purged all records", "count", count)
	}
	return count, nil
}
