// Package reaper provides the lease reclamation loop. Tasks claimed by a
// worker that crashed stay IN_PROGRESS until their lease expires; the reaper
// returns them to PENDING so another worker can pick them up.
package reaper

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/infernarium/zip-verifyer/internal/core"
	"github.com/infernarium/zip-verifyer/internal/data"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Interval time.Duration // defaults to 30s
	Logger   *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo core.TaskRepository
}

// Runner periodically reclaims expired leases.
type Runner struct {
	repo     core.TaskRepository
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	repo := opts.Repo
	if repo == nil {
		if opts.DB == nil {
			return nil, errors.New("either DB or Repo must be provided")
		}
		repo = data.NewTaskRepo(opts.DB, data.TaskRepoConfig{Logger: opts.Logger})
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		repo:     repo,
		interval: interval,
		logger:   logger.With("component", "reaper"),
	}, nil
}

// Run starts the reclaim loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner", "interval", r.interval)

	// Jitter prevents a thundering herd when multiple instances start together.
	r.waitWithJitter(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.reclaim(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.reclaim(ctx)
		}
	}
}

func (r *Runner) reclaim(ctx context.Context) {
	count, err := r.repo.RequeueExpired(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		r.logger.ErrorContext(ctx, "reclaim expired leases failed", "error", err)
		return
	}
	if count > 0 {
		r.logger.InfoContext(ctx, "reclaimed expired leases", "count", count)
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (r *Runner) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		r.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
