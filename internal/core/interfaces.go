// Package core defines the ports between the zip-verifyer business logic and
// its infrastructure adapters. The core owns the interfaces; the data layer
// provides the implementations.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/infernarium/zip-verifyer/internal/domain/model"
)

// TaskRepository is the durable record store for analysis tasks. The tasks
// table is also the durable work queue: inserting a PENDING row enqueues it,
// and reservation claims it under a lease.
type TaskRepository interface {
	// Insert creates a PENDING task for the given content hash and announces
	// its availability to workers. A primary-key conflict reports a duplicate
	// submission via data.ErrTaskAlreadyExists.
	Insert(ctx context.Context, id string) (*model.Task, error)

	// GetByID returns the task for the given id, or data.ErrTaskNotFound.
	GetByID(ctx context.Context, id string) (*model.Task, error)

	// ReserveNext atomically claims the next runnable task (PENDING, or FAILED
	// with retry budget remaining and backoff elapsed), moves it to IN_PROGRESS
	// under a lease, and returns it. Returns model.ErrNoTasksAvailable when
	// nothing is runnable. Expired leases are requeued before claiming.
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Task, error)

	// RequeueExpired returns IN_PROGRESS tasks with expired leases to PENDING
	// so abandoned claims are eventually reclaimed.
	RequeueExpired(ctx context.Context) (int64, error)

	// Heartbeat extends the lease on a claimed task.
	Heartbeat(ctx context.Context, id string, leaseSeconds int) (bool, error)

	// MarkSuccess persists the report and the SUCCESS status atomically. Only
	// the claim holder's IN_PROGRESS row matches; returns false otherwise.
	MarkSuccess(ctx context.Context, id string, result json.RawMessage) (bool, error)

	// MarkFailed records a failed attempt: status FAILED, incremented retry
	// count, and the backoff-computed time of the next attempt. Returns false
	// when the task is not IN_PROGRESS.
	MarkFailed(ctx context.Context, id, errMsg string, retryAt time.Time) (bool, error)

	// ListIDs returns the ids of all task records.
	ListIDs(ctx context.Context) ([]string, error)

	// PurgeAll wipes every task record and resets identifier-generation state.
	PurgeAll(ctx context.Context) (int64, error)

	// Stats returns task counts per status.
	Stats(ctx context.Context) (*model.TaskStats, error)

	// WaitForNotification blocks until a new task is announced or ctx ends.
	WaitForNotification(ctx context.Context) error
}

// CacheRepository is the fast keyed store holding status snapshots with
// per-key expiry.
type CacheRepository interface {
	// Set stores a value with the given TTL. A TTL of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the cached value, or nil if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Health checks the cache connection.
	Health(ctx context.Context) error
}

// ContentStore is the content-addressed blob store. Objects are keyed by the
// artifact hash and are immutable after a successful put.
type ContentStore interface {
	// Exists reports whether a blob is stored under the given hash.
	Exists(ctx context.Context, id string) (bool, error)

	// Put stores the artifact bytes under the given hash.
	Put(ctx context.Context, id string, data []byte) error

	// Get returns the artifact bytes stored under the given hash.
	Get(ctx context.Context, id string) ([]byte, error)

	// Delete removes the blob for the given hash. Deleting a missing blob is
	// not an error.
	Delete(ctx context.Context, id string) error
}
