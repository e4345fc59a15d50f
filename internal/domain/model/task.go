// Package model defines the core data types for the zip-verifyer task system.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// TaskStatus represents the current status of an analysis task.
type TaskStatus string

const (
	// TaskStatusPending indicates a task is waiting to be processed.
	TaskStatusPending TaskStatus = "PENDING"
	// TaskStatusInProgress indicates a worker holds the task's processing claim.
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	// TaskStatusSuccess indicates analysis finished and a report was persisted.
	TaskStatusSuccess TaskStatus = "SUCCESS"
	// TaskStatusFailed indicates the last attempt failed. The task is terminal
	// only once its retry budget is exhausted.
	TaskStatusFailed TaskStatus = "FAILED"
)

// Valid returns true if the TaskStatus is one of the known states.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress ||
		s == TaskStatusSuccess || s == TaskStatusFailed
}

// ErrNoTasksAvailable is returned when no tasks are available for reservation.
var ErrNoTasksAvailable = errors.New("no tasks available")

// TaskIDLength is the length of a task id: a hex-encoded SHA-256 digest.
const TaskIDLength = sha256.Size * 2

// hashChunkSize bounds per-read memory while hashing arbitrarily large artifacts.
const hashChunkSize = 4096

// Task is the durable record for one submitted artifact. The id is the SHA-256
// content hash of the artifact bytes and doubles as the dedup key, the queue
// token, the cache key, and the content store object key.
type Task struct {
	ID             string          `json:"id"                         db:"id"`
	Status         TaskStatus      `json:"status"                     db:"status"`
	Result         json.RawMessage `json:"result,omitempty"           db:"result"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// Terminal reports whether the task is at rest in a terminal state: SUCCESS, or
// FAILED with the retry budget exhausted.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskStatusSuccess:
		return true
	case TaskStatusFailed:
		return t.RetryCount >= t.MaxRetries
	default:
		return false
	}
}

// ValidTaskID reports whether id looks like a hex-encoded SHA-256 digest.
func ValidTaskID(id string) bool {
	if len(id) != TaskIDLength {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// HashArtifact computes the content hash used as task id, streaming the reader
// in fixed-size chunks so memory use is bounded regardless of artifact size.
// The hash depends only on the artifact bytes, never on any metadata.
func HashArtifact(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("hash artifact: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read artifact: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TaskStatusResponse is the client-facing view of a task: its status, plus
// the report when analysis succeeded. Result is non-nil iff Status is SUCCESS.
type TaskStatusResponse struct {
	ID     string     `json:"task_id"`
	Status TaskStatus `json:"status"`
	Result *Report    `json:"results,omitempty"`
}

// TaskStats holds counts of tasks per status.
type TaskStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
}
