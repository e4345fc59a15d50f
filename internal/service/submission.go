package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/infernarium/zip-verifyer/internal/core"
	"github.com/infernarium/zip-verifyer/internal/data"
	"github.com/infernarium/zip-verifyer/internal/domain/model"
	apperrors "github.com/infernarium/zip-verifyer/internal/errors"
)

// SubmissionServiceOptions groups dependencies for SubmissionService.
type SubmissionServiceOptions struct {
	Repo   core.TaskRepository // Required: task record store
	Store  core.ContentStore   // Required: artifact blob store
	Logger *slog.Logger        // Optional: structured logger
}

// SubmissionService implements the artifact submission protocol: hash, dedup,
// store, enqueue.
type SubmissionService struct {
	repo   core.TaskRepository
	store  core.ContentStore
	logger *slog.Logger
}

// NewSubmissionService constructs a new SubmissionService.
func NewSubmissionService(opts SubmissionServiceOptions) (*SubmissionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ContentStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "submission_service")
	}

	return &SubmissionService{
		repo:   opts.Repo,
		store:  opts.Store,
		logger: logger,
	}, nil
}

// Submit accepts an artifact, derives its content hash, stores the blob, and
// creates the PENDING task record. The returned id is the SHA-256 hex digest
// of the content: identical bytes always map to the same id regardless of
// filename.
//
// Ordering matters: the blob is stored before the record so a visible task
// always has its content available. If record creation fails the blob is
// deleted to avoid orphans.
func (s *SubmissionService) Submit(ctx context.Context, filename string, r io.Reader) (string, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return "", apperrors.InvalidInputf("only .zip files are allowed, got %q", filename)
	}

	var buf bytes.Buffer
	id, err := model.HashArtifact(io.TeeReader(r, &buf))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "read artifact")
	}

	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorageFailure, "check artifact existence")
	}
	if exists {
		return "", apperrors.Duplicate(fmt.Sprintf("artifact %s already submitted", id))
	}

	if putErr := s.store.Put(ctx, id, buf.Bytes()); putErr != nil {
		return "", apperrors.Wrap(putErr, apperrors.ErrCodeStorageFailure, "store artifact")
	}

	if _, insertErr := s.repo.Insert(ctx, id); insertErr != nil {
		s.compensateBlob(ctx, id)
		if errors.Is(insertErr, data.ErrTaskAlreadyExists) {
			return "", apperrors.Duplicate(fmt.Sprintf("artifact %s already submitted", id))
		}
		return "", apperrors.Wrap(insertErr, apperrors.ErrCodeRecordFailure, "create task record")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "artifact submitted", "id", id, "size_bytes", buf.Len())
	}
	return id, nil
}

// compensateBlob removes a stored blob after a failed record insert. Failure
// to compensate is logged but not surfaced; the insert error is the one the
// caller needs.
func (s *SubmissionService) compensateBlob(ctx context.Context, id string) {
	if err := s.store.Delete(ctx, id); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to delete blob after insert failure", "id", id, "error", err)
	}
}
