package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/infernarium/zip-verifyer/internal/errors"
	"github.com/infernarium/zip-verifyer/internal/service"
)

// maxUploadBytes bounds the request body for artifact uploads.
const maxUploadBytes = 100 << 20 // 100 MiB

// TaskHandlers serves the artifact submission and status endpoints.
type TaskHandlers struct {
	Submissions *service.SubmissionService
	Status      *service.StatusService
	Purge       *service.PurgeService
	Logger      *slog.Logger
}

// Upload accepts a multipart artifact upload and returns the content-derived
// task id. Submitting the same bytes twice yields a conflict.
func (h *TaskHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: string(apperrors.ErrCodeInvalidInput),
			Err:     errors.New("multipart field \"file\" is required"),
		})
		return
	}
	defer func() {
		_ = file.Close()
	}()

	id, err := h.Submissions.Submit(r.Context(), header.Filename, file)
	if err != nil {
		h.logFailure(r, "upload failed", err)
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// Results returns the current status of a task, with the report once the
// analysis succeeded.
func (h *TaskHandlers) Results(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	resp, err := h.Status.GetStatus(r.Context(), id)
	if err != nil {
		h.logFailure(r, "status read failed", err)
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

// ClearDatabase wipes all records, blobs, and cached snapshots.
func (h *TaskHandlers) ClearDatabase(w http.ResponseWriter, r *http.Request) {
	count, err := h.Purge.PurgeAll(r.Context())
	if err != nil {
		h.logFailure(r, "purge failed", err)
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"message": "database cleared",
		"purged":  count,
	})
}

func (h *TaskHandlers) logFailure(r *http.Request, msg string, err error) {
	if h.Logger == nil {
		return
	}
	// Expected client outcomes stay quiet at error level.
	if apperrors.IsDuplicate(err) || apperrors.IsNotFound(err) || apperrors.IsInvalidInput(err) {
		h.Logger.DebugContext(r.Context(), msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
		return
	}
	h.Logger.ErrorContext(r.Context(), msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
}
