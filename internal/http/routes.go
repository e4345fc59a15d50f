package httpx

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/infernarium/zip-verifyer/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Submissions *service.SubmissionService
	Status      *service.StatusService
	Purge       *service.PurgeService
	Logger      *slog.Logger // Optional: request logging and handler diagnostics
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	handlers := &TaskHandlers{
		Submissions: services.Submissions,
		Status:      services.Status,
		Purge:       services.Purge,
		Logger:      services.Logger,
	}

	mux.Handle("POST /upload", http.HandlerFunc(handlers.Upload))
	mux.Handle("GET /results/{id}", http.HandlerFunc(handlers.Results))
	mux.Handle("DELETE /clear-database", http.HandlerFunc(handlers.ClearDatabase))
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = RequestID()(handler)
	handler = Recover(logger)(handler)
	return handler
}

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}
