// Package httpapi exposes the REST and SSE surface: memory blocks and
// their proposal lifecycle, workspace files, background tasks, and the
// streaming chat endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/youlab/tutord/internal/agent"
	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/background"
	"github.com/youlab/tutord/internal/blockstore"
	"github.com/youlab/tutord/internal/diffs"
	"github.com/youlab/tutord/internal/store"
	"github.com/youlab/tutord/internal/workspace"
)

// Server composes the endpoint handlers.
type Server struct {
	blocks    *BlocksHandler
	chat      *ChatHandler
	tasks     *TasksHandler
	workspace *WorkspaceHandler
}

// ServerConfig wires the Server's collaborators.
type ServerConfig struct {
	Blocks    *blockstore.Store
	Diffs     *diffs.Store
	Workspace *workspace.Manager
	DB        *store.DB
	Registry  *background.Registry
	Scheduler *background.Scheduler
	Runner    *agent.Runner
}

// NewServer creates the Server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		blocks:    &BlocksHandler{blocks: cfg.Blocks, diffs: cfg.Diffs},
		chat:      &ChatHandler{runner: cfg.Runner},
		tasks:     &TasksHandler{registry: cfg.Registry, scheduler: cfg.Scheduler, db: cfg.DB},
		workspace: &WorkspaceHandler{manager: cfg.Workspace},
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	s.blocks.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.tasks.RegisterRoutes(mux)
	s.workspace.RegisterRoutes(mux)
	return logRequests(mux)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tutord"})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// statusFor maps error discriminants to HTTP statuses.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeUserNotFound, apperr.CodeBlockNotFound,
		apperr.CodeVersionNotFound, apperr.CodeDiffNotFound,
		apperr.CodeFileNotFound, apperr.CodeTaskNotFound, apperr.CodeRunNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidPath, apperr.CodeFileTooLarge,
		apperr.CodeInvalidInput, apperr.CodeDuplicateEdit:
		return http.StatusBadRequest
	case apperr.CodeProposalConflict, apperr.CodeProposalStale:
		return http.StatusConflict
	case apperr.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	detail := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) {
		detail = ae.Detail
	}
	writeJSON(w, statusFor(code), map[string]string{
		"code":  string(code),
		"error": detail,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidInput, err, "invalid request body"))
		return false
	}
	return true
}
