package httpapi

import (
	"net/http"
	"strconv"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/background"
	"github.com/youlab/tutord/internal/store"
)

// TasksHandler serves background-task management and run history.
type TasksHandler struct {
	registry  *background.Registry
	scheduler *background.Scheduler
	db        *store.DB
}

func (h *TasksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /background/tasks", h.handleList)
	mux.HandleFunc("POST /background/tasks", h.handleRegister)
	mux.HandleFunc("GET /background/tasks/{name}", h.handleGet)
	mux.HandleFunc("DELETE /background/tasks/{name}", h.handleUnregister)
	mux.HandleFunc("POST /background/tasks/{name}/enable", h.handleSetEnabled)
	mux.HandleFunc("POST /background/tasks/{name}/run", h.handleRunNow)
	mux.HandleFunc("GET /background/tasks/{name}/runs", h.handleListRuns)
	mux.HandleFunc("GET /background/runs/{id}", h.handleGetRun)
}

func (h *TasksHandler) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": h.registry.ListAll()})
}

func (h *TasksHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var task background.Task
	if !decodeBody(w, r, &task) {
		return
	}
	if err := h.registry.Register(r.Context(), &task); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidInput, err, "task registration failed"))
		return
	}
	writeJSON(w, http.StatusOK, &task)
}

func (h *TasksHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	task, ok := h.registry.Get(r.PathValue("name"))
	if !ok {
		writeError(w, apperr.New(apperr.CodeTaskNotFound, "unknown task %q", r.PathValue("name")))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TasksHandler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Unregister(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

func (h *TasksHandler) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	found, err := h.registry.SetEnabled(r.Context(), r.PathValue("name"), body.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.CodeTaskNotFound, "unknown task %q", r.PathValue("name")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": body.Enabled})
}

func (h *TasksHandler) handleRunNow(w http.ResponseWriter, r *http.Request) {
	run, err := h.scheduler.RunTaskNow(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *TasksHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.db.ListRuns(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *TasksHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok, err := h.db.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.New(apperr.CodeRunNotFound, "unknown run %q", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, run)
}
