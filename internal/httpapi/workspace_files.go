package httpapi

import (
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/workspace"
)

// WorkspaceHandler serves the workspace file API.
type WorkspaceHandler struct {
	manager *workspace.Manager
}

func (h *WorkspaceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /users/{uid}/workspace/files", h.handleIndex)
	mux.HandleFunc("POST /users/{uid}/workspace/refresh", h.handleRefresh)
	mux.HandleFunc("GET /users/{uid}/workspace/files/{path...}", h.handleDownload)
	mux.HandleFunc("PUT /users/{uid}/workspace/files/{path...}", h.handleUpload)
	mux.HandleFunc("DELETE /users/{uid}/workspace/files/{path...}", h.handleDelete)
}

func (h *WorkspaceHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	index, err := h.manager.ListFiles(r.PathValue("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, index)
}

// handleRefresh forces a full rehash of the sync index, picking up
// files edited outside the API.
func (h *WorkspaceHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	index, err := h.manager.RefreshIndex(r.PathValue("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, index)
}

func (h *WorkspaceHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	data, err := h.manager.ReadFile(r.PathValue("uid"), rel)
	if err != nil {
		writeError(w, err)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *WorkspaceHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidInput, err, "read request body"))
		return
	}
	rel := r.PathValue("path")
	if err := h.manager.WriteFile(r.PathValue("uid"), rel, data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": rel, "size": len(data)})
}

func (h *WorkspaceHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteFile(r.PathValue("uid"), r.PathValue("path")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
