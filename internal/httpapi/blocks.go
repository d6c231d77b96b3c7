package httpapi

import (
	"net/http"
	"strconv"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/blockstore"
	"github.com/youlab/tutord/internal/diffs"
)

// BlocksHandler serves memory blocks, their version history, and the
// proposal lifecycle.
type BlocksHandler struct {
	blocks *blockstore.Store
	diffs  *diffs.Store
}

func (h *BlocksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /users/{uid}/blocks", h.handleList)
	mux.HandleFunc("GET /users/{uid}/blocks/{label}", h.handleRead)
	mux.HandleFunc("PUT /users/{uid}/blocks/{label}", h.handleWrite)
	mux.HandleFunc("DELETE /users/{uid}/blocks/{label}", h.handleDelete)
	mux.HandleFunc("GET /users/{uid}/blocks/{label}/history", h.handleHistory)
	mux.HandleFunc("GET /users/{uid}/blocks/{label}/versions/{sha}", h.handleReadVersion)
	mux.HandleFunc("POST /users/{uid}/blocks/{label}/restore", h.handleRestore)
	mux.HandleFunc("GET /users/{uid}/blocks/{label}/diffs", h.handleListDiffs)
	mux.HandleFunc("GET /users/{uid}/blocks/{label}/diffs/{id}", h.handleGetDiff)
	mux.HandleFunc("POST /users/{uid}/blocks/{label}/propose", h.handlePropose)
	mux.HandleFunc("POST /users/{uid}/blocks/{label}/diffs/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /users/{uid}/blocks/{label}/diffs/{id}/reject", h.handleReject)
	mux.HandleFunc("GET /users/{uid}/proposals", h.handleListProposals)
}

type blockSummary struct {
	Label        string `json:"label"`
	Title        string `json:"title"`
	PendingDiffs int    `json:"pending_diffs"`
}

func (h *BlocksHandler) handleList(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	labels, err := h.blocks.ListBlocks(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := h.diffs.CountPending(uid)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]blockSummary, 0, len(labels))
	for _, label := range labels {
		block, err := h.blocks.ReadBlock(r.Context(), uid, label)
		if err != nil {
			writeError(w, err)
			return
		}
		summaries = append(summaries, blockSummary{
			Label:        label,
			Title:        block.Title,
			PendingDiffs: counts[label],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": summaries})
}

func (h *BlocksHandler) handleRead(w http.ResponseWriter, r *http.Request) {
	block, err := h.blocks.ReadBlock(r.Context(), r.PathValue("uid"), r.PathValue("label"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (h *BlocksHandler) handleWrite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body      string `json:"body"`
		Title     string `json:"title"`
		SchemaRef string `json:"schema_ref"`
		Message   string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sha, err := h.blocks.WriteBlock(r.Context(), r.PathValue("uid"), r.PathValue("label"), body.Body,
		blockstore.WriteOptions{
			Message: body.Message,
			Author:  blockstore.AuthorUser,
			Title:   body.Title,
			Schema:  body.SchemaRef,
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"commit_sha": sha})
}

func (h *BlocksHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sha, deleted, err := h.blocks.DeleteBlock(r.Context(), r.PathValue("uid"), r.PathValue("label"), blockstore.AuthorUser)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "commit_sha": sha})
}

func (h *BlocksHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	versions, err := h.blocks.History(r.Context(), r.PathValue("uid"), r.PathValue("label"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *BlocksHandler) handleReadVersion(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	sha := r.PathValue("sha")
	content, err := h.blocks.ReadAtVersion(r.Context(), r.PathValue("uid"), label, sha)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"label":      label,
		"commit_sha": sha,
		"content":    content,
	})
}

func (h *BlocksHandler) handleRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CommitSHA string `json:"commit_sha"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.CommitSHA == "" {
		writeError(w, apperr.New(apperr.CodeInvalidInput, "commit_sha is required"))
		return
	}
	sha, err := h.blocks.Restore(r.Context(), r.PathValue("uid"), r.PathValue("label"), body.CommitSHA)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"commit_sha": sha})
}

// handleListDiffs returns the active proposal's pending record, if any.
// Older pending records for the same block are shadowed until approval
// supersedes them.
func (h *BlocksHandler) handleListDiffs(w http.ResponseWriter, r *http.Request) {
	pending, err := h.diffs.ListPending(r.PathValue("uid"), r.PathValue("label"))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(pending) > 1 {
		pending = pending[:1]
	}
	writeJSON(w, http.StatusOK, map[string]any{"diffs": pending})
}

func (h *BlocksHandler) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := h.diffs.Get(r.PathValue("uid"), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (h *BlocksHandler) handlePropose(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	label := r.PathValue("label")
	var body struct {
		AgentID    string `json:"agent_id"`
		Body       string `json:"body"`
		Reasoning  string `json:"reasoning"`
		Confidence string `json:"confidence"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.AgentID == "" || body.Reasoning == "" {
		writeError(w, apperr.New(apperr.CodeInvalidInput, "agent_id and reasoning are required"))
		return
	}

	current, err := h.blocks.ReadBlock(r.Context(), uid, label)
	if err != nil {
		writeError(w, err)
		return
	}
	sha, err := h.blocks.CreateProposal(r.Context(), uid, label, body.Body, body.AgentID, body.Reasoning, body.Confidence)
	if err != nil {
		writeError(w, err)
		return
	}
	record := diffs.NewPendingDiff(uid, body.AgentID, label, diffs.OpFullReplace,
		current.Body, body.Body, body.Reasoning, body.Confidence)
	if err := h.diffs.Save(uid, record); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"diff_id":    record.ID,
		"branch":     blockstore.ProposalBranch(uid, label),
		"commit_sha": sha,
	})
}

func (h *BlocksHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	label := r.PathValue("label")
	id := r.PathValue("id")

	diff, err := h.diffs.Get(uid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if diff.BlockLabel != label {
		writeError(w, apperr.New(apperr.CodeDiffNotFound, "diff %s does not target block %s", id, label))
		return
	}
	if diff.Status != diffs.StatusPending {
		writeError(w, apperr.New(apperr.CodeProposalStale, "diff %s is %s, not pending", id, diff.Status))
		return
	}

	sha, err := h.blocks.ApproveProposal(r.Context(), uid, label)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.diffs.UpdateStatus(uid, id, diffs.StatusApproved, sha); err != nil {
		writeError(w, err)
		return
	}
	superseded, err := h.diffs.SupersedeOlder(uid, label, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     diffs.StatusApproved,
		"commit_sha": sha,
		"superseded": superseded,
	})
}

func (h *BlocksHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	id := r.PathValue("id")

	diff, err := h.diffs.Get(uid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if diff.Status != diffs.StatusPending {
		writeError(w, apperr.New(apperr.CodeProposalStale, "diff %s is %s, not pending", id, diff.Status))
		return
	}
	if _, err := h.blocks.RejectProposal(r.Context(), uid, diff.BlockLabel); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.diffs.UpdateStatus(uid, id, diffs.StatusRejected, ""); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": diffs.StatusRejected})
}

func (h *BlocksHandler) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.blocks.ListProposals(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}
