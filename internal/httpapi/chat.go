package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/youlab/tutord/internal/agent"
	"github.com/youlab/tutord/internal/apperr"
)

const keepaliveInterval = 15 * time.Second

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	runner *agent.Runner
}

func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat/stream", h.handleStream)
}

func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	var req agent.TurnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, apperr.New(apperr.CodeInvalidInput, "user_id is required"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperr.New(apperr.CodeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var mu sync.Mutex
	writeFrame := func(frame string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(w, frame)
		flusher.Flush()
	}
	emit := func(ev agent.Event) {
		if ev.Type == agent.EventPing {
			writeFrame(": keepalive\n\n")
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		writeFrame("data: " + string(data) + "\n\n")
	}

	// Keepalive comments cover quiet stretches; the request context stops
	// the ticker when the client disconnects or the turn ends.
	ctx := r.Context()
	stop := make(chan struct{})
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeFrame(": keepalive\n\n")
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	// Errors surface as an error event on the stream; the HTTP status is
	// already committed.
	_ = h.runner.StreamTurn(ctx, req, emit)
	close(stop)
	<-tickerDone
}
