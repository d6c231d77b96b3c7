package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DialecticDeps configure the insight-query tool. Endpoint points at the
// external dialectic service; an empty endpoint disables the tool.
type DialecticDeps struct {
	Endpoint string
	APIKey   string
	UserID   string
	Client   *http.Client
}

// RegisterDialecticTool adds the student-insight query tool when an
// endpoint is configured.
func RegisterDialecticTool(r *Registry, deps DialecticDeps) {
	if deps.Endpoint == "" {
		return
	}
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: 60 * time.Second}
	}
	r.Register(&dialecticTool{deps})
}

type dialecticTool struct{ deps DialecticDeps }

func (t *dialecticTool) Name() string { return "query_student_insight" }
func (t *dialecticTool) Description() string {
	return "Ask a free-form question about the student and receive an insight derived from their conversation history."
}
func (t *dialecticTool) Parameters() map[string]any {
	return objSchema(map[string]any{
		"question": map[string]any{"type": "string", "description": "The question to ask about the student"},
	}, "question")
}

func (t *dialecticTool) Execute(ctx context.Context, args map[string]any) *Result {
	question := argString(args, "question")
	if question == "" {
		return ErrorResult("Error: question cannot be empty.")
	}

	payload, _ := json.Marshal(map[string]string{
		"user_id": t.deps.UserID,
		"query":   question,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.deps.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error querying insight service: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if t.deps.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.deps.APIKey)
	}

	resp, err := t.deps.Client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error querying insight service: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ErrorResult(fmt.Sprintf("Insight service returned %d: %s", resp.StatusCode, string(detail)))
	}

	var out struct {
		Insight string `json:"insight"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ErrorResult(fmt.Sprintf("Error decoding insight response: %v", err))
	}
	if out.Insight == "" {
		return NewResult("No insight available for this question.")
	}
	return NewResult(out.Insight)
}
