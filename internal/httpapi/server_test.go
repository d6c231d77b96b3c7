package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youlab/tutord/internal/agent"
	"github.com/youlab/tutord/internal/background"
	"github.com/youlab/tutord/internal/blockstore"
	"github.com/youlab/tutord/internal/diffs"
	"github.com/youlab/tutord/internal/memory"
	"github.com/youlab/tutord/internal/providers"
	"github.com/youlab/tutord/internal/store"
	"github.com/youlab/tutord/internal/tools"
	"github.com/youlab/tutord/internal/workspace"
)

type scriptedProvider struct {
	stream func(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.stream(ctx, req, func(providers.StreamChunk) {})
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.stream(ctx, req, onChunk)
}

type testAPI struct {
	srv    *httptest.Server
	blocks *blockstore.Store
	diffs  *diffs.Store
}

func newTestAPI(t *testing.T, provider providers.Provider) *testAPI {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dataRoot := t.TempDir()

	db, err := store.Open(filepath.Join(dataRoot, "tutord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blocks := blockstore.New(dataRoot)
	diffStore := diffs.NewStore(dataRoot)
	ws := workspace.NewManager(dataRoot, "", 1<<20)
	t.Cleanup(ws.Close)
	mem := memory.NewBuilder(blocks)

	if provider == nil {
		provider = &scriptedProvider{stream: func(_ context.Context, _ providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
			onChunk(providers.StreamChunk{Type: providers.ChunkStop})
			return &providers.ChatResponse{FinishReason: "stop"}, nil
		}}
	}

	registry := background.NewRegistry(db)
	executor := background.NewExecutor(db, mem, provider, "test-model",
		func(*background.Task, string) *tools.Registry { return tools.NewRegistry() })
	scheduler := background.NewScheduler(registry, executor, db, background.SchedulerOptions{})

	runner := agent.NewRunner(agent.RunnerConfig{
		Provider:  provider,
		Model:     "test-model",
		Memory:    mem,
		Workspace: ws,
		DB:        db,
		ToolFactory: func(_, _ string) *tools.Registry {
			return tools.NewRegistry()
		},
	})

	server := NewServer(ServerConfig{
		Blocks:    blocks,
		Diffs:     diffStore,
		Workspace: ws,
		DB:        db,
		Registry:  registry,
		Scheduler: scheduler,
		Runner:    runner,
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, blocks: blocks, diffs: diffStore}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), "body: %s", data)
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)
	resp, body := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "tutord", body["service"])
}

func TestBlockLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, body := api.do(t, http.MethodPut, "/users/u1/blocks/student", map[string]any{
		"body": "Prefers visual explanations.", "title": "Student Profile",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	firstSHA := body["commit_sha"].(string)
	assert.NotEmpty(t, firstSHA)

	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Student Profile", body["title"])
	assert.Equal(t, "Prefers visual explanations.", body["body"])

	resp, _ = api.do(t, http.MethodPut, "/users/u1/blocks/student", map[string]any{
		"body": "Prefers worked examples.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	versions := body["versions"].([]any)
	require.Len(t, versions, 2)
	newest := versions[0].(map[string]any)
	assert.Equal(t, true, newest["is_current"])

	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student/versions/"+firstSHA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["content"], "visual explanations")

	resp, body = api.do(t, http.MethodPost, "/users/u1/blocks/student/restore", map[string]any{
		"commit_sha": firstSHA,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Prefers visual explanations.", body["body"])

	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	blocks := body["blocks"].([]any)
	require.Len(t, blocks, 1)

	resp, body = api.do(t, http.MethodDelete, "/users/u1/blocks/student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["deleted"])
}

func TestBlockErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, body := api.do(t, http.MethodGet, "/users/ghost/blocks/student", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "user_not_found", body["code"])

	_, _ = api.do(t, http.MethodPut, "/users/u1/blocks/ok", map[string]any{"body": "x"})
	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "block_not_found", body["code"])

	resp, body = api.do(t, http.MethodPut, "/users/u1/blocks/Not%20Valid", map[string]any{"body": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["code"])
}

func TestProposalFlow(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, _ := api.do(t, http.MethodPut, "/users/u1/blocks/student", map[string]any{
		"body": "Enjoys algebra.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := api.do(t, http.MethodPost, "/users/u1/blocks/student/propose", map[string]any{
		"agent_id": "tutor", "body": "Enjoys algebra and geometry.",
		"reasoning": "Student mentioned liking geometry proofs.", "confidence": "high",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	diffID := body["diff_id"].(string)
	assert.Equal(t, "agent/u1/student", body["branch"])

	// Main is untouched while the proposal is pending.
	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Enjoys algebra.", body["body"])

	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student/diffs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := body["diffs"].([]any)
	require.Len(t, pending, 1)
	assert.Equal(t, diffID, pending[0].(map[string]any)["id"])

	resp, body = api.do(t, http.MethodPost, "/users/u1/blocks/student/diffs/"+diffID+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["status"])
	assert.NotEmpty(t, body["commit_sha"])

	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Enjoys algebra and geometry.", body["body"])

	// A second approve of the same diff is stale.
	resp, body = api.do(t, http.MethodPost, "/users/u1/blocks/student/diffs/"+diffID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "proposal_stale", body["code"])
}

func TestProposalReject(t *testing.T) {
	api := newTestAPI(t, nil)

	_, _ = api.do(t, http.MethodPut, "/users/u1/blocks/student", map[string]any{"body": "Original."})
	resp, body := api.do(t, http.MethodPost, "/users/u1/blocks/student/propose", map[string]any{
		"agent_id": "tutor", "body": "Changed.", "reasoning": "Testing rejection.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	diffID := body["diff_id"].(string)

	resp, body = api.do(t, http.MethodPost, "/users/u1/blocks/student/diffs/"+diffID+"/reject", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["status"])

	resp, body = api.do(t, http.MethodGet, "/users/u1/blocks/student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Original.", body["body"])

	resp, body = api.do(t, http.MethodGet, "/users/u1/proposals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["proposals"])
}

func TestWorkspaceFiles(t *testing.T) {
	api := newTestAPI(t, nil)

	req, err := http.NewRequest(http.MethodPut, api.srv.URL+"/users/u1/workspace/files/notes/plan.md",
		strings.NewReader("# Study Plan"))
	require.NoError(t, err)
	resp, err := api.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = api.srv.Client().Get(api.srv.URL + "/users/u1/workspace/files/notes/plan.md")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "# Study Plan", string(data))

	req, err = http.NewRequest(http.MethodPut, api.srv.URL+"/users/u1/workspace/files/progress.json",
		strings.NewReader(`{"week": 3}`))
	require.NoError(t, err)
	resp, err = api.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, err = api.srv.Client().Get(api.srv.URL + "/users/u1/workspace/files/progress.json")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	listResp, body := api.do(t, http.MethodGet, "/users/u1/workspace/files", nil)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	files := body["files"].([]any)
	require.Len(t, files, 2)
	paths := []string{
		files[0].(map[string]any)["path"].(string),
		files[1].(map[string]any)["path"].(string),
	}
	assert.ElementsMatch(t, []string{"notes/plan.md", "progress.json"}, paths)
	assert.True(t, strings.HasPrefix(files[0].(map[string]any)["hash"].(string), "sha256:"))

	escResp, body := api.do(t, http.MethodGet, "/users/u1/workspace/files/..%2Fsecrets", nil)
	assert.Equal(t, http.StatusBadRequest, escResp.StatusCode)
	assert.Equal(t, "invalid_path", body["code"])

	delResp, _ := api.do(t, http.MethodDelete, "/users/u1/workspace/files/notes/plan.md", nil)
	require.Equal(t, http.StatusOK, delResp.StatusCode)
	getResp, body := api.do(t, http.MethodGet, "/users/u1/workspace/files/notes/plan.md", nil)
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
	assert.Equal(t, "file_not_found", body["code"])
}

func TestBackgroundTaskEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	task := map[string]any{
		"name":          "weekly-summary",
		"system_prompt": "Summarize the week.",
		"trigger":       map[string]any{"type": "cron", "schedule": "0 9 * * 1"},
		"user_ids":      []string{"u1"},
		"enabled":       true,
	}
	resp, _ := api.do(t, http.MethodPost, "/background/tasks", task)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := api.do(t, http.MethodGet, "/background/tasks/weekly-summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "weekly-summary", body["name"])

	resp, body = api.do(t, http.MethodGet, "/background/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "task_not_found", body["code"])

	// Invalid cron expressions are rejected at registration.
	bad := map[string]any{
		"name": "bad", "system_prompt": "x",
		"trigger": map[string]any{"type": "cron", "schedule": "now and then"},
	}
	resp, body = api.do(t, http.MethodPost, "/background/tasks", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = api.do(t, http.MethodPost, "/background/tasks/weekly-summary/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "manual", body["trigger_type"])
	assert.Equal(t, "success", body["status"])
	runID := body["id"].(string)

	resp, body = api.do(t, http.MethodGet, "/background/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "weekly-summary", body["task_name"])

	resp, body = api.do(t, http.MethodGet, "/background/tasks/weekly-summary/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["runs"], 1)

	resp, body = api.do(t, http.MethodPost, "/background/tasks/weekly-summary/enable", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["enabled"])

	resp, _ = api.do(t, http.MethodDelete, "/background/tasks/weekly-summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = api.do(t, http.MethodGet, "/background/tasks/weekly-summary", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatStreamSSE(t *testing.T) {
	provider := &scriptedProvider{stream: func(_ context.Context, _ providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
		onChunk(providers.StreamChunk{Type: providers.ChunkText, Content: "Welcome "})
		onChunk(providers.StreamChunk{Type: providers.ChunkText, Content: "back!"})
		onChunk(providers.StreamChunk{Type: providers.ChunkStop})
		return &providers.ChatResponse{Content: "Welcome back!", FinishReason: "stop"}, nil
	}}
	api := newTestAPI(t, provider)

	payload, err := json.Marshal(map[string]any{
		"user_id": "u1", "chat_id": "c1",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	require.NoError(t, err)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(api.srv.URL+"/chat/stream", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ":") || line == "" {
			continue
		}
		data, found := strings.CutPrefix(line, "data: ")
		require.True(t, found, "unexpected SSE line: %q", line)
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())

	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	assert.Equal(t, []string{"status", "message", "message", "done"}, types)
	assert.Equal(t, "Thinking...", events[0]["content"])
	assert.Equal(t, "Welcome ", events[1]["content"])
}

func TestChatStreamErrorEvent(t *testing.T) {
	provider := &scriptedProvider{stream: func(context.Context, providers.ChatRequest, func(providers.StreamChunk)) (*providers.ChatResponse, error) {
		return nil, fmt.Errorf("model overloaded")
	}}
	api := newTestAPI(t, provider)

	payload := `{"user_id":"u1","chat_id":"c1","messages":[{"role":"user","content":"hi"}]}`
	resp, err := api.srv.Client().Post(api.srv.URL+"/chat/stream", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"error"`)
	assert.Contains(t, string(data), "model overloaded")
	assert.NotContains(t, string(data), `"type":"done"`)
}
