// Package providers abstracts the streaming LLM backend. One provider is
// configured per process; the agent layer depends only on the Provider
// interface so tests can script chunk sequences.
package providers

import "context"

// Message is one turn in a conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatRequest is a single model call.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// ChatResponse is the accumulated result of a call.
type ChatResponse struct {
	Content      string
	Thinking     string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length"
	Usage        *Usage
}

// ChunkType tags a streaming chunk.
type ChunkType string

const (
	ChunkReasoning ChunkType = "reasoning"  // thinking delta
	ChunkToolStart ChunkType = "tool_start" // tool call opened
	ChunkToolEnd   ChunkType = "tool_end"   // tool call input complete
	ChunkText      ChunkType = "text"       // assistant text delta
	ChunkStop      ChunkType = "stop"       // model finished
	ChunkPing      ChunkType = "ping"       // provider keepalive
)

// StreamChunk is one streamed event from the provider.
type StreamChunk struct {
	Type     ChunkType
	Content  string
	ToolName string
}

// Provider is a streaming LLM backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
}
