package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type anthropicStreamEvent struct {
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ChatStream issues a streaming call and forwards classified chunks to
// onChunk as they arrive. The returned response holds the accumulated
// content and tool calls.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	respBody, err := p.doRequest(ctx, p.buildRequestBody(model, req, true))
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	emit := func(c StreamChunk) {
		if onChunk != nil {
			onChunk(c)
		}
	}

	result := &ChatResponse{FinishReason: "stop", Usage: &Usage{}}
	// Tool-call argument JSON arrives as fragments keyed by block order.
	toolCallJSON := make(map[int]string)
	currentBlockType := ""

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // large thinking deltas
	currentEvent := ""

	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "event: "); ok {
			currentEvent = after
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch currentEvent {
		case "ping":
			emit(StreamChunk{Type: ChunkPing})

		case "content_block_start":
			currentBlockType = ev.ContentBlock.Type
			if ev.ContentBlock.Type == "tool_use" {
				name := strings.TrimSpace(ev.ContentBlock.Name)
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:        ev.ContentBlock.ID,
					Name:      name,
					Arguments: make(map[string]any),
				})
				emit(StreamChunk{Type: ChunkToolStart, ToolName: name})
			}

		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				result.Content += ev.Delta.Text
				emit(StreamChunk{Type: ChunkText, Content: ev.Delta.Text})
			case "thinking_delta":
				result.Thinking += ev.Delta.Thinking
				emit(StreamChunk{Type: ChunkReasoning, Content: ev.Delta.Thinking})
			case "input_json_delta":
				if n := len(result.ToolCalls); n > 0 {
					toolCallJSON[n-1] += ev.Delta.PartialJSON
				}
			}

		case "content_block_stop":
			if currentBlockType == "tool_use" {
				if n := len(result.ToolCalls); n > 0 {
					idx := n - 1
					if raw := toolCallJSON[idx]; raw != "" {
						_ = json.Unmarshal([]byte(raw), &result.ToolCalls[idx].Arguments)
					}
					emit(StreamChunk{Type: ChunkToolEnd, ToolName: result.ToolCalls[idx].Name})
				}
			}
			currentBlockType = ""

		case "message_delta":
			switch ev.Delta.StopReason {
			case "":
			case "tool_use":
				result.FinishReason = "tool_calls"
			case "max_tokens":
				result.FinishReason = "length"
			default:
				result.FinishReason = "stop"
			}
			if ev.Usage.OutputTokens > 0 {
				result.Usage.CompletionTokens = ev.Usage.OutputTokens
			}

		case "message_stop":
			emit(StreamChunk{Type: ChunkStop})

		case "error":
			return nil, fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return result, nil
}
