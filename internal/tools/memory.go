package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/blockstore"
	"github.com/youlab/tutord/internal/diffs"
)

// MemoryDeps are the collaborators shared by the memory tools.
type MemoryDeps struct {
	Blocks  *blockstore.Store
	Diffs   *diffs.Store
	UserID  string
	AgentID string
}

// RegisterMemoryTools adds the memory block tools, bound to one user and
// agent, to a registry.
func RegisterMemoryTools(r *Registry, deps MemoryDeps) {
	r.Register(&listMemoryBlocks{deps})
	r.Register(&readMemoryBlock{deps})
	r.Register(&proposeMemoryEdit{deps})
}

type listMemoryBlocks struct{ deps MemoryDeps }

func (t *listMemoryBlocks) Name() string { return "list_memory_blocks" }
func (t *listMemoryBlocks) Description() string {
	return "List all available memory blocks for the current student."
}
func (t *listMemoryBlocks) Parameters() map[string]any {
	return objSchema(map[string]any{})
}

func (t *listMemoryBlocks) Execute(ctx context.Context, args map[string]any) *Result {
	labels, err := t.deps.Blocks.ListBlocks(ctx, t.deps.UserID)
	if err != nil && !apperr.Is(err, apperr.CodeUserNotFound) {
		slog.Warn("list_memory_blocks failed", "user", t.deps.UserID, "error", err)
		return ErrorResult(fmt.Sprintf("Error listing memory blocks: %v", err))
	}
	if len(labels) == 0 {
		return NewResult("No memory blocks exist for this student yet.")
	}
	lines := []string{"Available memory blocks:", ""}
	for _, label := range labels {
		block, err := t.deps.Blocks.ReadBlock(ctx, t.deps.UserID, label)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", label, block.Title))
	}
	return NewResult(strings.Join(lines, "\n"))
}

type readMemoryBlock struct{ deps MemoryDeps }

func (t *readMemoryBlock) Name() string { return "read_memory_block" }
func (t *readMemoryBlock) Description() string {
	return "Read the current content of a memory block. Use this before proposing edits to see the exact current content."
}
func (t *readMemoryBlock) Parameters() map[string]any {
	return objSchema(map[string]any{
		"block_label": map[string]any{
			"type":        "string",
			"description": "The label of the block to read (e.g. \"student\", \"goals\")",
		},
	}, "block_label")
}

func (t *readMemoryBlock) Execute(ctx context.Context, args map[string]any) *Result {
	label := argString(args, "block_label")
	block, err := t.deps.Blocks.ReadBlock(ctx, t.deps.UserID, label)
	if err != nil {
		if apperr.Is(err, apperr.CodeBlockNotFound) || apperr.Is(err, apperr.CodeUserNotFound) {
			return NewResult(fmt.Sprintf("Memory block '%s' not found.", label))
		}
		slog.Warn("read_memory_block failed", "user", t.deps.UserID, "block", label, "error", err)
		return ErrorResult(fmt.Sprintf("Error reading memory block: %v", err))
	}
	body := block.Body
	if body == "" {
		body = "(empty)"
	}
	return NewResult(fmt.Sprintf("# %s\n\n%s", block.Title, body))
}

type proposeMemoryEdit struct{ deps MemoryDeps }

func (t *proposeMemoryEdit) Name() string { return "propose_memory_edit" }
func (t *proposeMemoryEdit) Description() string {
	return "Propose an edit to a memory block using surgical string replacement. " +
		"The edit is submitted as a proposal that requires user approval. " +
		"old_string must match exactly and must be unique in the block unless replace_all is true. " +
		"Read the memory block first; the edit FAILS if old_string is not found or not unique."
}
func (t *proposeMemoryEdit) Parameters() map[string]any {
	return objSchema(map[string]any{
		"block_label": map[string]any{
			"type":        "string",
			"description": "The label of the block to edit",
		},
		"old_string": map[string]any{
			"type":        "string",
			"description": "The exact text to find and replace. Must be unique unless replace_all is true.",
		},
		"new_string": map[string]any{
			"type":        "string",
			"description": "The text to replace it with. Must be different from old_string.",
		},
		"reasoning": map[string]any{
			"type":        "string",
			"description": "Brief explanation of why this edit is needed (shown to the user for approval).",
		},
		"replace_all": map[string]any{
			"type":        "boolean",
			"description": "Replace all occurrences instead of requiring a unique match.",
		},
	}, "block_label", "old_string", "new_string", "reasoning")
}

// Execute validates and applies the surgical replacement. Every failure
// mode returns a descriptive message for the model rather than an error;
// main is never mutated.
func (t *proposeMemoryEdit) Execute(ctx context.Context, args map[string]any) *Result {
	label := argString(args, "block_label")
	oldString := argString(args, "old_string")
	newString := argString(args, "new_string")
	reasoning := argString(args, "reasoning")
	replaceAll := argBool(args, "replace_all")

	if oldString == newString {
		return ErrorResult("Error: old_string and new_string must be different.")
	}
	if oldString == "" {
		return ErrorResult("Error: old_string cannot be empty.")
	}
	if reasoning == "" {
		return ErrorResult("Error: reasoning is required to explain the edit to the user.")
	}

	block, err := t.deps.Blocks.ReadBlock(ctx, t.deps.UserID, label)
	if err != nil {
		if apperr.Is(err, apperr.CodeBlockNotFound) || apperr.Is(err, apperr.CodeUserNotFound) {
			return ErrorResult(fmt.Sprintf("Error: Memory block '%s' not found.", label))
		}
		return ErrorResult(fmt.Sprintf("Error creating edit proposal: %v", err))
	}
	body := block.Body

	count := strings.Count(body, oldString)
	if count == 0 {
		return ErrorResult(fmt.Sprintf(
			"Error: old_string not found in block '%s'. "+
				"Make sure you've read the block first and the text matches exactly "+
				"(including whitespace and newlines).", label))
	}
	if count > 1 && !replaceAll {
		return ErrorResult(fmt.Sprintf(
			"Error: old_string appears %d times in block '%s'. "+
				"Provide a larger unique string with more surrounding context, "+
				"or set replace_all=true to replace all occurrences.", count, label))
	}

	var newBody string
	if replaceAll {
		newBody = strings.ReplaceAll(body, oldString, newString)
	} else {
		newBody = strings.Replace(body, oldString, newString, 1)
	}

	branch, err := t.deps.Blocks.CreateProposal(ctx, t.deps.UserID, label, newBody,
		t.deps.AgentID, reasoning, "medium")
	if err != nil {
		slog.Warn("propose_memory_edit failed", "user", t.deps.UserID, "block", label, "error", err)
		return ErrorResult(fmt.Sprintf("Error creating edit proposal: %v", err))
	}

	diff := diffs.NewPendingDiff(t.deps.UserID, t.deps.AgentID, label, diffs.OpFullReplace,
		body, newBody, reasoning, "medium")
	if err := t.deps.Diffs.Save(t.deps.UserID, diff); err != nil {
		slog.Warn("pending diff save failed", "user", t.deps.UserID, "block", label, "error", err)
	}

	slog.Info("memory edit proposed",
		"user", t.deps.UserID, "block", label, "branch", branch, "diff", diff.ID)

	return NewResult(fmt.Sprintf(
		"Edit proposal created for block '%s'. "+
			"The user will be asked to approve this change. "+
			"Reasoning provided: %s", label, reasoning))
}
