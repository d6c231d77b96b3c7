package agent

import (
	"fmt"
	"strings"

	"github.com/youlab/tutord/internal/providers"
)

// defaultSystemPrompt is used when the chat carries no leading system
// message.
const defaultSystemPrompt = "You are a helpful AI tutor assistant. " +
	"Always be helpful, encouraging, and focused on the student's learning goals."

// toolInstructions renders the fixed tool-usage section appended to
// every system prompt.
func toolInstructions(workspaceRoot string) string {
	return fmt.Sprintf(`
## Tool Usage

Your workspace is: %s
You can read and write files, and execute shell commands within this workspace.

### Memory Blocks

You have access to memory blocks that contain persistent information about the student.
These blocks are shown below in "Student Context" when available.

To update memory blocks, use the memory block tools:
1. First, use `+"`read_memory_block`"+` to see the exact current content
2. Then, use `+"`propose_memory_edit`"+` with exact string matching to suggest changes
3. Your edits will be submitted as proposals that require user approval

Important: The `+"`old_string`"+` in your edit must match the block content exactly,
including whitespace and newlines. If the string appears multiple times,
provide more surrounding context to make it unique, or use `+"`replace_all=true`"+`.`, workspaceRoot)
}

// splitSystemMessage extracts a leading system message from the chat
// history, returning the remaining messages.
func splitSystemMessage(messages []providers.Message) (string, []providers.Message) {
	if len(messages) > 0 && messages[0].Role == "system" {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

// assembleInstructions concatenates the system prompt sections in their
// fixed order: base prompt, tool usage, project instructions, student
// context.
func assembleInstructions(base, workspaceRoot, projectInstructions, memoryContext string) string {
	if base == "" {
		base = defaultSystemPrompt
	}
	parts := []string{base, toolInstructions(workspaceRoot)}
	if projectInstructions != "" {
		parts = append(parts, "---\n\n# Project Instructions (from CLAUDE.md)\n\n"+projectInstructions)
	}
	if memoryContext != "" {
		parts = append(parts, "---\n\n# Student Context\n\n"+
			"The following information has been recorded about this student. "+
			"Use this to personalize your tutoring approach.\n\n"+memoryContext)
	}
	return strings.Join(parts, "\n\n")
}

// renderPrompt flattens the chat history into a single prompt. A lone
// message passes through; longer histories render prior turns as
// User/Assistant blocks ahead of the current message.
func renderPrompt(messages []providers.Message) string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) == 1 {
		return messages[0].Content
	}
	var history []string
	for _, msg := range messages[:len(messages)-1] {
		label := "Assistant"
		if msg.Role == "user" {
			label = "User"
		}
		history = append(history, label+": "+msg.Content)
	}
	current := messages[len(messages)-1].Content
	return fmt.Sprintf("Here is our conversation so far:\n\n%s\n\n---\n\nNow, the user says:\n%s",
		strings.Join(history, "\n\n"), current)
}
