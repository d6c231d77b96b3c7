package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/youlab/tutord/internal/workspace"
)

const shellTimeout = 30 * time.Second

// ShellDeps bind the shell tool to one user's workspace.
type ShellDeps struct {
	Workspace *workspace.Manager
	UserID    string
}

// RegisterShellTool adds the workspace-scoped shell tool.
func RegisterShellTool(r *Registry, deps ShellDeps) {
	r.Register(&shellTool{deps})
}

type shellTool struct{ deps ShellDeps }

func (t *shellTool) Name() string { return "exec_shell" }
func (t *shellTool) Description() string {
	return "Execute a shell command with the student's workspace as the working directory. Commands time out after 30 seconds."
}
func (t *shellTool) Parameters() map[string]any {
	return objSchema(map[string]any{
		"command": map[string]any{"type": "string", "description": "The shell command to run"},
	}, "command")
}

func (t *shellTool) Execute(ctx context.Context, args map[string]any) *Result {
	command := argString(args, "command")
	if strings.TrimSpace(command) == "" {
		return ErrorResult("Error: command cannot be empty.")
	}
	root, err := t.deps.Workspace.RootFor(t.deps.UserID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error resolving workspace: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := stdout.String()
	if stderr.Len() > 0 {
		out += "\n[stderr]\n" + stderr.String()
	}
	// Cap output so a noisy command cannot blow up the prompt.
	if len(out) > 16*1024 {
		out = out[:16*1024] + "\n... (output truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("Error: command timed out after %s.\n%s", shellTimeout, out))
	}
	if runErr != nil {
		return ErrorResult(fmt.Sprintf("Command failed: %v\n%s", runErr, out))
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	return SilentResult(out)
}
