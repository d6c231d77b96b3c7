package tools

import (
	"context"
	"fmt"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/workspace"
)

// FileDeps bind the workspace file tools to one user.
type FileDeps struct {
	Workspace *workspace.Manager
	UserID    string
}

// RegisterFileTools adds the workspace file tools to a registry.
func RegisterFileTools(r *Registry, deps FileDeps) {
	r.Register(&readFile{deps})
	r.Register(&writeFile{deps})
	r.Register(&deleteFile{deps})
	r.Register(&listFiles{deps})
}

func pathSchema(desc string) map[string]any {
	return objSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": desc},
	}, "path")
}

// fileToolMessage maps workspace errors to agent-readable messages.
func fileToolMessage(op, path string, err error) *Result {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidPath:
		return ErrorResult(fmt.Sprintf("Error: path '%s' is outside the workspace.", path))
	case apperr.CodeFileTooLarge:
		return ErrorResult(fmt.Sprintf("Error: file '%s' exceeds the size limit.", path))
	case apperr.CodeFileNotFound:
		return ErrorResult(fmt.Sprintf("Error: file '%s' not found.", path))
	default:
		return ErrorResult(fmt.Sprintf("Error %s '%s': %v", op, path, err))
	}
}

type readFile struct{ deps FileDeps }

func (t *readFile) Name() string        { return "read_file" }
func (t *readFile) Description() string { return "Read a file from the student's workspace." }
func (t *readFile) Parameters() map[string]any {
	return pathSchema("Relative path of the file within the workspace")
}

func (t *readFile) Execute(ctx context.Context, args map[string]any) *Result {
	path := argString(args, "path")
	data, err := t.deps.Workspace.ReadFile(t.deps.UserID, path)
	if err != nil {
		return fileToolMessage("reading", path, err)
	}
	return SilentResult(string(data))
}

type writeFile struct{ deps FileDeps }

func (t *writeFile) Name() string        { return "write_file" }
func (t *writeFile) Description() string { return "Write a file into the student's workspace." }
func (t *writeFile) Parameters() map[string]any {
	return objSchema(map[string]any{
		"path":    map[string]any{"type": "string", "description": "Relative path of the file within the workspace"},
		"content": map[string]any{"type": "string", "description": "Full file content to write"},
	}, "path", "content")
}

func (t *writeFile) Execute(ctx context.Context, args map[string]any) *Result {
	path := argString(args, "path")
	content := argString(args, "content")
	if err := t.deps.Workspace.WriteFile(t.deps.UserID, path, []byte(content)); err != nil {
		return fileToolMessage("writing", path, err)
	}
	return NewResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

type deleteFile struct{ deps FileDeps }

func (t *deleteFile) Name() string        { return "delete_file" }
func (t *deleteFile) Description() string { return "Delete a file from the student's workspace." }
func (t *deleteFile) Parameters() map[string]any {
	return pathSchema("Relative path of the file to delete")
}

func (t *deleteFile) Execute(ctx context.Context, args map[string]any) *Result {
	path := argString(args, "path")
	if err := t.deps.Workspace.DeleteFile(t.deps.UserID, path); err != nil {
		return fileToolMessage("deleting", path, err)
	}
	return NewResult(fmt.Sprintf("Deleted %s", path))
}

type listFiles struct{ deps FileDeps }

func (t *listFiles) Name() string        { return "list_files" }
func (t *listFiles) Description() string { return "List the files in the student's workspace." }
func (t *listFiles) Parameters() map[string]any {
	return objSchema(map[string]any{})
}

func (t *listFiles) Execute(ctx context.Context, args map[string]any) *Result {
	index, err := t.deps.Workspace.ListFiles(t.deps.UserID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error listing files: %v", err))
	}
	if len(index.Files) == 0 {
		return NewResult("The workspace is empty.")
	}
	out := "Workspace files:\n"
	for _, f := range index.Files {
		out += fmt.Sprintf("- %s (%d bytes)\n", f.Path, f.Size)
	}
	return SilentResult(out)
}
