// Package workspace provides the sandboxed per-user directory that agents
// read and write through tools. Every path is symlink-resolved and
// checked against the workspace root; file sizes are capped; an on-disk
// sync index tracks content hashes so unchanged files skip rehashing.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/youlab/tutord/internal/apperr"
)

// ProjectInstructionsFile is served verbatim into agent prompts when
// present at the workspace root.
const ProjectInstructionsFile = "CLAUDE.md"

// Manager owns workspace roots and their sync indexes.
type Manager struct {
	dataRoot     string
	sharedRoot   string
	maxFileBytes int64

	mu     sync.Mutex
	states map[string]*userState
}

// userState is the per-root mutable state: the sync index, the dirty
// set fed by the fsnotify watcher, and the lock serializing both.
type userState struct {
	mu      sync.Mutex
	state   *SyncState
	dirty   map[string]bool
	watcher *watcher
}

// NewManager creates a Manager. When sharedRoot is non-empty all users
// share a single workspace tree.
func NewManager(dataRoot, sharedRoot string, maxFileBytes int64) *Manager {
	if maxFileBytes <= 0 {
		maxFileBytes = 10 * 1024 * 1024
	}
	return &Manager{
		dataRoot:     dataRoot,
		sharedRoot:   sharedRoot,
		maxFileBytes: maxFileBytes,
		states:       make(map[string]*userState),
	}
}

// Close stops all file watchers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.states {
		if st.watcher != nil {
			st.watcher.Close()
		}
	}
}

// RootFor returns (and creates) the workspace root for a user.
func (m *Manager) RootFor(userID string) (string, error) {
	root := m.sharedRoot
	if root == "" {
		root = filepath.Join(m.dataRoot, "users", userID, "workspace")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	return root, nil
}

func (m *Manager) stateFor(userID, root string) *userState {
	key := userID
	if m.sharedRoot != "" {
		key = "__shared__"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		st = &userState{dirty: make(map[string]bool)}
		st.watcher = newWatcher(root, st.markDirty)
		m.states[key] = st
	}
	return st
}

func (st *userState) markDirty(rel string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.dirty[rel] = true
}

// resolve joins rel under root and rejects any path whose resolved form
// escapes the root, including escapes through symlinks.
func (m *Manager) resolve(root, rel string) (string, error) {
	rel = strings.TrimPrefix(strings.TrimSpace(rel), "/")
	if rel == "" {
		return "", apperr.New(apperr.CodeInvalidPath, "empty path")
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !isPathInside(resolved, rootResolved) {
		return "", apperr.New(apperr.CodeInvalidPath, "path %q escapes the workspace", rel)
	}
	return abs, nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and rejoins the non-existing suffix, so not-yet-created files can
// still be checked.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func isPathInside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// ReadFile returns the content of a workspace file.
func (m *Manager) ReadFile(userID, rel string) ([]byte, error) {
	root, err := m.RootFor(userID)
	if err != nil {
		return nil, err
	}
	abs, err := m.resolve(root, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.CodeFileNotFound, "file %q not found", rel)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// WriteFile writes a workspace file, enforcing the size cap, and updates
// the sync index.
func (m *Manager) WriteFile(userID, rel string, data []byte) error {
	if int64(len(data)) > m.maxFileBytes {
		return apperr.New(apperr.CodeFileTooLarge, "file %q is %d bytes, max %d", rel, len(data), m.maxFileBytes)
	}
	root, err := m.RootFor(userID)
	if err != nil {
		return err
	}
	abs, err := m.resolve(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	st := m.stateFor(userID, root)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.ensureLoaded(root, userID); err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat written file: %w", err)
	}
	key := filepath.ToSlash(rel)
	st.state.Files[key] = FileMetadata{
		Path:     key,
		Hash:     hashBytes(data),
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
		Source:   SourceTutord,
	}
	delete(st.dirty, key)
	return st.save(root)
}

// DeleteFile removes a workspace file and its index entry. Missing files
// are not an error.
func (m *Manager) DeleteFile(userID, rel string) error {
	root, err := m.RootFor(userID)
	if err != nil {
		return err
	}
	abs, err := m.resolve(root, rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}

	st := m.stateFor(userID, root)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.ensureLoaded(root, userID); err != nil {
		return err
	}
	delete(st.state.Files, filepath.ToSlash(rel))
	return st.save(root)
}

// ProjectInstructions returns CLAUDE.md content verbatim, or "" when the
// workspace has none.
func (m *Manager) ProjectInstructions(userID string) string {
	data, err := m.ReadFile(userID, ProjectInstructionsFile)
	if err != nil {
		return ""
	}
	return string(data)
}
