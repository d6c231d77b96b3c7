package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const syncStateFile = ".sync_state.json"

// Sources of a file's most recent version.
const (
	SourceTutord    = "tutord"
	SourceLocal     = "local"
	SourceOpenWebUI = "openwebui"
)

// defaultIgnore patterns are matched against each path segment.
var defaultIgnore = []string{".git", syncStateFile, "__pycache__", "node_modules", "*.tmp", ".DS_Store"}

// FileMetadata describes one indexed workspace file. The shape matches
// the openwebui-content-sync state format for interoperability.
type FileMetadata struct {
	Path            string     `json:"path"`
	Hash            string     `json:"hash"`
	Size            int64      `json:"size"`
	Modified        time.Time  `json:"modified"`
	Source          string     `json:"source"`
	OpenWebUIFileID string     `json:"openwebui_file_id,omitempty"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
}

// SyncState is the persisted sync index for one workspace.
type SyncState struct {
	Version     int                     `json:"version"`
	UserID      string                  `json:"user_id"`
	KnowledgeID string                  `json:"knowledge_id,omitempty"`
	LastSync    *time.Time              `json:"last_sync,omitempty"`
	Files       map[string]FileMetadata `json:"files"`
}

// FileIndexEntry is the lightweight listing shape returned by the API.
type FileIndexEntry struct {
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Index is a workspace file listing.
type Index struct {
	UserID    string           `json:"user_id"`
	Files     []FileIndexEntry `json:"files"`
	TotalSize int64            `json:"total_size"`
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return hashBytes(data), nil
}

func ignored(rel string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pattern := range defaultIgnore {
			if ok, _ := filepath.Match(pattern, segment); ok {
				return true
			}
		}
	}
	return false
}

// ensureLoaded reads the sync state from disk once. The caller must hold
// the state lock.
func (st *userState) ensureLoaded(root, userID string) error {
	if st.state != nil {
		return nil
	}
	path := filepath.Join(root, syncStateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			st.state = &SyncState{Version: 1, UserID: userID, Files: make(map[string]FileMetadata)}
			return nil
		}
		return fmt.Errorf("read sync state: %w", err)
	}
	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt index is rebuilt, not fatal.
		st.state = &SyncState{Version: 1, UserID: userID, Files: make(map[string]FileMetadata)}
		return nil
	}
	if state.Files == nil {
		state.Files = make(map[string]FileMetadata)
	}
	st.state = &state
	return nil
}

// save writes the sync state. The caller must hold the state lock.
func (st *userState) save(root string) error {
	data, err := json.MarshalIndent(st.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, syncStateFile), data, 0o644); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}

// ListFiles walks the workspace, refreshes the sync index, and returns
// the listing. Files whose size and mtime match their index entry keep
// the recorded hash unless the watcher marked them dirty.
func (m *Manager) ListFiles(userID string) (*Index, error) {
	return m.listFiles(userID, false)
}

// RefreshIndex rebuilds the sync index from scratch, rehashing every
// file.
func (m *Manager) RefreshIndex(userID string) (*Index, error) {
	return m.listFiles(userID, true)
}

func (m *Manager) listFiles(userID string, force bool) (*Index, error) {
	root, err := m.RootFor(userID)
	if err != nil {
		return nil, err
	}
	st := m.stateFor(userID, root)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.ensureLoaded(root, userID); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	index := &Index{UserID: userID, Files: []FileIndexEntry{}}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		seen[rel] = true

		entry, ok := st.state.Files[rel]
		fresh := ok && !force && !st.dirty[rel] &&
			entry.Size == info.Size() && entry.Modified.Equal(info.ModTime().UTC())
		if !fresh {
			hash, err := hashFile(path)
			if err != nil {
				return err
			}
			source := entry.Source
			if source == "" || !ok {
				source = SourceLocal
			}
			entry = FileMetadata{
				Path:            rel,
				Hash:            hash,
				Size:            info.Size(),
				Modified:        info.ModTime().UTC(),
				Source:          source,
				OpenWebUIFileID: entry.OpenWebUIFileID,
				SyncedAt:        entry.SyncedAt,
			}
			st.state.Files[rel] = entry
			delete(st.dirty, rel)
		}
		index.Files = append(index.Files, FileIndexEntry{
			Path:     rel,
			Hash:     entry.Hash,
			Size:     entry.Size,
			Modified: entry.Modified,
		})
		index.TotalSize += entry.Size
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk workspace: %w", walkErr)
	}

	// Drop index entries for files that vanished.
	for rel := range st.state.Files {
		if !seen[rel] {
			delete(st.state.Files, rel)
		}
	}
	if err := st.save(root); err != nil {
		return nil, err
	}
	return index, nil
}
