package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youlab/tutord/internal/apperr"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), "", 1024)
	t.Cleanup(m.Close)
	return m
}

func TestWriteReadDelete(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.WriteFile("u1", "notes/essay.md", []byte("draft one")))

	data, err := m.ReadFile("u1", "notes/essay.md")
	require.NoError(t, err)
	assert.Equal(t, "draft one", string(data))

	require.NoError(t, m.DeleteFile("u1", "notes/essay.md"))
	_, err = m.ReadFile("u1", "notes/essay.md")
	require.Error(t, err)

	// Deleting again is not an error.
	require.NoError(t, m.DeleteFile("u1", "notes/essay.md"))
}

func TestPathEscapeRejected(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.WriteFile("u1", "ok.txt", []byte("x")))

	for _, p := range []string{"../outside.txt", "a/../../outside.txt", ""} {
		t.Run(p, func(t *testing.T) {
			err := m.WriteFile("u1", p, []byte("x"))
			assert.True(t, apperr.Is(err, apperr.CodeInvalidPath), "path %q: %v", p, err)
		})
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	m := newManager(t)
	root, err := m.RootFor("u1")
	require.NoError(t, err)

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	err = m.WriteFile("u1", "link/file.txt", []byte("x"))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidPath))
}

func TestFileSizeCap(t *testing.T) {
	m := newManager(t)
	err := m.WriteFile("u1", "big.bin", make([]byte, 2048))
	assert.True(t, apperr.Is(err, apperr.CodeFileTooLarge))
}

func TestListFilesIndex(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.WriteFile("u1", "a.txt", []byte("aaa")))
	require.NoError(t, m.WriteFile("u1", "sub/b.txt", []byte("bbbb")))

	index, err := m.ListFiles("u1")
	require.NoError(t, err)
	require.Len(t, index.Files, 2)
	assert.Equal(t, int64(7), index.TotalSize)
	for _, f := range index.Files {
		assert.True(t, strings.HasPrefix(f.Hash, "sha256:"), "hash %q", f.Hash)
	}

	// The state file itself never appears in the listing.
	root, err := m.RootFor("u1")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, ".sync_state.json"))
	require.NoError(t, err)
	for _, f := range index.Files {
		assert.NotEqual(t, ".sync_state.json", f.Path)
	}
}

func TestIndexDetectsExternalEdits(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.WriteFile("u1", "a.txt", []byte("old")))

	first, err := m.ListFiles("u1")
	require.NoError(t, err)
	oldHash := first.Files[0].Hash

	// Edit behind the manager's back.
	root, err := m.RootFor("u1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("new content"), 0o644))

	refreshed, err := m.RefreshIndex("u1")
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, refreshed.Files[0].Hash)
	assert.Equal(t, int64(len("new content")), refreshed.Files[0].Size)
}

func TestProjectInstructions(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, "", m.ProjectInstructions("u1"))

	require.NoError(t, m.WriteFile("u1", "CLAUDE.md", []byte("Always answer in haiku.")))
	assert.Equal(t, "Always answer in haiku.", m.ProjectInstructions("u1"))
}

func TestSharedWorkspace(t *testing.T) {
	shared := t.TempDir()
	m := NewManager(t.TempDir(), shared, 1024)
	t.Cleanup(m.Close)

	require.NoError(t, m.WriteFile("alice", "common.txt", []byte("hello")))
	data, err := m.ReadFile("bob", "common.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
