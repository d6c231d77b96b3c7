package blockstore

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youlab/tutord/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	return New(t.TempDir())
}

func TestInitIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx, "u1"))
	head1, err := headSHA(ctx, s.UserDir("u1"), "HEAD")
	require.NoError(t, err)

	require.NoError(t, s.Init(ctx, "u1"))
	head2, err := headSHA(ctx, s.UserDir("u1"), "HEAD")
	require.NoError(t, err)
	assert.Equal(t, head1, head2, "second init must not create commits")
}

func TestWriteReadBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sha, err := s.WriteBlock(ctx, "u1", "student", "The student likes math.", WriteOptions{Author: AuthorUser})
	require.NoError(t, err)
	require.Len(t, sha, 40)

	block, err := s.ReadBlock(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "The student likes math.", block.Body)
	assert.Equal(t, "Student", block.Title)
	assert.NotEmpty(t, block.UpdatedAt)

	labels, err := s.ListBlocks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"student"}, labels)
}

func TestWriteBlockPreservesTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBlock(ctx, "u1", "goals", "v1", WriteOptions{Title: "Learning Goals"})
	require.NoError(t, err)
	_, err = s.WriteBlock(ctx, "u1", "goals", "v2", WriteOptions{})
	require.NoError(t, err)

	block, err := s.ReadBlock(ctx, "u1", "goals")
	require.NoError(t, err)
	assert.Equal(t, "Learning Goals", block.Title)
	assert.Equal(t, "v2", block.Body)
}

func TestWriteBlockSkipsEmptyCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBlock(ctx, "u1", "student", "same body", WriteOptions{})
	require.NoError(t, err)
	before, err := s.History(ctx, "u1", "student", 50)
	require.NoError(t, err)

	// Identical content only bumps updated_at, which still commits; a
	// byte-identical file must not.
	block, err := s.ReadBlock(ctx, "u1", "student")
	require.NoError(t, err)
	sha, err := s.commitFileLocked(ctx, s.UserDir("u1"), blockPath("student"), block.Raw, "noop\n\nAuthor: system")
	require.NoError(t, err)
	assert.Equal(t, before[0].CommitSHA, sha)
}

func TestHistoryAndRestore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBlock(ctx, "u1", "student", "first", WriteOptions{Author: AuthorUser, Message: "Create student"})
	require.NoError(t, err)
	_, err = s.WriteBlock(ctx, "u1", "student", "second", WriteOptions{Author: "agent:ralph"})
	require.NoError(t, err)

	versions, err := s.History(ctx, "u1", "student", 10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].IsCurrent)
	assert.False(t, versions[1].IsCurrent)
	assert.Equal(t, "agent:ralph", versions[0].Author)
	assert.Equal(t, AuthorUser, versions[1].Author)
	assert.Equal(t, "Create student", versions[1].Message)

	old, err := s.ReadAtVersion(ctx, "u1", "student", versions[1].CommitSHA)
	require.NoError(t, err)
	_, oldBody := parseFrontMatter(old)
	assert.Equal(t, "first", oldBody)

	_, err = s.Restore(ctx, "u1", "student", versions[1].CommitSHA)
	require.NoError(t, err)
	block, err := s.ReadBlock(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "first", block.Body)

	after, err := s.History(ctx, "u1", "student", 10)
	require.NoError(t, err)
	assert.Equal(t, "Restore student to version "+versions[1].CommitSHA[:8], after[0].Message)
}

func TestReadAtVersionUnknownSHA(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBlock(ctx, "u1", "student", "body", WriteOptions{})
	require.NoError(t, err)
	_, err = s.ReadAtVersion(ctx, "u1", "student", "0000000000000000000000000000000000000000")
	assert.True(t, apperr.Is(err, apperr.CodeVersionNotFound))
}

func TestDeleteBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBlock(ctx, "u1", "student", "body", WriteOptions{})
	require.NoError(t, err)

	sha, deleted, err := s.DeleteBlock(ctx, "u1", "student", AuthorUser)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Len(t, sha, 40)

	_, err = s.ReadBlock(ctx, "u1", "student")
	assert.True(t, apperr.Is(err, apperr.CodeBlockNotFound))

	_, deleted, err = s.DeleteBlock(ctx, "u1", "student", AuthorUser)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestReadBlockUnknownUser(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadBlock(context.Background(), "ghost", "student")
	assert.True(t, apperr.Is(err, apperr.CodeUserNotFound))
}

func TestInvalidLabelRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteBlock(context.Background(), "u1", "../escape", "x", WriteOptions{})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))
}
