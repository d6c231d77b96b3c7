package blockstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youlab/tutord/internal/apperr"
)

func seedBlock(t *testing.T, s *Store, userID, label, body string) {
	t.Helper()
	_, err := s.WriteBlock(context.Background(), userID, label, body, WriteOptions{Author: AuthorUser})
	require.NoError(t, err)
}

func TestCreateProposalAndDiff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "u1", "student", "The student likes math.")

	branch, err := s.CreateProposal(ctx, "u1", "student", "The student loves mathematics.", "ralph", "Student expressed stronger enthusiasm", "medium")
	require.NoError(t, err)
	assert.Equal(t, "agent/u1/student", branch)

	// The working tree must be back on main: a direct read still sees the
	// original body.
	block, err := s.ReadBlock(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "The student likes math.", block.Body)

	diff, err := s.GetProposalDiff(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "The student likes math.", diff.CurrentBody)
	assert.Equal(t, "The student loves mathematics.", diff.ProposedBody)
	assert.Equal(t, "ralph", diff.AgentID)
	assert.Equal(t, "medium", diff.Confidence)
	assert.Equal(t, "Student expressed stronger enthusiasm", diff.Reasoning)
}

func TestProposalBranchIsReused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "u1", "student", "v0")

	_, err := s.CreateProposal(ctx, "u1", "student", "v1", "ralph", "first pass", "low")
	require.NoError(t, err)
	_, err = s.CreateProposal(ctx, "u1", "student", "v2", "scribe", "second pass", "high")
	require.NoError(t, err)

	proposals, err := s.ListProposals(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, proposals, 1, "at most one branch per (user, block)")
	assert.Equal(t, "student", proposals[0].BlockLabel)
	assert.Equal(t, "scribe", proposals[0].AgentID, "tip envelope wins")

	diff, err := s.GetProposalDiff(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "v2", diff.ProposedBody)
}

func TestApproveProposal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "u1", "student", "The student likes math.")

	_, err := s.CreateProposal(ctx, "u1", "student", "The student loves mathematics.", "ralph",
		"Student expressed stronger enthusiasm for the subject today", "medium")
	require.NoError(t, err)

	before, err := s.History(ctx, "u1", "student", 50)
	require.NoError(t, err)

	sha, err := s.ApproveProposal(ctx, "u1", "student")
	require.NoError(t, err)
	require.Len(t, sha, 40)

	block, err := s.ReadBlock(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "The student loves mathematics.", block.Body)

	after, err := s.History(ctx, "u1", "student", 50)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(after), len(before)+1)

	proposals, err := s.ListProposals(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, proposals, "approved branch is deleted")

	_, err = s.GetProposalDiff(ctx, "u1", "student")
	assert.True(t, apperr.Is(err, apperr.CodeDiffNotFound))
}

func TestApproveConflictFailsLoud(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "u1", "student", "line one\nline two\n")

	_, err := s.CreateProposal(ctx, "u1", "student", "line one AGENT EDIT\nline two\n", "ralph", "agent view", "low")
	require.NoError(t, err)

	// main advances with a conflicting human edit on the same line.
	seedBlock(t, s, "u1", "student", "line one HUMAN EDIT\nline two\n")

	_, err = s.ApproveProposal(ctx, "u1", "student")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeProposalConflict))

	// main is restored and readable after the aborted merge.
	block, err := s.ReadBlock(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "line one HUMAN EDIT\nline two\n", block.Body)
}

func TestRejectProposal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "u1", "student", "body")

	existed, err := s.RejectProposal(ctx, "u1", "student")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.CreateProposal(ctx, "u1", "student", "new body", "ralph", "r", "low")
	require.NoError(t, err)

	existed, err = s.RejectProposal(ctx, "u1", "student")
	require.NoError(t, err)
	assert.True(t, existed)

	block, err := s.ReadBlock(ctx, "u1", "student")
	require.NoError(t, err)
	assert.Equal(t, "body", block.Body, "rejection leaves main untouched")
}

func TestCreateProposalUnknownBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, "u1"))

	_, err := s.CreateProposal(ctx, "u1", "missing", "body", "ralph", "r", "low")
	assert.True(t, apperr.Is(err, apperr.CodeBlockNotFound))
}
