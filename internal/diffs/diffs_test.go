package diffs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youlab/tutord/internal/apperr"
)

func TestSaveGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	d := NewPendingDiff("u1", "ralph", "student", OpFullReplace, "old", "new", "reason", "medium")
	require.NoError(t, s.Save("u1", d))

	got, err := s.Get("u1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "new", got.ProposedValue)
	assert.Nil(t, got.ReviewedAt)
}

func TestGetMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Get("u1", "nope")
	assert.True(t, apperr.Is(err, apperr.CodeDiffNotFound))
}

func TestListPendingNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())

	older := NewPendingDiff("u1", "ralph", "student", OpFullReplace, "a", "b", "r1", "low")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := NewPendingDiff("u1", "scribe", "student", OpFullReplace, "a", "c", "r2", "high")
	otherBlock := NewPendingDiff("u1", "ralph", "goals", OpFullReplace, "x", "y", "r3", "low")
	require.NoError(t, s.Save("u1", older))
	require.NoError(t, s.Save("u1", newer))
	require.NoError(t, s.Save("u1", otherBlock))

	all, err := s.ListPending("u1", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, !all[0].CreatedAt.Before(all[1].CreatedAt))

	student, err := s.ListPending("u1", "student")
	require.NoError(t, err)
	require.Len(t, student, 2)
	assert.Equal(t, newer.ID, student[0].ID)

	counts, err := s.CountPending("u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"student": 2, "goals": 1}, counts)
}

func TestUpdateStatusLattice(t *testing.T) {
	s := NewStore(t.TempDir())
	d := NewPendingDiff("u1", "ralph", "student", OpFullReplace, "a", "b", "r", "low")
	require.NoError(t, s.Save("u1", d))

	got, err := s.UpdateStatus("u1", d.ID, StatusApproved, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "abc123", got.AppliedCommit)
	require.NotNil(t, got.ReviewedAt)

	// Terminal states are frozen.
	_, err = s.UpdateStatus("u1", d.ID, StatusRejected, "")
	assert.True(t, apperr.Is(err, apperr.CodeProposalStale))
}

func TestSupersedeOlder(t *testing.T) {
	s := NewStore(t.TempDir())
	keep := NewPendingDiff("u1", "ralph", "student", OpFullReplace, "a", "b", "r", "low")
	other1 := NewPendingDiff("u1", "scribe", "student", OpFullReplace, "a", "c", "r", "low")
	other2 := NewPendingDiff("u1", "scribe", "student", OpFullReplace, "a", "d", "r", "low")
	unrelated := NewPendingDiff("u1", "ralph", "goals", OpFullReplace, "x", "y", "r", "low")
	for _, d := range []*PendingDiff{keep, other1, other2, unrelated} {
		require.NoError(t, s.Save("u1", d))
	}

	n, err := s.SupersedeOlder("u1", "student", keep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	kept, err := s.Get("u1", keep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, kept.Status)

	gone, err := s.Get("u1", other1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, gone.Status)

	still, err := s.Get("u1", unrelated.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, still.Status)
}
