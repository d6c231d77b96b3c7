// Package diffs maintains the pending-diff index: one JSON document per
// in-flight proposal, stored under the user directory. The index is the
// source of truth for diff lifecycle state; the git branch is the source
// of truth for content.
package diffs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youlab/tutord/internal/apperr"
)

// Diff statuses. Transitions obey pending -> {approved, rejected,
// superseded, expired}; terminal states never change again.
const (
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusSuperseded = "superseded"
	StatusExpired    = "expired"
)

// Operations an agent may request. Application is always a full body
// replace; the requested operation is recorded for audit only.
const (
	OpAppend      = "append"
	OpReplace     = "replace"
	OpLLMDiff     = "llm_diff"
	OpFullReplace = "full_replace"
)

// PendingDiff is one proposal lifecycle record.
type PendingDiff struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	AgentID       string     `json:"agent_id"`
	BlockLabel    string     `json:"block_label"`
	Field         string     `json:"field,omitempty"`
	Operation     string     `json:"operation"`
	CurrentValue  string     `json:"current_value"`
	ProposedValue string     `json:"proposed_value"`
	Reasoning     string     `json:"reasoning"`
	Confidence    string     `json:"confidence"`
	SourceQuery   string     `json:"source_query,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	AppliedCommit string     `json:"applied_commit,omitempty"`
}

// NewPendingDiff builds a pending record with a fresh UUID.
func NewPendingDiff(userID, agentID, label, operation, current, proposed, reasoning, confidence string) *PendingDiff {
	return &PendingDiff{
		ID:            uuid.NewString(),
		UserID:        userID,
		AgentID:       agentID,
		BlockLabel:    label,
		Operation:     operation,
		CurrentValue:  current,
		ProposedValue: proposed,
		Reasoning:     reasoning,
		Confidence:    confidence,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// Store reads and writes diff records under
// {dataRoot}/users/{user_id}/pending_diffs/{id}.json.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore creates a Store rooted at dataRoot.
func NewStore(dataRoot string) *Store {
	return &Store{root: dataRoot}
}

func (s *Store) userDir(userID string) string {
	return filepath.Join(s.root, "users", userID, "pending_diffs")
}

func (s *Store) diffPath(userID, id string) string {
	return filepath.Join(s.userDir(userID), id+".json")
}

// Save persists a diff record, overwriting any prior version.
func (s *Store) Save(userID string, d *PendingDiff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(userID, d)
}

func (s *Store) saveLocked(userID string, d *PendingDiff) error {
	if err := os.MkdirAll(s.userDir(userID), 0o755); err != nil {
		return fmt.Errorf("create pending_diffs dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}
	if err := os.WriteFile(s.diffPath(userID, d.ID), data, 0o644); err != nil {
		return fmt.Errorf("write diff: %w", err)
	}
	return nil
}

// Get loads one diff by id.
func (s *Store) Get(userID, id string) (*PendingDiff, error) {
	data, err := os.ReadFile(s.diffPath(userID, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.CodeDiffNotFound, "diff %q not found", id)
		}
		return nil, fmt.Errorf("read diff: %w", err)
	}
	var d PendingDiff
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode diff %s: %w", id, err)
	}
	return &d, nil
}

// listAll loads every diff record for a user. Unreadable files are
// skipped.
func (s *Store) listAll(userID string) ([]*PendingDiff, error) {
	entries, err := os.ReadDir(s.userDir(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending_diffs dir: %w", err)
	}
	var out []*PendingDiff
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		d, err := s.Get(userID, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ListPending returns the user's pending diffs, optionally filtered by
// block label, newest first.
func (s *Store) ListPending(userID, blockLabel string) ([]*PendingDiff, error) {
	all, err := s.listAll(userID)
	if err != nil {
		return nil, err
	}
	var out []*PendingDiff
	for _, d := range all {
		if d.Status != StatusPending {
			continue
		}
		if blockLabel != "" && d.BlockLabel != blockLabel {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountPending returns the number of pending diffs per block label.
func (s *Store) CountPending(userID string) (map[string]int, error) {
	pending, err := s.ListPending(userID, "")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, d := range pending {
		counts[d.BlockLabel]++
	}
	return counts, nil
}

// UpdateStatus transitions a diff out of pending and stamps reviewed_at.
// Transitions from a terminal state fail with ProposalStale.
func (s *Store) UpdateStatus(userID, id, status, appliedCommit string) (*PendingDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending {
		return nil, apperr.New(apperr.CodeProposalStale, "diff %q is %s, not pending", id, d.Status)
	}
	now := time.Now().UTC()
	d.Status = status
	d.ReviewedAt = &now
	if appliedCommit != "" {
		d.AppliedCommit = appliedCommit
	}
	if err := s.saveLocked(userID, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SupersedeOlder marks every still-pending diff on the block except
// keepID as superseded. Returns the count transitioned.
func (s *Store) SupersedeOlder(userID, blockLabel, keepID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.listAll(userID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	count := 0
	for _, d := range all {
		if d.Status != StatusPending || d.BlockLabel != blockLabel || d.ID == keepID {
			continue
		}
		d.Status = StatusSuperseded
		d.ReviewedAt = &now
		if err := s.saveLocked(userID, d); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
