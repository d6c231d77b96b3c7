package blockstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/youlab/tutord/internal/apperr"
)

const agentEmail = "agent@youlab.local"

// ProposalEnvelope is the JSON metadata stored as the full commit message
// of every proposal commit. Unknown fields are tolerated on decode.
type ProposalEnvelope struct {
	AgentID    string `json:"agent_id"`
	Reasoning  string `json:"reasoning"`
	Confidence string `json:"confidence"`
	BlockLabel string `json:"block_label"`
	UserID     string `json:"user_id"`
}

// Proposal describes one pending proposal branch.
type Proposal struct {
	Branch     string    `json:"branch"`
	BlockLabel string    `json:"block_label"`
	AgentID    string    `json:"agent_id"`
	Reasoning  string    `json:"reasoning"`
	Confidence string    `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProposalDiff is the content diff between main and a proposal branch.
type ProposalDiff struct {
	CurrentBody  string    `json:"current_body"`
	ProposedBody string    `json:"proposed_body"`
	AgentID      string    `json:"agent_id"`
	Reasoning    string    `json:"reasoning"`
	Confidence   string    `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProposalBranch returns the deterministic branch name for a proposal.
func ProposalBranch(userID, label string) string {
	return fmt.Sprintf("agent/%s/%s", userID, label)
}

// checkoutMain switches the working tree back to main. Called on every
// exit path of branch-touching operations so foreground reads and writes
// always see main.
func checkoutMain(ctx context.Context, dir string) {
	if _, err := git(ctx, dir, "checkout", "main"); err != nil {
		slog.Error("failed to restore main checkout", "dir", dir, "error", err)
	}
}

// CreateProposal records an agent edit on the proposal branch for
// (userID, label), creating the branch off main on first use. Only the
// body changes; title and schema are carried over unchanged.
func (s *Store) CreateProposal(ctx context.Context, userID, label, newBody, agentID, reasoning, confidence string) (string, error) {
	if err := validateLabel(label); err != nil {
		return "", err
	}
	if !s.UserExists(userID) {
		return "", apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.UserDir(userID)
	if _, ok := showFile(ctx, dir, "main", blockPath(label)); !ok {
		return "", apperr.New(apperr.CodeBlockNotFound, "block %q not found", label)
	}

	branch := ProposalBranch(userID, label)
	if branchExists(ctx, dir, branch) {
		if _, err := git(ctx, dir, "checkout", branch); err != nil {
			return "", err
		}
	} else {
		if _, err := git(ctx, dir, "checkout", "-b", branch, "main"); err != nil {
			return "", err
		}
	}
	defer checkoutMain(ctx, dir)

	existing, ok := showFile(ctx, dir, branch, blockPath(label))
	if !ok {
		return "", apperr.New(apperr.CodeBlockNotFound, "block %q not found on %s", label, branch)
	}
	meta, _ := parseFrontMatter(existing)
	meta.Block = label
	if meta.Title == "" {
		meta.Title = defaultTitle(label)
	}
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	rendered, err := renderBlockFile(meta, newBody)
	if err != nil {
		return "", err
	}

	envelope, err := json.Marshal(ProposalEnvelope{
		AgentID:    agentID,
		Reasoning:  reasoning,
		Confidence: confidence,
		BlockLabel: label,
		UserID:     userID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal proposal envelope: %w", err)
	}

	abs := filepath.Join(dir, filepath.FromSlash(blockPath(label)))
	if err := os.WriteFile(abs, []byte(rendered), 0o644); err != nil {
		return "", fmt.Errorf("write proposal file: %w", err)
	}
	if _, err := git(ctx, dir, "add", blockPath(label)); err != nil {
		return "", err
	}
	if gitOK(ctx, dir, "diff", "--cached", "--quiet") {
		// Proposed body matches the branch tip; nothing to record.
		return branch, nil
	}
	if _, err := git(ctx, dir,
		"-c", "user.name=agent:"+agentID,
		"-c", "user.email="+agentEmail,
		"commit", "-m", string(envelope)); err != nil {
		return "", err
	}
	return branch, nil
}

// ListProposals enumerates the pending proposal branches of a user.
func (s *Store) ListProposals(ctx context.Context, userID string) ([]Proposal, error) {
	if !s.UserExists(userID) {
		return nil, apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	dir := s.UserDir(userID)
	out, err := git(ctx, dir, "for-each-ref", "--format=%(refname:short)",
		"refs/heads/agent/"+userID+"/")
	if err != nil {
		return nil, err
	}
	var proposals []Proposal
	for _, branch := range strings.Split(out, "\n") {
		branch = strings.TrimSpace(branch)
		if branch == "" {
			continue
		}
		env, createdAt, err := s.tipEnvelope(ctx, dir, branch)
		if err != nil {
			slog.Warn("skipping unreadable proposal branch", "branch", branch, "error", err)
			continue
		}
		segments := strings.Split(branch, "/")
		proposals = append(proposals, Proposal{
			Branch:     branch,
			BlockLabel: segments[len(segments)-1],
			AgentID:    env.AgentID,
			Reasoning:  env.Reasoning,
			Confidence: env.Confidence,
			CreatedAt:  createdAt,
		})
	}
	return proposals, nil
}

// tipEnvelope reads and decodes the tip commit message of a branch.
// Non-JSON messages yield an empty envelope, not an error.
func (s *Store) tipEnvelope(ctx context.Context, dir, branch string) (ProposalEnvelope, time.Time, error) {
	out, err := git(ctx, dir, "log", "-1", "--pretty=format:%B%x1f%aI", branch)
	if err != nil {
		return ProposalEnvelope{}, time.Time{}, err
	}
	parts := strings.SplitN(out, "\x1f", 2)
	var env ProposalEnvelope
	_ = json.Unmarshal([]byte(strings.TrimSpace(parts[0])), &env)
	var ts time.Time
	if len(parts) == 2 {
		ts, _ = time.Parse(time.RFC3339, strings.TrimSpace(parts[1]))
	}
	return env, ts, nil
}

// GetProposalDiff returns the current and proposed body of a block, with
// the tip envelope, or DiffNotFound when no proposal branch exists.
func (s *Store) GetProposalDiff(ctx context.Context, userID, label string) (*ProposalDiff, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	if !s.UserExists(userID) {
		return nil, apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	dir := s.UserDir(userID)
	branch := ProposalBranch(userID, label)
	if !branchExists(ctx, dir, branch) {
		return nil, apperr.New(apperr.CodeDiffNotFound, "no pending proposal for block %q", label)
	}
	current, _ := showFile(ctx, dir, "main", blockPath(label))
	proposed, ok := showFile(ctx, dir, branch, blockPath(label))
	if !ok {
		return nil, apperr.New(apperr.CodeBlockNotFound, "block %q not found on %s", label, branch)
	}
	env, createdAt, err := s.tipEnvelope(ctx, dir, branch)
	if err != nil {
		return nil, err
	}
	_, currentBody := parseFrontMatter(current)
	_, proposedBody := parseFrontMatter(proposed)
	return &ProposalDiff{
		CurrentBody:  currentBody,
		ProposedBody: proposedBody,
		AgentID:      env.AgentID,
		Reasoning:    env.Reasoning,
		Confidence:   env.Confidence,
		CreatedAt:    createdAt,
	}, nil
}

// ApproveProposal merges the proposal branch into main and deletes it.
// A merge conflict aborts the merge, restores main, and fails with
// ProposalConflict; the agent must re-read and re-propose.
func (s *Store) ApproveProposal(ctx context.Context, userID, label string) (string, error) {
	if err := validateLabel(label); err != nil {
		return "", err
	}
	if !s.UserExists(userID) {
		return "", apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.UserDir(userID)
	branch := ProposalBranch(userID, label)
	if !branchExists(ctx, dir, branch) {
		return "", apperr.New(apperr.CodeDiffNotFound, "no pending proposal for block %q", label)
	}

	env, _, err := s.tipEnvelope(ctx, dir, branch)
	if err != nil {
		return "", err
	}
	reasoning := env.Reasoning
	if len(reasoning) > 50 {
		reasoning = reasoning[:50]
	}
	message := "Approve agent proposal: " + reasoning

	if _, err := git(ctx, dir, "checkout", "main"); err != nil {
		return "", err
	}
	if _, err := git(ctx, dir, "merge", branch, "-m", message); err != nil {
		if _, abortErr := git(ctx, dir, "merge", "--abort"); abortErr != nil {
			slog.Error("merge abort failed", "user", userID, "block", label, "error", abortErr)
		}
		checkoutMain(ctx, dir)
		return "", apperr.Wrap(apperr.CodeProposalConflict, err,
			"proposal for block %q conflicts with current main", label)
	}
	sha, err := headSHA(ctx, dir, "HEAD")
	if err != nil {
		return "", err
	}
	if _, err := git(ctx, dir, "branch", "-D", branch); err != nil {
		return "", err
	}
	return sha, nil
}

// RejectProposal force-deletes the proposal branch. Returns whether a
// branch existed.
func (s *Store) RejectProposal(ctx context.Context, userID, label string) (bool, error) {
	if err := validateLabel(label); err != nil {
		return false, err
	}
	if !s.UserExists(userID) {
		return false, apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.UserDir(userID)
	branch := ProposalBranch(userID, label)
	if !branchExists(ctx, dir, branch) {
		return false, nil
	}
	checkoutMain(ctx, dir)
	if _, err := git(ctx, dir, "branch", "-D", branch); err != nil {
		return false, err
	}
	return true, nil
}
