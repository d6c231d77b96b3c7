package blockstore

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// git runs a git command inside dir and returns trimmed stdout+stderr.
// Failures carry the command output so callers can log the real cause.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// gitOK runs a git command and reports only whether it succeeded.
// Used for probes like show-ref where a non-zero exit is an answer.
func gitOK(ctx context.Context, dir string, args ...string) bool {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Run() == nil
}

// branchExists checks for a local branch ref.
func branchExists(ctx context.Context, dir, branch string) bool {
	return gitOK(ctx, dir, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
}

// showFile reads a file's content from a commit tree, bypassing the
// working directory entirely. Returns ok=false when the path does not
// exist in that tree.
func showFile(ctx context.Context, dir, rev, path string) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", "show", rev+":"+path)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

// headSHA returns the full SHA of the given rev.
func headSHA(ctx context.Context, dir, rev string) (string, error) {
	return git(ctx, dir, "rev-parse", rev)
}
