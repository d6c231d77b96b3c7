// Package blockstore implements the per-user versioned memory-block store.
// Every user owns a standalone git repository under the data root; every
// mutation is a commit on main, and agent-proposed edits live on branches
// until a human approves or rejects them.
package blockstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/youlab/tutord/internal/apperr"
)

const (
	blocksDir = "memory-blocks"

	systemName  = "YouLab System"
	systemEmail = "system@youlab.local"

	// AuthorUser and AuthorSystem name the two non-agent commit authors
	// recorded in the "Author:" message footer.
	AuthorUser   = "user"
	AuthorSystem = "system"
)

var labelRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Block is a memory block read from the store.
type Block struct {
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	Title     string `json:"title"`
	Schema    string `json:"schema_ref,omitempty"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Raw       string `json:"-"`
}

// BlockVersion is one commit touching a block file.
type BlockVersion struct {
	CommitSHA string    `json:"commit_sha"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	IsCurrent bool      `json:"is_current"`
}

// WriteOptions carries the optional fields of a block write.
type WriteOptions struct {
	Message string
	Author  string
	Title   string
	Schema  string
}

// Store manages per-user git repositories under root/users/{user_id}.
// All mutations to one user's repo are serialized by a per-user mutex.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at dataRoot.
func New(dataRoot string) *Store {
	return &Store{root: dataRoot, locks: make(map[string]*sync.Mutex)}
}

// UserDir returns the repository directory for a user.
func (s *Store) UserDir(userID string) string {
	return filepath.Join(s.root, "users", userID)
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// UserExists reports whether a user's repository has been initialized.
func (s *Store) UserExists(userID string) bool {
	_, err := os.Stat(filepath.Join(s.UserDir(userID), ".git"))
	return err == nil
}

func blockPath(label string) string {
	return blocksDir + "/" + label + ".md"
}

func validateLabel(label string) error {
	if !labelRe.MatchString(label) {
		return apperr.New(apperr.CodeInvalidInput, "invalid block label %q", label)
	}
	return nil
}

// Init creates and initializes a user's repository. Idempotent: a repo
// that already exists is left untouched.
func (s *Store) Init(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.initLocked(ctx, userID)
}

func (s *Store) initLocked(ctx context.Context, userID string) error {
	dir := s.UserDir(userID)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(dir, blocksDir), 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	if _, err := git(ctx, dir, "init", "-b", "main"); err != nil {
		return err
	}
	if _, err := git(ctx, dir, "config", "user.name", systemName); err != nil {
		return err
	}
	if _, err := git(ctx, dir, "config", "user.email", systemEmail); err != nil {
		return err
	}
	gitignore := ".DS_Store\n*.tmp\n.sync_state.json\nworkspace/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	if _, err := git(ctx, dir, "add", ".gitignore"); err != nil {
		return err
	}
	if _, err := git(ctx, dir, "commit", "-m", "Initialize user storage"); err != nil {
		return err
	}
	return nil
}

// ListBlocks enumerates block labels from the main tree.
func (s *Store) ListBlocks(ctx context.Context, userID string) ([]string, error) {
	if !s.UserExists(userID) {
		return nil, apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	out, err := git(ctx, s.UserDir(userID), "ls-tree", "--name-only", "main", blocksDir+"/")
	if err != nil {
		// A repo with no block commits yet has no memory-blocks tree.
		return nil, nil
	}
	var labels []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, ".md") {
			continue
		}
		labels = append(labels, strings.TrimSuffix(filepath.Base(line), ".md"))
	}
	return labels, nil
}

// ReadBlock reads a block from the main tree, never from the working
// directory, so concurrent proposal checkouts cannot leak into readers.
func (s *Store) ReadBlock(ctx context.Context, userID, label string) (*Block, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	if !s.UserExists(userID) {
		return nil, apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	content, ok := showFile(ctx, s.UserDir(userID), "main", blockPath(label))
	if !ok {
		return nil, apperr.New(apperr.CodeBlockNotFound, "block %q not found", label)
	}
	meta, body := parseFrontMatter(content)
	title := meta.Title
	if title == "" {
		title = defaultTitle(label)
	}
	return &Block{
		UserID:    userID,
		Label:     label,
		Title:     title,
		Schema:    meta.Schema,
		Body:      body,
		UpdatedAt: meta.UpdatedAt,
		Raw:       content,
	}, nil
}

// WriteBlock writes a block and commits it on main. Incoming front-matter
// in content is merged with server-injected fields; empty commits are
// skipped and return the current head.
func (s *Store) WriteBlock(ctx context.Context, userID, label, content string, opts WriteOptions) (string, error) {
	if err := validateLabel(label); err != nil {
		return "", err
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.initLocked(ctx, userID); err != nil {
		return "", err
	}
	dir := s.UserDir(userID)

	incoming, body := parseFrontMatter(content)
	meta := Metadata{
		Block:     label,
		Title:     opts.Title,
		Schema:    opts.Schema,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if meta.Title == "" {
		meta.Title = incoming.Title
	}
	if meta.Schema == "" {
		meta.Schema = incoming.Schema
	}
	if meta.Title == "" {
		if existing, ok := showFile(ctx, dir, "main", blockPath(label)); ok {
			prev, _ := parseFrontMatter(existing)
			meta.Title = prev.Title
		}
	}
	if meta.Title == "" {
		meta.Title = defaultTitle(label)
	}

	rendered, err := renderBlockFile(meta, body)
	if err != nil {
		return "", err
	}

	author := opts.Author
	if author == "" {
		author = AuthorSystem
	}
	message := opts.Message
	if message == "" {
		message = "Update " + label
	}
	return s.commitFileLocked(ctx, dir, blockPath(label), rendered, message+"\n\nAuthor: "+author)
}

// commitFileLocked writes path inside dir, stages it, and commits. The
// caller must hold the user lock and the working tree must be on main.
func (s *Store) commitFileLocked(ctx context.Context, dir, path, content, message string) (string, error) {
	abs := filepath.Join(dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create block dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write block file: %w", err)
	}
	if _, err := git(ctx, dir, "add", path); err != nil {
		return "", err
	}
	if gitOK(ctx, dir, "diff", "--cached", "--quiet") {
		// Nothing staged; skip the empty commit.
		return headSHA(ctx, dir, "HEAD")
	}
	if _, err := git(ctx, dir, "commit", "-m", message); err != nil {
		return "", err
	}
	return headSHA(ctx, dir, "HEAD")
}

// History returns the commits touching a block, newest first. The author
// is recovered from the "Author:" footer of each commit message; the
// returned message is the subject line only.
func (s *Store) History(ctx context.Context, userID, label string, limit int) ([]BlockVersion, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	if !s.UserExists(userID) {
		return nil, apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	if limit <= 0 {
		limit = 20
	}
	out, err := git(ctx, s.UserDir(userID), "log",
		"--pretty=format:%H%x1f%B%x1f%aI%x1e",
		"-n", fmt.Sprintf("%d", limit),
		"main", "--", blockPath(label))
	if err != nil {
		return nil, apperr.New(apperr.CodeBlockNotFound, "block %q not found", label)
	}
	var versions []BlockVersion
	for _, record := range strings.Split(out, "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		parts := strings.SplitN(record, "\x1f", 3)
		if len(parts) != 3 {
			continue
		}
		fullMsg := parts[1]
		ts, _ := time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
		versions = append(versions, BlockVersion{
			CommitSHA: parts[0],
			Message:   firstLine(fullMsg),
			Author:    extractAuthor(fullMsg),
			Timestamp: ts,
		})
	}
	if len(versions) == 0 {
		return nil, apperr.New(apperr.CodeBlockNotFound, "block %q not found", label)
	}
	versions[0].IsCurrent = true
	return versions, nil
}

// ReadAtVersion returns the raw file content at a specific commit.
func (s *Store) ReadAtVersion(ctx context.Context, userID, label, commitSHA string) (string, error) {
	if err := validateLabel(label); err != nil {
		return "", err
	}
	if !s.UserExists(userID) {
		return "", apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	content, ok := showFile(ctx, s.UserDir(userID), commitSHA, blockPath(label))
	if !ok {
		return "", apperr.New(apperr.CodeVersionNotFound, "block %q has no version %s", label, commitSHA)
	}
	return content, nil
}

// Restore rewrites a block with its content at an earlier commit. The
// restore itself is a new commit on main.
func (s *Store) Restore(ctx context.Context, userID, label, commitSHA string) (string, error) {
	old, err := s.ReadAtVersion(ctx, userID, label, commitSHA)
	if err != nil {
		return "", err
	}
	short := commitSHA
	if len(short) > 8 {
		short = short[:8]
	}
	return s.WriteBlock(ctx, userID, label, old, WriteOptions{
		Message: fmt.Sprintf("Restore %s to version %s", label, short),
		Author:  AuthorSystem,
	})
}

// DeleteBlock removes a block file and commits the removal. Returns
// deleted=false when the block was not present.
func (s *Store) DeleteBlock(ctx context.Context, userID, label, author string) (string, bool, error) {
	if err := validateLabel(label); err != nil {
		return "", false, err
	}
	if !s.UserExists(userID) {
		return "", false, apperr.New(apperr.CodeUserNotFound, "user %q not found", userID)
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.UserDir(userID)
	if _, ok := showFile(ctx, dir, "main", blockPath(label)); !ok {
		return "", false, nil
	}
	if author == "" {
		author = AuthorSystem
	}
	if _, err := git(ctx, dir, "rm", blockPath(label)); err != nil {
		return "", false, err
	}
	msg := fmt.Sprintf("Delete block %s\n\nAuthor: %s", label, author)
	if _, err := git(ctx, dir, "commit", "-m", msg); err != nil {
		return "", false, err
	}
	sha, err := headSHA(ctx, dir, "HEAD")
	return sha, true, err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// extractAuthor pulls the author from the trailing "Author: ..." line of
// a commit message. Commits without the footer report the system author.
func extractAuthor(message string) string {
	lines := strings.Split(strings.TrimSpace(message), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if after, ok := strings.CutPrefix(line, "Author: "); ok {
			return after
		}
	}
	return AuthorSystem
}
