// Package gitrepo operates the local Git working clone used by the sync
// engine.
//
// All operations shell out to the git binary with argv vectors and a
// context-bound deadline. The committer identity is always the daemon; the
// author is the developer whose change is being replayed. Pushes are plain
// (never forced), so the remote refuses anything that is not a fast-forward.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"

	"github.com/gitsvnsync/gitsvnsync/internal/identity"
)

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 5 * time.Minute

// ErrBinaryNotFound means the git executable is not on PATH.
var ErrBinaryNotFound = errors.New("git: binary not found")

// ErrNonFastForward marks a push the remote rejected as non-fast-forward.
var ErrNonFastForward = errors.New("git: push rejected (non-fast-forward)")

// Commit describes one Git commit.
type Commit struct {
	SHA       string
	Parents   []string
	Author    identity.GitIdentity
	Committer identity.GitIdentity
	Message   string
}

// ChangedFile is one file touched by a commit.
type ChangedFile struct {
	// Action is A, M, D, or R (rename).
	Action string
	Path   string
	// OldPath is set for renames.
	OldPath string
}

// Repo is a local Git repository rooted at a directory.
type Repo struct {
	root    string
	token   string
	timeout time.Duration
	log     *logrus.Entry
}

// InitOrOpen opens the repository at root, initialising it (with the given
// default branch) when absent.
func InitOrOpen(ctx context.Context, root, defaultBranch, token string, logger *logrus.Logger) (*Repo, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Repo{
		root:    root,
		token:   token,
		timeout: DefaultTimeout,
		log:     logger.WithField("component", "git"),
	}

	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		return r, nil
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create git repo directory: %w", err)
	}
	if _, err := r.git(ctx, "init", "--initial-branch", defaultBranch); err != nil {
		return nil, fmt.Errorf("git init failed: %w", err)
	}
	return r, nil
}

// Clone clones remoteURL into root and returns the opened repository.
func Clone(ctx context.Context, remoteURL, root, token string, logger *logrus.Logger) (*Repo, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Repo{
		root:    root,
		token:   token,
		timeout: DefaultTimeout,
		log:     logger.WithField("component", "git"),
	}
	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clone parent directory: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", r.authURL(remoteURL), root)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git clone failed: %w\n%s", err, r.redact(string(out)))
	}
	return r, nil
}

// Root returns the repository's working-tree path.
func (r *Repo) Root() string { return r.root }

// SetTimeout overrides the per-invocation deadline.
func (r *Repo) SetTimeout(d time.Duration) { r.timeout = d }

// redact strips the auth token from a string destined for logs or errors.
func (r *Repo) redact(s string) string {
	if r.token == "" {
		return s
	}
	return strings.ReplaceAll(s, r.token, "********")
}

// authURL embeds the token into an https remote URL for one invocation.
func (r *Repo) authURL(remote string) string {
	if r.token == "" || !strings.HasPrefix(remote, "https://") {
		return remote
	}
	u, err := url.Parse(remote)
	if err != nil {
		return remote
	}
	u.User = url.UserPassword("x-access-token", r.token)
	return u.String()
}

// git runs a git command in the repository with env overrides applied.
func (r *Repo) git(ctx context.Context, args ...string) ([]byte, error) {
	return r.gitEnv(ctx, nil, args...)
}

func (r *Repo) gitEnv(ctx context.Context, env []string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.WithField("cmd", r.redact("git "+shellquote.Join(args...))).Debug("running git command")

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrBinaryNotFound
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("git %s timed out after %s", args[0], r.timeout)
		}
		return stderr.Bytes(), fmt.Errorf("git %s failed: %w\n%s",
			args[0], err, r.redact(strings.TrimSpace(stderr.String())))
	}
	return stdout.Bytes(), nil
}

// Fetch fetches the remote.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	if _, err := r.git(ctx, "fetch", remote); err != nil {
		return err
	}
	return nil
}

// EnsureRemote points the named remote at url, creating it when missing.
func (r *Repo) EnsureRemote(ctx context.Context, name, url string) error {
	if _, err := r.git(ctx, "remote", "get-url", name); err != nil {
		if _, err := r.git(ctx, "remote", "add", name, url); err != nil {
			return err
		}
		return nil
	}
	if _, err := r.git(ctx, "remote", "set-url", name, url); err != nil {
		return err
	}
	return nil
}

// CreateCommit stages the whole working tree and commits it. The author is
// the developer identity; the committer is the daemon identity. Returns the
// new commit SHA. Empty trees still commit, so every source revision maps to
// exactly one commit.
func (r *Repo) CreateCommit(ctx context.Context, author, committer identity.GitIdentity, message string) (string, error) {
	if _, err := r.git(ctx, "add", "-A"); err != nil {
		return "", err
	}

	env := []string{
		"GIT_AUTHOR_NAME=" + author.Name,
		"GIT_AUTHOR_EMAIL=" + author.Email,
		"GIT_COMMITTER_NAME=" + committer.Name,
		"GIT_COMMITTER_EMAIL=" + committer.Email,
	}
	if _, err := r.gitEnv(ctx, env, "commit", "--allow-empty", "--no-verify", "-m", message); err != nil {
		return "", err
	}
	return r.HeadSHA(ctx)
}

// HeadSHA returns the SHA of HEAD.
func (r *Repo) HeadSHA(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Push pushes refspec to the remote. The push is never forced; the remote
// rejects non-fast-forward updates, surfaced as ErrNonFastForward.
func (r *Repo) Push(ctx context.Context, remoteURL, refspec string) error {
	out, err := r.git(ctx, "push", r.authURL(remoteURL), refspec)
	if err != nil {
		combined := strings.ToLower(string(out) + err.Error())
		if strings.Contains(combined, "non-fast-forward") || strings.Contains(combined, "fetch first") {
			return fmt.Errorf("%w: %s", ErrNonFastForward, refspec)
		}
		return err
	}
	return nil
}

// PullFFOnly fast-forwards the local branch from the remote; a divergent
// remote is an error, never a merge.
func (r *Repo) PullFFOnly(ctx context.Context, remoteURL, branch string) error {
	if _, err := r.git(ctx, "pull", "--ff-only", r.authURL(remoteURL), branch); err != nil {
		return err
	}
	return nil
}

// GetCommit returns the metadata of one commit.
func (r *Repo) GetCommit(ctx context.Context, sha string) (Commit, error) {
	out, err := r.git(ctx, "show", "-s", "--format=%H%n%P%n%an%n%ae%n%cn%n%ce%n%B", sha)
	if err != nil {
		return Commit{}, err
	}
	lines := strings.SplitN(string(out), "\n", 7)
	if len(lines) < 7 {
		return Commit{}, fmt.Errorf("unexpected git show output for %s", sha)
	}
	c := Commit{
		SHA:       lines[0],
		Author:    identity.GitIdentity{Name: lines[2], Email: lines[3]},
		Committer: identity.GitIdentity{Name: lines[4], Email: lines[5]},
		Message:   strings.TrimRight(lines[6], "\n"),
	}
	if lines[1] != "" {
		c.Parents = strings.Fields(lines[1])
	}
	return c, nil
}

// ChangedFiles lists the files touched by a commit, with their actions.
func (r *Repo) ChangedFiles(ctx context.Context, sha string) ([]ChangedFile, error) {
	out, err := r.git(ctx, "show", "--name-status", "--format=", "-M", sha)
	if err != nil {
		return nil, err
	}

	var files []ChangedFile
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		action := fields[0]
		switch {
		case strings.HasPrefix(action, "R") && len(fields) >= 3:
			files = append(files, ChangedFile{Action: "R", OldPath: fields[1], Path: fields[2]})
		default:
			files = append(files, ChangedFile{Action: action[:1], Path: fields[1]})
		}
	}
	return files, nil
}

// FileAtCommit returns the content of path at the given commit. ok is false
// when the path does not exist in that commit's tree.
func (r *Repo) FileAtCommit(ctx context.Context, sha, path string) ([]byte, bool, error) {
	spec := sha + ":" + path
	if _, err := r.git(ctx, "cat-file", "-e", spec); err != nil {
		return nil, false, nil
	}
	out, err := r.git(ctx, "show", spec)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// ListTree returns every file path in the tree of the given commit.
func (r *Repo) ListTree(ctx context.Context, sha string) ([]string, error) {
	out, err := r.git(ctx, "ls-tree", "-r", "--name-only", sha)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// FileAtRef is FileAtCommit against a ref name (branch, HEAD~1, ...).
func (r *Repo) FileAtRef(ctx context.Context, ref, path string) ([]byte, bool, error) {
	return r.FileAtCommit(ctx, ref, path)
}

// CreateBranch creates a branch at the given start point (HEAD when empty).
func (r *Repo) CreateBranch(ctx context.Context, name, startPoint string) error {
	args := []string{"branch", name}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := r.git(ctx, args...)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.git(ctx, "branch", "-D", name)
	return err
}

// ListBranches returns the local branch names.
func (r *Repo) ListBranches(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// Version returns the installed git version, for preflight checks.
func Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "--version").Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrBinaryNotFound
		}
		return "", fmt.Errorf("git --version failed: %w", err)
	}
	return strings.TrimPrefix(strings.TrimSpace(string(out)), "git version "), nil
}
