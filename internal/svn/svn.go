// Package svn wraps the svn command-line client.
//
// Every operation runs the binary with an argv vector (never through a
// shell), passes credentials per invocation with the on-disk auth cache
// disabled, captures stderr into errors, enforces a deadline, and redacts the
// password from anything that could reach a log line.
package svn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single svn invocation.
const DefaultTimeout = 5 * time.Minute

// ErrBinaryNotFound means the svn executable is not on PATH.
var ErrBinaryNotFound = errors.New("svn: binary not found")

// CommandError carries the exit code and captured stderr of a failed svn
// invocation. The stderr is redacted before it is stored.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("svn %s failed (exit %d): %s",
		shellquote.Join(e.Args...), e.ExitCode, e.Stderr)
}

// Client invokes the svn CLI against one repository URL.
type Client struct {
	url      string
	username string
	password string
	timeout  time.Duration
	log      *logrus.Entry
}

// NewClient creates a Client for the repository at url.
func NewClient(url, username, password string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		url:      url,
		username: username,
		password: password,
		timeout:  DefaultTimeout,
		log:      logger.WithField("component", "svn"),
	}
}

// SetTimeout overrides the per-invocation deadline.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// URL returns the repository URL this client targets.
func (c *Client) URL() string { return c.url }

// redact removes the configured password from a string destined for logs or
// errors.
func (c *Client) redact(s string) string {
	if c.password == "" {
		return s
	}
	return strings.ReplaceAll(s, c.password, "********")
}

// run executes svn with the configured username.
func (c *Client) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return c.runAs(ctx, dir, c.username, args...)
}

// runAs executes svn as the given username, appending the standard
// non-interactive and credential flags, and returns stdout.
func (c *Client) runAs(ctx context.Context, dir, username string, args ...string) ([]byte, error) {
	full := append([]string(nil), args...)
	full = append(full, "--non-interactive", "--no-auth-cache")
	if username != "" {
		full = append(full, "--username", username)
	}
	if c.password != "" {
		full = append(full, "--password", c.password)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "svn", full...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.WithField("cmd", c.redact("svn "+shellquote.Join(args...))).Debug("running svn command")

	err := cmd.Run()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrBinaryNotFound
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("svn %s timed out after %s", args[0], c.timeout)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &CommandError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   c.redact(strings.TrimSpace(stderr.String())),
		}
	}
	return stdout.Bytes(), nil
}

// HeadRevision returns the repository's latest revision.
func (c *Client) HeadRevision(ctx context.Context) (int64, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.Revision, nil
}

// Info runs `svn info --xml` against the repository URL.
func (c *Client) Info(ctx context.Context) (Info, error) {
	out, err := c.run(ctx, "", "info", "--xml", c.url)
	if err != nil {
		return Info{}, fmt.Errorf("failed to get svn info: %w", err)
	}
	return ParseInfo(out)
}

// Log returns the log entries for revisions from..to inclusive, ascending.
func (c *Client) Log(ctx context.Context, from, to int64) ([]LogEntry, error) {
	revRange := fmt.Sprintf("%d:%d", from, to)
	out, err := c.run(ctx, "", "log", "--xml", "--verbose", "-r", revRange, c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch svn log %s: %w", revRange, err)
	}
	return ParseLog(out)
}

// Export exports the repository tree at rev into destDir.
func (c *Client) Export(ctx context.Context, rev int64, destDir string) error {
	_, err := c.run(ctx, "", "export", "--force", "-r", strconv.FormatInt(rev, 10), c.url, destDir)
	if err != nil {
		return fmt.Errorf("failed to export r%d: %w", rev, err)
	}
	return nil
}

// Checkout checks out the repository HEAD into destDir.
func (c *Client) Checkout(ctx context.Context, destDir string) error {
	_, err := c.run(ctx, "", "checkout", c.url, destDir)
	if err != nil {
		return fmt.Errorf("failed to checkout %s: %w", c.redact(c.url), err)
	}
	return nil
}

// Update brings the working copy at wcDir up to HEAD.
func (c *Client) Update(ctx context.Context, wcDir string) error {
	_, err := c.run(ctx, wcDir, "update")
	if err != nil {
		return fmt.Errorf("svn update failed: %w", err)
	}
	return nil
}

// Status returns the working copy status entries.
func (c *Client) Status(ctx context.Context, wcDir string) ([]FileStatus, error) {
	out, err := c.run(ctx, wcDir, "status", "--xml")
	if err != nil {
		return nil, fmt.Errorf("svn status failed: %w", err)
	}
	return ParseStatus(out)
}

// Add schedules paths for addition in the working copy.
func (c *Client) Add(ctx context.Context, wcDir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--force", "--parents"}, paths...)
	if _, err := c.run(ctx, wcDir, args...); err != nil {
		return fmt.Errorf("svn add failed: %w", err)
	}
	return nil
}

// Remove schedules paths for deletion in the working copy.
func (c *Client) Remove(ctx context.Context, wcDir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"rm", "--force"}, paths...)
	if _, err := c.run(ctx, wcDir, args...); err != nil {
		return fmt.Errorf("svn rm failed: %w", err)
	}
	return nil
}

// Commit commits the working copy and returns the new revision number.
// A non-empty authorOverride replaces the configured username for this
// commit only; the override must be authorised on the server.
func (c *Client) Commit(ctx context.Context, wcDir, message, authorOverride string) (int64, error) {
	username := c.username
	if authorOverride != "" {
		username = authorOverride
	}
	out, err := c.runAs(ctx, wcDir, username, "commit", "-m", message)
	if err != nil {
		return 0, fmt.Errorf("svn commit failed: %w", err)
	}
	return parseCommittedRevision(out)
}

// Cat returns the content of path at rev (or HEAD when rev is 0).
func (c *Client) Cat(ctx context.Context, path string, rev int64) ([]byte, error) {
	url := c.url
	if path != "" {
		url = strings.TrimSuffix(c.url, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	args := []string{"cat"}
	if rev > 0 {
		args = append(args, "-r", strconv.FormatInt(rev, 10))
	}
	args = append(args, url)
	out, err := c.run(ctx, "", args...)
	if err != nil {
		return nil, fmt.Errorf("svn cat %s failed: %w", path, err)
	}
	return out, nil
}

// Version returns the installed svn client version, for preflight checks.
func Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "svn", "--version", "--quiet").Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrBinaryNotFound
		}
		return "", fmt.Errorf("svn --version failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// parseCommittedRevision extracts the revision from `svn commit` output
// ("Committed revision 42.").
func parseCommittedRevision(out []byte) (int64, error) {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "Committed revision ")
		if !ok {
			continue
		}
		rest = strings.TrimSuffix(rest, ".")
		rev, err := strconv.ParseInt(rest, 10, 64)
		if err == nil {
			return rev, nil
		}
	}
	return 0, fmt.Errorf("could not parse committed revision from svn output")
}
