// Package format renders commit messages for both sync directions and
// detects the sync marker used for echo suppression.
//
// Templates are plain strings with a fixed placeholder vocabulary. The
// rendered message always carries the literal marker token so that a commit
// observed on the opposite side can be recognised as an echo and skipped.
package format

import (
	"strconv"
	"strings"
)

// SyncMarker is the literal token embedded in every commit message this
// system writes. Its presence in a message observed on the opposite side
// suppresses replay.
const SyncMarker = "[gitsvnsync]"

// DefaultSvnToGitTemplate is used when no template is configured.
const DefaultSvnToGitTemplate = `{original_message}

SVN-Revision: r{svn_rev}
SVN-Author: {svn_author}
SVN-Date: {svn_date}
Sync-Marker: [gitsvnsync]`

// DefaultGitToSvnTemplate is used when no template is configured.
const DefaultGitToSvnTemplate = `{original_message}

[gitsvnsync] Synced from Git
Git-Commit: {git_sha}
PR: #{pr_number} ({pr_branch})`

// Formatter renders the two message templates.
type Formatter struct {
	svnToGit string
	gitToSvn string
}

// New creates a Formatter from the configured templates. Empty templates
// fall back to the defaults.
func New(svnToGit, gitToSvn string) *Formatter {
	if svnToGit == "" {
		svnToGit = DefaultSvnToGitTemplate
	}
	if gitToSvn == "" {
		gitToSvn = DefaultGitToSvnTemplate
	}
	return &Formatter{svnToGit: svnToGit, gitToSvn: gitToSvn}
}

// SvnToGit renders the SVN->Git commit message.
func (f *Formatter) SvnToGit(originalMessage string, svnRev int64, svnAuthor, svnDate string) string {
	r := strings.NewReplacer(
		"{original_message}", strings.TrimSpace(originalMessage),
		"{svn_rev}", strconv.FormatInt(svnRev, 10),
		"{svn_author}", svnAuthor,
		"{svn_date}", svnDate,
	)
	return r.Replace(f.svnToGit)
}

// GitToSvn renders the Git->SVN commit message.
func (f *Formatter) GitToSvn(originalMessage, gitSHA string, prNumber int64, prBranch string) string {
	r := strings.NewReplacer(
		"{original_message}", strings.TrimSpace(originalMessage),
		"{git_sha}", gitSHA,
		"{pr_number}", strconv.FormatInt(prNumber, 10),
		"{pr_branch}", prBranch,
	)
	return r.Replace(f.gitToSvn)
}

// IsSyncMarker reports whether message contains the sync marker.
func IsSyncMarker(message string) bool {
	return strings.Contains(message, SyncMarker)
}

// ExtractSvnRevision parses the SVN-Revision trailer (`SVN-Revision: r42`)
// from a commit message. Returns 0, false when no trailer is present.
func ExtractSvnRevision(message string) (int64, bool) {
	for _, line := range strings.Split(message, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "SVN-Revision:")
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(strings.TrimSpace(rest), "r")
		rev, err := strconv.ParseInt(rest, 10, 64)
		if err == nil {
			return rev, true
		}
	}
	return 0, false
}

// ExtractGitCommit parses the Git-Commit trailer from a commit message.
func ExtractGitCommit(message string) (string, bool) {
	for _, line := range strings.Split(message, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Git-Commit:")
		if !ok {
			continue
		}
		sha := strings.TrimSpace(rest)
		if sha != "" {
			return sha, true
		}
	}
	return "", false
}

// ExtractPRNumber parses the PR trailer (`PR: #42 (branch)`) from a commit
// message.
func ExtractPRNumber(message string) (int64, bool) {
	for _, line := range strings.Split(message, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "PR:")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		rest = strings.TrimPrefix(rest, "#")
		if i := strings.IndexAny(rest, " \t"); i >= 0 {
			rest = rest[:i]
		}
		n, err := strconv.ParseInt(rest, 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
