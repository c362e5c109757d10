package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSvnToGitDefaultTemplate(t *testing.T) {
	f := New("", "")
	msg := f.SvnToGit("Fix bug in parser", 42, "alice", "2025-01-15T10:30:00Z")

	assert.Contains(t, msg, "Fix bug in parser")
	assert.Contains(t, msg, "SVN-Revision: r42")
	assert.Contains(t, msg, "SVN-Author: alice")
	assert.Contains(t, msg, "SVN-Date: 2025-01-15T10:30:00Z")
	assert.Contains(t, msg, SyncMarker)
}

func TestGitToSvnDefaultTemplate(t *testing.T) {
	f := New("", "")
	msg := f.GitToSvn("Add search endpoint", "abc123def", 42, "feature/search")

	assert.Contains(t, msg, "Add search endpoint")
	assert.Contains(t, msg, "Git-Commit: abc123def")
	assert.Contains(t, msg, "PR: #42 (feature/search)")
	assert.Contains(t, msg, SyncMarker)
}

func TestCustomTemplate(t *testing.T) {
	f := New("{original_message} (from SVN r{svn_rev})", "{original_message} [gitsvnsync] from {git_sha}")

	got := f.SvnToGit("Hello", 10, "bob", "2025-01-01")
	assert.Equal(t, "Hello (from SVN r10)", got)

	got = f.GitToSvn("World", "deadbeef", 7, "fix")
	assert.Equal(t, "World [gitsvnsync] from deadbeef", got)
}

func TestIsSyncMarker(t *testing.T) {
	assert.True(t, IsSyncMarker("Some commit [gitsvnsync]"))
	assert.True(t, IsSyncMarker("Fix bug\n\nSync-Marker: [gitsvnsync]"))
	assert.False(t, IsSyncMarker("Normal commit message"))
}

func TestExtractSvnRevision(t *testing.T) {
	rev, ok := ExtractSvnRevision("Fix bug\n\nSVN-Revision: r42\nSVN-Author: alice")
	assert.True(t, ok)
	assert.Equal(t, int64(42), rev)

	_, ok = ExtractSvnRevision("no trailer here")
	assert.False(t, ok)
}

func TestExtractGitCommit(t *testing.T) {
	sha, ok := ExtractGitCommit("Fix bug\n\nGit-Commit: abc123def456\nPR: #10 (fix)")
	assert.True(t, ok)
	assert.Equal(t, "abc123def456", sha)

	_, ok = ExtractGitCommit("no trailer")
	assert.False(t, ok)
}

func TestExtractPRNumber(t *testing.T) {
	n, ok := ExtractPRNumber("Fix bug\n\nPR: #42 (feature/x)")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	n, ok = ExtractPRNumber("PR: #7")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = ExtractPRNumber("nothing")
	assert.False(t, ok)
}
