package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitsvnsync/gitsvnsync/internal/identity"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func testRepo(t *testing.T) *Repo {
	t.Helper()
	requireGit(t)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	r, err := InitOrOpen(context.Background(), filepath.Join(t.TempDir(), "repo"), "main", "", logger)
	require.NoError(t, err)
	return r
}

var (
	dev    = identity.GitIdentity{Name: "Dev Eloper", Email: "dev@example.com"}
	daemon = identity.GitIdentity{Name: "gitsvnsync", Email: "daemon@example.com"}
)

func TestInitOrOpenIsIdempotent(t *testing.T) {
	r := testRepo(t)

	again, err := InitOrOpen(context.Background(), r.Root(), "main", "", nil)
	require.NoError(t, err)
	assert.Equal(t, r.Root(), again.Root())
}

func TestCreateCommitSetsAuthorAndCommitter(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "README.md"), []byte("init"), 0o644))

	sha, err := r.CreateCommit(ctx, dev, daemon, "initial import\n\nSync-Marker: [gitsvnsync]")
	require.NoError(t, err)
	assert.Len(t, sha, 40)

	c, err := r.GetCommit(ctx, sha)
	require.NoError(t, err)
	assert.Equal(t, "Dev Eloper", c.Author.Name)
	assert.Equal(t, "dev@example.com", c.Author.Email)
	assert.Equal(t, "gitsvnsync", c.Committer.Name)
	assert.Contains(t, c.Message, "initial import")
	assert.Empty(t, c.Parents)
}

func TestCreateCommitAllowsEmpty(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	first, err := r.CreateCommit(ctx, dev, daemon, "first")
	require.NoError(t, err)

	// No tree change at all still produces a commit.
	second, err := r.CreateCommit(ctx, dev, daemon, "empty follow-up")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	c, err := r.GetCommit(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, c.Parents)
}

func TestChangedFiles(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "b.txt"), []byte("b"), 0o644))
	_, err := r.CreateCommit(ctx, dev, daemon, "add a and b")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "a.txt"), []byte("a2"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(r.Root(), "b.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "c.txt"), []byte("c"), 0o644))
	sha, err := r.CreateCommit(ctx, dev, daemon, "modify, delete, add")
	require.NoError(t, err)

	files, err := r.ChangedFiles(ctx, sha)
	require.NoError(t, err)

	byPath := make(map[string]string)
	for _, f := range files {
		byPath[f.Path] = f.Action
	}
	assert.Equal(t, "M", byPath["a.txt"])
	assert.Equal(t, "D", byPath["b.txt"])
	assert.Equal(t, "A", byPath["c.txt"])
}

func TestFileAtCommit(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "f.txt"), []byte("v1"), 0o644))
	sha1, err := r.CreateCommit(ctx, dev, daemon, "v1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "f.txt"), []byte("v2"), 0o644))
	sha2, err := r.CreateCommit(ctx, dev, daemon, "v2")
	require.NoError(t, err)

	data, ok, err := r.FileAtCommit(ctx, sha1, "f.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), data)

	data, ok, err = r.FileAtCommit(ctx, sha2, "f.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), data)

	_, ok, err = r.FileAtCommit(ctx, sha2, "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBranches(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	_, err := r.CreateCommit(ctx, dev, daemon, "seed")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch(ctx, "feature", ""))
	branches, err := r.ListBranches(ctx)
	require.NoError(t, err)
	assert.Contains(t, branches, "main")
	assert.Contains(t, branches, "feature")

	require.NoError(t, r.DeleteBranch(ctx, "feature"))
	branches, err = r.ListBranches(ctx)
	require.NoError(t, err)
	assert.NotContains(t, branches, "feature")
}

func TestPushRefusesNonFastForward(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	// A bare "remote" plus two diverging clones.
	bare := filepath.Join(t.TempDir(), "remote.git")
	out, err := exec.Command("git", "init", "--bare", "--initial-branch", "main", bare).CombinedOutput()
	require.NoError(t, err, string(out))

	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "f.txt"), []byte("base"), 0o644))
	_, err = r.CreateCommit(ctx, dev, daemon, "base")
	require.NoError(t, err)
	require.NoError(t, r.Push(ctx, bare, "main:main"))

	other, err := Clone(ctx, bare, filepath.Join(t.TempDir(), "other"), "", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(other.Root(), "f.txt"), []byte("theirs"), 0o644))
	_, err = other.CreateCommit(ctx, dev, daemon, "their change")
	require.NoError(t, err)
	require.NoError(t, other.Push(ctx, bare, "main:main"))

	// Local diverges; its push must be rejected, never forced.
	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "f.txt"), []byte("ours"), 0o644))
	_, err = r.CreateCommit(ctx, dev, daemon, "our change")
	require.NoError(t, err)

	err = r.Push(ctx, bare, "main:main")
	assert.ErrorIs(t, err, ErrNonFastForward)
}

func TestAuthURLEmbedsAndRedactsToken(t *testing.T) {
	r := &Repo{token: "secret-token"}
	u := r.authURL("https://github.com/owner/repo.git")
	assert.Contains(t, u, "x-access-token:secret-token@")

	assert.NotContains(t, r.redact("push to "+u), "secret-token")

	// Non-https remotes are left alone.
	assert.Equal(t, "/tmp/bare.git", r.authURL("/tmp/bare.git"))
}
