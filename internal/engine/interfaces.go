// Package engine drives the bidirectional sync: the cycle state machine,
// the SVN->Git and Git->SVN appliers, merged-PR monitoring, and the polling
// scheduler.
//
// The engine talks to its collaborators through narrow interfaces so the
// appliers can be exercised against fakes; the concrete implementations live
// in internal/svn, internal/gitrepo, and internal/github.
package engine

import (
	"context"
	"time"

	"github.com/gitsvnsync/gitsvnsync/internal/github"
	"github.com/gitsvnsync/gitsvnsync/internal/gitrepo"
	"github.com/gitsvnsync/gitsvnsync/internal/identity"
	"github.com/gitsvnsync/gitsvnsync/internal/svn"
)

// SvnClient is the subset of the SVN adapter the engine uses.
type SvnClient interface {
	HeadRevision(ctx context.Context) (int64, error)
	Log(ctx context.Context, from, to int64) ([]svn.LogEntry, error)
	Export(ctx context.Context, rev int64, destDir string) error
	Checkout(ctx context.Context, destDir string) error
	Update(ctx context.Context, wcDir string) error
	Status(ctx context.Context, wcDir string) ([]svn.FileStatus, error)
	Add(ctx context.Context, wcDir string, paths []string) error
	Remove(ctx context.Context, wcDir string, paths []string) error
	Commit(ctx context.Context, wcDir, message, authorOverride string) (int64, error)
	Cat(ctx context.Context, path string, rev int64) ([]byte, error)
}

// GitRepo is the subset of the local Git adapter the engine uses.
type GitRepo interface {
	Root() string
	Fetch(ctx context.Context, remote string) error
	CreateCommit(ctx context.Context, author, committer identity.GitIdentity, message string) (string, error)
	Push(ctx context.Context, remoteURL, refspec string) error
	PullFFOnly(ctx context.Context, remoteURL, branch string) error
	GetCommit(ctx context.Context, sha string) (gitrepo.Commit, error)
	ChangedFiles(ctx context.Context, sha string) ([]gitrepo.ChangedFile, error)
	FileAtCommit(ctx context.Context, sha, path string) ([]byte, bool, error)
	ListTree(ctx context.Context, sha string) ([]string, error)
}

// Forge is the subset of the GitHub adapter the engine uses.
type Forge interface {
	ListMergedPRs(ctx context.Context, base string, since time.Time) ([]github.PRSummary, error)
	GetPRCommits(ctx context.Context, number int64) ([]github.CommitSummary, error)
	GetCommit(ctx context.Context, sha string) (github.CommitDetail, error)
}
