package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gitsvnsync/gitsvnsync/internal/github"
	"github.com/gitsvnsync/gitsvnsync/internal/gitrepo"
	"github.com/gitsvnsync/gitsvnsync/internal/identity"
	"github.com/gitsvnsync/gitsvnsync/internal/svn"
)

// fakeSvn is an in-memory SVN repository plus working-copy semantics.
type fakeSvn struct {
	head    int64
	entries []svn.LogEntry
	// trees holds the full tree at each revision.
	trees map[int64]map[string][]byte
	// wcBase is the versioned state the working copy was last synced to.
	wcBase map[string][]byte
	// commits records every Commit call.
	commits []fakeSvnCommit

	headErr error
}

type fakeSvnCommit struct {
	Rev     int64
	Message string
	Author  string
	Tree    map[string][]byte
}

func newFakeSvn() *fakeSvn {
	return &fakeSvn{
		trees:  map[int64]map[string][]byte{},
		wcBase: map[string][]byte{},
	}
}

// addRevision appends a revision with the given full tree.
func (f *fakeSvn) addRevision(author, message string, tree map[string][]byte) int64 {
	f.head++
	f.trees[f.head] = tree
	f.entries = append(f.entries, svn.LogEntry{
		Revision: f.head,
		Author:   author,
		Date:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(f.head) * time.Minute),
		Message:  message,
		ChangedPaths: func() []svn.ChangedPath {
			var prev map[string][]byte
			if f.head > 1 {
				prev = f.trees[f.head-1]
			}
			return diffTrees(prev, tree)
		}(),
	})
	return f.head
}

func diffTrees(prev, next map[string][]byte) []svn.ChangedPath {
	var paths []svn.ChangedPath
	for p, data := range next {
		old, ok := prev[p]
		switch {
		case !ok:
			paths = append(paths, svn.ChangedPath{Action: "A", Path: "/trunk/" + p})
		case string(old) != string(data):
			paths = append(paths, svn.ChangedPath{Action: "M", Path: "/trunk/" + p})
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			paths = append(paths, svn.ChangedPath{Action: "D", Path: "/trunk/" + p})
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Path < paths[j].Path })
	return paths
}

func (f *fakeSvn) HeadRevision(context.Context) (int64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeSvn) Log(_ context.Context, from, to int64) ([]svn.LogEntry, error) {
	var out []svn.LogEntry
	for _, e := range f.entries {
		if e.Revision >= from && e.Revision <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSvn) Export(_ context.Context, rev int64, destDir string) error {
	tree, ok := f.trees[rev]
	if !ok {
		return fmt.Errorf("no such revision r%d", rev)
	}
	return writeTree(destDir, tree)
}

func (f *fakeSvn) Checkout(_ context.Context, destDir string) error {
	if err := os.MkdirAll(filepath.Join(destDir, ".svn"), 0o755); err != nil {
		return err
	}
	tree := f.trees[f.head]
	f.wcBase = copyTreeMap(tree)
	return writeTree(destDir, tree)
}

func (f *fakeSvn) Update(context.Context, string) error { return nil }

func (f *fakeSvn) Status(_ context.Context, wcDir string) ([]svn.FileStatus, error) {
	onDisk, err := readTree(wcDir)
	if err != nil {
		return nil, err
	}
	var statuses []svn.FileStatus
	for p := range onDisk {
		if _, ok := f.wcBase[p]; !ok {
			statuses = append(statuses, svn.FileStatus{Path: p, Kind: '?'})
		}
	}
	for p := range f.wcBase {
		if _, ok := onDisk[p]; !ok {
			statuses = append(statuses, svn.FileStatus{Path: p, Kind: '!'})
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Path < statuses[j].Path })
	return statuses, nil
}

func (f *fakeSvn) Add(context.Context, string, []string) error    { return nil }
func (f *fakeSvn) Remove(context.Context, string, []string) error { return nil }

func (f *fakeSvn) Commit(_ context.Context, wcDir, message, author string) (int64, error) {
	onDisk, err := readTree(wcDir)
	if err != nil {
		return 0, err
	}
	f.head++
	f.trees[f.head] = copyTreeMap(onDisk)
	f.wcBase = copyTreeMap(onDisk)
	f.entries = append(f.entries, svn.LogEntry{
		Revision: f.head,
		Author:   author,
		Date:     time.Now().UTC(),
		Message:  message,
	})
	f.commits = append(f.commits, fakeSvnCommit{
		Rev: f.head, Message: message, Author: author, Tree: copyTreeMap(onDisk),
	})
	return f.head, nil
}

func (f *fakeSvn) Cat(_ context.Context, path string, rev int64) ([]byte, error) {
	if rev == 0 {
		rev = f.head
	}
	data, ok := f.trees[rev][path]
	if !ok {
		return nil, fmt.Errorf("no such path %s at r%d", path, rev)
	}
	return data, nil
}

// fakeGit is an in-memory Git repository over a real working-tree directory.
type fakeGit struct {
	root    string
	commits []fakeGitCommit
	pushes  []string

	// prCommits backs ChangedFiles/FileAtCommit/ListTree for commits that
	// arrived from the forge rather than from CreateCommit.
	prCommits map[string]prCommitData
}

type fakeGitCommit struct {
	SHA       string
	Author    identity.GitIdentity
	Committer identity.GitIdentity
	Message   string
	Tree      map[string][]byte
}

type prCommitData struct {
	Changes []gitrepo.ChangedFile
	Files   map[string][]byte
	// Tree is the full snapshot at that commit; nil means "derive from
	// Files" (every file in Files is in the tree).
	Tree []string
}

func newFakeGit(root string) *fakeGit {
	return &fakeGit{root: root, prCommits: map[string]prCommitData{}}
}

func (g *fakeGit) Root() string                                     { return g.root }
func (g *fakeGit) Fetch(context.Context, string) error              { return nil }
func (g *fakeGit) PullFFOnly(context.Context, string, string) error { return nil }

func (g *fakeGit) CreateCommit(_ context.Context, author, committer identity.GitIdentity, message string) (string, error) {
	tree, err := readTree(g.root)
	if err != nil {
		return "", err
	}
	sha := fmt.Sprintf("%040x", len(g.commits)+1)
	g.commits = append(g.commits, fakeGitCommit{
		SHA: sha, Author: author, Committer: committer, Message: message, Tree: tree,
	})
	return sha, nil
}

func (g *fakeGit) Push(_ context.Context, _, refspec string) error {
	g.pushes = append(g.pushes, refspec)
	return nil
}

func (g *fakeGit) GetCommit(_ context.Context, sha string) (gitrepo.Commit, error) {
	if sha == "HEAD" {
		if len(g.commits) == 0 {
			return gitrepo.Commit{}, fmt.Errorf("no commits")
		}
		c := g.commits[len(g.commits)-1]
		return gitrepo.Commit{SHA: c.SHA, Author: c.Author, Committer: c.Committer, Message: c.Message}, nil
	}
	for _, c := range g.commits {
		if c.SHA == sha {
			return gitrepo.Commit{SHA: c.SHA, Author: c.Author, Committer: c.Committer, Message: c.Message}, nil
		}
	}
	return gitrepo.Commit{}, fmt.Errorf("unknown commit %s", sha)
}

func (g *fakeGit) ChangedFiles(_ context.Context, sha string) ([]gitrepo.ChangedFile, error) {
	if data, ok := g.prCommits[sha]; ok {
		return data.Changes, nil
	}
	return nil, fmt.Errorf("unknown commit %s", sha)
}

func (g *fakeGit) FileAtCommit(_ context.Context, sha, path string) ([]byte, bool, error) {
	if sha == "HEAD" {
		if len(g.commits) == 0 {
			return nil, false, nil
		}
		data, ok := g.commits[len(g.commits)-1].Tree[path]
		return data, ok, nil
	}
	if data, ok := g.prCommits[sha]; ok {
		content, found := data.Files[path]
		return content, found, nil
	}
	for _, c := range g.commits {
		if c.SHA == sha {
			data, ok := c.Tree[path]
			return data, ok, nil
		}
	}
	return nil, false, nil
}

func (g *fakeGit) ListTree(_ context.Context, sha string) ([]string, error) {
	if data, ok := g.prCommits[sha]; ok {
		if data.Tree != nil {
			return data.Tree, nil
		}
		var paths []string
		for p := range data.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		return paths, nil
	}
	for _, c := range g.commits {
		if c.SHA == sha {
			var paths []string
			for p := range c.Tree {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			return paths, nil
		}
	}
	return nil, fmt.Errorf("unknown commit %s", sha)
}

// headCommit returns the last created commit, or nil.
func (g *fakeGit) headCommit() *fakeGitCommit {
	if len(g.commits) == 0 {
		return nil
	}
	return &g.commits[len(g.commits)-1]
}

// fakeForge serves a fixed set of merged PRs.
type fakeForge struct {
	prs       []github.PRSummary
	prCommits map[int64][]github.CommitSummary
	details   map[string]github.CommitDetail

	listErr error
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		prCommits: map[int64][]github.CommitSummary{},
		details:   map[string]github.CommitDetail{},
	}
}

func (f *fakeForge) ListMergedPRs(_ context.Context, base string, since time.Time) ([]github.PRSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []github.PRSummary
	for _, pr := range f.prs {
		if pr.Base.Name != "" && pr.Base.Name != base {
			continue
		}
		if !since.IsZero() && !pr.MergedAt.After(since) {
			continue
		}
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MergedAt.Before(out[j].MergedAt) })
	return out, nil
}

func (f *fakeForge) GetPRCommits(_ context.Context, number int64) ([]github.CommitSummary, error) {
	return f.prCommits[number], nil
}

func (f *fakeForge) GetCommit(_ context.Context, sha string) (github.CommitDetail, error) {
	detail, ok := f.details[sha]
	if !ok {
		return github.CommitDetail{}, fmt.Errorf("unknown commit %s", sha)
	}
	return detail, nil
}

// Tree helpers shared by the fakes.

func writeTree(dir string, tree map[string][]byte) error {
	for p, data := range tree {
		full := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// readTree reads every file under dir, skipping VCS metadata directories.
func readTree(dir string) (map[string][]byte, error) {
	tree := map[string][]byte{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(filepath.Base(rel), ".") && !strings.Contains(rel, string(filepath.Separator)) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func copyTreeMap(tree map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(tree))
	for k, v := range tree {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
