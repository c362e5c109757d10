package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitsvnsync/gitsvnsync/internal/format"
	"github.com/gitsvnsync/gitsvnsync/internal/github"
	"github.com/gitsvnsync/gitsvnsync/internal/identity"
	"github.com/gitsvnsync/gitsvnsync/internal/lfs"
	"github.com/gitsvnsync/gitsvnsync/internal/notify"
	"github.com/gitsvnsync/gitsvnsync/internal/policy"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
)

// GitToSvnResult summarises one Git->SVN pass.
type GitToSvnResult struct {
	CommitsSynced int
	PRsSynced     int
	PRsSkipped    int
	PRsFailed     int
}

// GitToSvnApplier replays merged pull requests into the SVN working copy.
type GitToSvnApplier struct {
	svn       SvnClient
	git       GitRepo
	forge     Forge
	store     *store.Store
	mapper    identity.Mapper
	policy    *policy.Policy
	formatter *format.Formatter
	sink      notify.Sink
	log       *logrus.Entry

	wcDir          string
	defaultSvnUser string
	normalizeEOL   bool
}

// Run replays each merged PR in merge-timestamp order. A failure inside one
// PR marks it failed and stops that PR only; later PRs still apply. Returns
// per-PR and per-commit counts.
func (a *GitToSvnApplier) Run(ctx context.Context, prs []MergedPR) (GitToSvnResult, error) {
	var result GitToSvnResult
	if len(prs) == 0 {
		return result, nil
	}

	if err := a.ensureWorkingCopy(ctx); err != nil {
		return result, err
	}

	pausedPaths, err := a.store.ActiveConflictPaths(ctx)
	if err != nil {
		return result, err
	}

	for i := range prs {
		pr := &prs[i]
		if err := ctx.Err(); err != nil {
			return result, err
		}

		count, err := a.syncPR(ctx, pr, pausedPaths)
		if err != nil {
			result.PRsFailed++
			a.log.WithError(err).WithField("pr", pr.Number).Error("failed to replay PR")
			a.sink.Notify(notify.Event{
				Name:   notify.EventPRSyncFailed,
				Detail: fmt.Sprintf("PR #%d (%s): %v", pr.Number, pr.Branch, err),
				GitSHA: pr.MergeSHA,
			})
			continue
		}
		result.PRsSynced++
		result.CommitsSynced += count
	}
	return result, nil
}

// syncPR replays one PR. Returns the number of SVN revisions created.
func (a *GitToSvnApplier) syncPR(ctx context.Context, pr *MergedPR, pausedPaths map[string]bool) (int, error) {
	// Resume a pending row left by a crash, otherwise begin a fresh one.
	syncID, resumed, err := a.store.ResumePendingPR(ctx, pr.MergeSHA)
	if err != nil {
		return 0, err
	}
	if !resumed {
		syncID, err = a.store.BeginPR(ctx, pr.MergeSHA, store.PRMeta{
			Number:      pr.Number,
			Title:       pr.Title,
			Branch:      pr.Branch,
			Strategy:    pr.Strategy,
			CommitCount: len(pr.Commits),
		})
		if err != nil {
			return 0, err
		}
	}

	commits := pr.Commits
	if pr.Strategy == StrategySquash && len(commits) > 0 {
		// A squash merge lands as one new commit on the default branch;
		// replay that single commit rather than the branch-side ones.
		squash, err := pr.SquashReplayCommit(ctx, a.forge)
		if err != nil {
			a.log.WithError(err).WithField("pr", pr.Number).
				Warn("could not load squash commit, replaying PR commits instead")
		} else if !format.IsSyncMarker(squash.Commit.Message) {
			commits = []github.CommitSummary{squash}
		}
	}

	// A PR whose every commit is an echo completes with zero revisions.
	if len(commits) == 0 {
		if err := a.store.CompletePR(ctx, syncID, 0, 0, pr.MergedAt.UTC().Format(time.RFC3339)); err != nil {
			return 0, err
		}
		a.log.WithField("pr", pr.Number).Info("all PR commits are echoes, nothing to replay")
		return 0, nil
	}

	var firstRev, lastRev int64
	synced := 0
	for _, commit := range commits {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		// Idempotency at commit granularity for resumed PRs.
		done, err := a.store.IsGitSHASynced(ctx, commit.SHA)
		if err != nil {
			return synced, err
		}
		if done {
			continue
		}

		rev, err := a.replayCommit(ctx, &commit, pr, pausedPaths)
		if err != nil {
			failErr := fmt.Sprintf("commit %s: %v", shortSHA(commit.SHA), err)
			if ferr := a.store.FailPR(ctx, syncID, failErr); ferr != nil {
				a.log.WithError(ferr).Warn("failed to mark PR as failed")
			}
			_ = a.store.AppendAudit(ctx, store.AuditEntry{
				Action:    "git_to_svn_error",
				Direction: store.DirectionGitToSvn,
				GitSHA:    commit.SHA,
				Details:   fmt.Sprintf("PR #%d: %v", pr.Number, err),
				Success:   false,
			})
			return synced, err
		}

		if firstRev == 0 {
			firstRev = rev
		}
		lastRev = rev
		synced++

		gitAuthor := commit.Commit.Author.Name
		if commit.Commit.Author.Email != "" {
			gitAuthor = identity.GitIdentity{
				Name: commit.Commit.Author.Name, Email: commit.Commit.Author.Email,
			}.String()
		}
		detail := fmt.Sprintf("PR #%d: replayed commit %s as r%d", pr.Number, shortSHA(commit.SHA), rev)
		if err := a.store.RecordGitToSvn(ctx, rev, commit.SHA, a.svnAuthorFor(&commit), gitAuthor, detail); err != nil {
			return synced, err
		}
	}

	if err := a.store.CompletePR(ctx, syncID, firstRev, lastRev, pr.MergedAt.UTC().Format(time.RFC3339)); err != nil {
		return synced, err
	}
	a.log.WithFields(logrus.Fields{"pr": pr.Number, "commits": synced}).Info("PR replayed to SVN")
	return synced, nil
}

// replayCommit applies one Git commit to the SVN working copy and commits
// it. Returns the new SVN revision.
func (a *GitToSvnApplier) replayCommit(ctx context.Context, commit *github.CommitSummary, pr *MergedPR, pausedPaths map[string]bool) (int64, error) {
	if err := a.svn.Update(ctx, a.wcDir); err != nil {
		return 0, err
	}

	if err := a.applyChanges(ctx, commit.SHA, pausedPaths); err != nil {
		return 0, err
	}
	if err := a.removeStaleAgainstTree(ctx, commit.SHA, pausedPaths); err != nil {
		return 0, err
	}

	// Stage: unversioned paths get added, missing paths get removed.
	statuses, err := a.svn.Status(ctx, a.wcDir)
	if err != nil {
		return 0, err
	}
	var toAdd, toRemove []string
	for _, st := range statuses {
		switch st.Kind {
		case '?':
			toAdd = append(toAdd, st.Path)
		case '!':
			toRemove = append(toRemove, st.Path)
		}
	}
	if err := a.svn.Add(ctx, a.wcDir, toAdd); err != nil {
		return 0, err
	}
	if err := a.svn.Remove(ctx, a.wcDir, toRemove); err != nil {
		return 0, err
	}

	message := a.formatter.GitToSvn(commit.Commit.Message, commit.SHA, pr.Number, pr.Branch)
	rev, err := a.svn.Commit(ctx, a.wcDir, message, a.svnAuthorFor(commit))
	if err != nil {
		return 0, err
	}

	a.log.WithFields(logrus.Fields{"rev": rev, "sha": shortSHA(commit.SHA)}).
		Info("replayed Git commit to SVN")
	return rev, nil
}

// applyChanges writes the files changed by the commit into the working copy,
// applying the file policy and resolving LFS pointers to real content.
func (a *GitToSvnApplier) applyChanges(ctx context.Context, sha string, pausedPaths map[string]bool) error {
	changes, err := a.git.ChangedFiles(ctx, sha)
	if err != nil {
		return err
	}

	for _, change := range changes {
		if pausedPaths[change.Path] {
			a.log.WithField("path", change.Path).Debug("path paused by conflict, not replayed")
			continue
		}

		dst := filepath.Join(a.wcDir, filepath.FromSlash(change.Path))

		if change.Action == "D" {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete %s: %w", change.Path, err)
			}
			continue
		}
		if change.Action == "R" && change.OldPath != "" && !pausedPaths[change.OldPath] {
			old := filepath.Join(a.wcDir, filepath.FromSlash(change.OldPath))
			if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete renamed %s: %w", change.OldPath, err)
			}
		}

		content, ok, err := a.git.FileAtCommit(ctx, sha, change.Path)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		decision := a.policy.Evaluate(change.Path, int64(len(content)))
		if decision.Outcome == policy.Skip {
			a.log.WithFields(logrus.Fields{"path": change.Path, "reason": decision.Reason}).
				Warn("file excluded by policy")
			if err := a.store.AppendAudit(ctx, store.AuditEntry{
				Action:    "file_policy_skip",
				Direction: store.DirectionGitToSvn,
				GitSHA:    sha,
				Details:   decision.Detail(change.Path),
				Success:   true,
			}); err != nil {
				return err
			}
			continue
		}

		// SVN stores real content, never LFS pointers.
		if lfs.IsPointer(content) {
			resolved, err := lfs.ResolvePointer(a.git.Root(), content)
			if err != nil {
				a.log.WithError(err).WithField("path", change.Path).
					Warn("could not resolve LFS pointer, writing pointer bytes")
			} else {
				content = resolved
			}
		}

		content = normalizeIfText(content, a.normalizeEOL)

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", change.Path, err)
		}
	}
	return nil
}

// removeStaleAgainstTree removes working-copy files absent from the Git tree
// at the commit, excluding VCS metadata and paused paths, so `svn status`
// reports them missing and they get `svn rm`'d.
func (a *GitToSvnApplier) removeStaleAgainstTree(ctx context.Context, sha string, pausedPaths map[string]bool) error {
	tree, err := a.git.ListTree(ctx, sha)
	if err != nil {
		return err
	}
	inTree := make(map[string]bool, len(tree))
	for _, p := range tree {
		inTree[p] = true
	}

	return filepath.WalkDir(a.wcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(a.wcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".svn" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if inTree[relSlash] || pausedPaths[relSlash] {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale %s: %w", relSlash, err)
		}
		return nil
	})
}

// ensureWorkingCopy checks out the SVN repository lazily on first use.
func (a *GitToSvnApplier) ensureWorkingCopy(ctx context.Context) error {
	if info, err := os.Stat(filepath.Join(a.wcDir, ".svn")); err == nil && info.IsDir() {
		return nil
	}
	a.log.WithField("path", a.wcDir).Info("SVN working copy missing, checking out")
	if err := os.MkdirAll(filepath.Dir(a.wcDir), 0o755); err != nil {
		return fmt.Errorf("failed to create working copy parent: %w", err)
	}
	if err := a.svn.Checkout(ctx, a.wcDir); err != nil {
		return fmt.Errorf("failed to check out SVN working copy: %w", err)
	}
	return nil
}

// svnAuthorFor maps the Git commit author back to an SVN username, falling
// back to the configured daemon username.
func (a *GitToSvnApplier) svnAuthorFor(commit *github.CommitSummary) string {
	id := identity.GitIdentity{
		Name:  commit.Commit.Author.Name,
		Email: commit.Commit.Author.Email,
	}
	user, err := a.mapper.GitToSvn(id)
	if err != nil {
		return a.defaultSvnUser
	}
	return user
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// PendingChanges builds the path->change map used for cross-side conflict
// detection during the SVN->Git phase: every file touched by a not-yet-
// replayed PR commit, with its content at that commit. Later commits win.
func PendingChanges(ctx context.Context, git GitRepo, prs []MergedPR) map[string]GitChange {
	pending := make(map[string]GitChange)
	for i := range prs {
		for _, commit := range prs[i].Commits {
			changes, err := git.ChangedFiles(ctx, commit.SHA)
			if err != nil {
				// The commit may not be fetched locally yet; conflict
				// detection degrades to the commit-map and marker checks.
				continue
			}
			for _, ch := range changes {
				if ch.Action == "D" {
					pending[ch.Path] = GitChange{SHA: commit.SHA, Deleted: true}
					continue
				}
				content, ok, err := git.FileAtCommit(ctx, commit.SHA, ch.Path)
				if err != nil || !ok {
					continue
				}
				pending[ch.Path] = GitChange{SHA: commit.SHA, Content: content}
			}
		}
	}
	return pending
}
