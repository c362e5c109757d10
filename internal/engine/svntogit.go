package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitsvnsync/gitsvnsync/internal/conflict"
	"github.com/gitsvnsync/gitsvnsync/internal/format"
	"github.com/gitsvnsync/gitsvnsync/internal/identity"
	"github.com/gitsvnsync/gitsvnsync/internal/lfs"
	"github.com/gitsvnsync/gitsvnsync/internal/notify"
	"github.com/gitsvnsync/gitsvnsync/internal/policy"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
	"github.com/gitsvnsync/gitsvnsync/internal/svn"
)

// GitChange is a pending Git-side change to one path, used for cross-side
// conflict detection while SVN revisions are being applied.
type GitChange struct {
	SHA     string
	Content []byte
	Deleted bool
}

// SvnToGitApplier replays unsynced SVN revisions as Git commits.
type SvnToGitApplier struct {
	svn       SvnClient
	git       GitRepo
	store     *store.Store
	mapper    identity.Mapper
	policy    *policy.Policy
	formatter *format.Formatter
	sink      notify.Sink
	log       *logrus.Entry

	remoteURL    string
	branch       string
	daemonID     identity.GitIdentity
	normalizeEOL bool
	syncExecBit  bool
	autoMerge    bool
}

// Run applies every unsynced SVN revision in ascending order.
//
// pendingGit maps paths to changes waiting on the Git side (from merged PRs
// not yet replayed); a revision touching one of those paths with different
// content raises a conflict and the path is paused for this cycle.
//
// Returns the number of revisions committed to Git. On failure the watermark
// stays put, so the same revision is retried next cycle; the commit-map
// idempotency check protects against the half-applied case.
func (a *SvnToGitApplier) Run(ctx context.Context, pendingGit map[string]GitChange) (int, error) {
	watermark, err := a.store.SvnWatermark(ctx)
	if err != nil {
		return 0, err
	}

	head, err := a.svn.HeadRevision(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query SVN head revision: %w", err)
	}
	if head < watermark {
		return 0, fmt.Errorf("SVN head r%d is below watermark r%d: history was truncated", head, watermark)
	}
	if head == watermark {
		a.log.WithField("head", head).Debug("SVN is up to date")
		return 0, nil
	}

	entries, err := a.svn.Log(ctx, watermark+1, head)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch SVN log: %w", err)
	}

	pausedPaths, err := a.store.ActiveConflictPaths(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		// Echo suppression: a revision this system wrote on the SVN side.
		if format.IsSyncMarker(entry.Message) {
			if err := a.advanceWatermark(ctx, entry.Revision); err != nil {
				return synced, err
			}
			if err := a.store.AppendAudit(ctx, store.AuditEntry{
				Action:    "echo_skip",
				Direction: store.DirectionSvnToGit,
				SvnRev:    entry.Revision,
				Author:    entry.Author,
				Details:   fmt.Sprintf("skipped echo revision r%d", entry.Revision),
				Success:   true,
			}); err != nil {
				return synced, err
			}
			continue
		}

		// Idempotency: already in the commit map (e.g. crash after push but
		// before the watermark advance).
		already, err := a.store.IsSvnRevSynced(ctx, entry.Revision)
		if err != nil {
			return synced, err
		}
		if already {
			if err := a.advanceWatermark(ctx, entry.Revision); err != nil {
				return synced, err
			}
			continue
		}

		if err := a.applyRevision(ctx, entry, pendingGit, pausedPaths); err != nil {
			return synced, fmt.Errorf("failed to apply r%d: %w", entry.Revision, err)
		}
		synced++
	}

	return synced, nil
}

func (a *SvnToGitApplier) applyRevision(ctx context.Context, entry svn.LogEntry, pendingGit map[string]GitChange, pausedPaths map[string]bool) error {
	exportDir, err := os.MkdirTemp("", "gitsvnsync-export-")
	if err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	defer os.RemoveAll(exportDir)

	if err := a.svn.Export(ctx, entry.Revision, exportDir); err != nil {
		return err
	}

	// Cross-side conflict detection before anything is copied: a path this
	// revision touches that also has a pending Git-side change pauses the
	// path instead of applying either side.
	skip := make(map[string]bool, len(pausedPaths))
	for p := range pausedPaths {
		skip[p] = true
	}
	if err := a.detectConflicts(ctx, entry, exportDir, pendingGit, skip); err != nil {
		return err
	}

	if err := a.copyTree(ctx, exportDir, a.git.Root(), skip); err != nil {
		return fmt.Errorf("failed to copy exported tree: %w", err)
	}
	if err := removeStaleFiles(exportDir, a.git.Root(), skip); err != nil {
		return fmt.Errorf("failed to remove stale files: %w", err)
	}

	author, err := a.mapper.SvnToGit(entry.Author)
	if err != nil {
		return fmt.Errorf("failed to map SVN author %q: %w", entry.Author, err)
	}

	message := a.formatter.SvnToGit(entry.Message, entry.Revision, entry.Author,
		entry.Date.Format(time.RFC3339))

	sha, err := a.git.CreateCommit(ctx, author, a.daemonID, message)
	if err != nil {
		return err
	}

	if err := a.git.Push(ctx, a.remoteURL, a.branch+":"+a.branch); err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{"rev": entry.Revision, "sha": sha[:8]}).
		Info("committed SVN revision to Git")

	// One transaction: commit-map insert, watermark advance, audit entry.
	detail := fmt.Sprintf("synced SVN r%d as Git %s", entry.Revision, sha[:8])
	return a.store.CompleteSvnToGit(ctx, entry.Revision, sha, entry.Author, author.String(), detail)
}

// detectConflicts compares this revision's changed paths against pending
// Git-side changes. Conflicting paths are added to skip; auto-mergeable text
// conflicts are resolved immediately as accept_merged so the next cycle
// installs the combined content on both sides.
func (a *SvnToGitApplier) detectConflicts(ctx context.Context, entry svn.LogEntry, exportDir string, pendingGit map[string]GitChange, skip map[string]bool) error {
	if len(pendingGit) == 0 {
		return nil
	}

	for _, cp := range entry.ChangedPaths {
		rel, ok := resolveRelPath(exportDir, cp.Path, pendingGit)
		if !ok {
			continue
		}
		gitChange, ok := pendingGit[rel]
		if !ok || skip[rel] {
			continue
		}

		svnChange := conflict.FileChange{Path: rel}
		switch cp.Action {
		case "D":
			svnChange.Op = conflict.OpDeleted
		case "A":
			svnChange.Op = conflict.OpAdded
		default:
			svnChange.Op = conflict.OpModified
		}
		if svnChange.Op != conflict.OpDeleted {
			data, err := os.ReadFile(filepath.Join(exportDir, rel))
			if err != nil {
				continue
			}
			svnChange.Content = data
			svnChange.Binary = conflict.IsBinary(data)
		}

		gitFC := conflict.FileChange{Path: rel, Op: conflict.OpModified}
		if gitChange.Deleted {
			gitFC.Op = conflict.OpDeleted
		} else {
			gitFC.Content = gitChange.Content
			gitFC.Binary = conflict.IsBinary(gitChange.Content)
		}

		found := conflict.Detect([]conflict.FileChange{svnChange}, []conflict.FileChange{gitFC})
		if len(found) == 0 {
			continue
		}
		c := found[0]
		c.SvnRev = entry.Revision
		c.GitSHA = gitChange.SHA

		base, _, err := a.git.FileAtCommit(ctx, "HEAD", rel)
		if err == nil {
			c.BaseContent = base
		}

		if a.tryAutoMerge(ctx, &c) {
			skip[rel] = true
			continue
		}

		if _, err := a.store.EnqueueConflict(ctx, c); err != nil {
			return err
		}
		a.sink.Notify(notify.Event{
			Name:   notify.EventConflictDetected,
			Detail: fmt.Sprintf("%s conflict on '%s'", c.Kind, c.FilePath),
			SvnRev: c.SvnRev,
			GitSHA: c.GitSHA,
		})
		a.log.WithFields(logrus.Fields{"path": rel, "kind": c.Kind}).
			Warn("conflict detected, path paused")
		skip[rel] = true
	}
	return nil
}

// tryAutoMerge resolves a content conflict inline when both edits combine
// cleanly. The merged bytes are stored as an accept_merged resolution, which
// the next cycle propagates to both sides.
func (a *SvnToGitApplier) tryAutoMerge(ctx context.Context, c *conflict.Conflict) bool {
	if !a.autoMerge || c.Kind != conflict.KindContent || c.BaseContent == nil {
		return false
	}
	base, ours, theirs := string(c.BaseContent), string(c.SvnContent), string(c.GitContent)
	if a.normalizeEOL {
		base = conflict.NormalizeLineEndings(base)
		ours = conflict.NormalizeLineEndings(ours)
		theirs = conflict.NormalizeLineEndings(theirs)
	}
	res := conflict.ThreeWayMerge(base, ours, theirs)
	if res.HasConflicts {
		return false
	}

	if _, err := a.store.EnqueueConflict(ctx, *c); err != nil {
		a.log.WithError(err).Warn("failed to record auto-merged conflict")
		return false
	}
	if err := a.store.ResolveConflict(ctx, c.ID, conflict.AcceptMerged, []byte(res.Merged), "auto-merge"); err != nil {
		a.log.WithError(err).Warn("failed to store auto-merge resolution")
		return false
	}
	_ = a.store.AppendAudit(ctx, store.AuditEntry{
		Action:  "conflict_auto_merged",
		SvnRev:  c.SvnRev,
		GitSHA:  c.GitSHA,
		Details: fmt.Sprintf("auto-merged non-overlapping edits on '%s'", c.FilePath),
		Success: true,
	})
	a.log.WithField("path", c.FilePath).Info("auto-merged non-overlapping edits")
	return true
}

func (a *SvnToGitApplier) advanceWatermark(ctx context.Context, rev int64) error {
	return a.store.PutWatermark(ctx, store.WatermarkSvnLastRev, strconv.FormatInt(rev, 10))
}

// copyTree copies the exported SVN tree into the Git working tree, applying
// the file policy. Dot entries at the destination root are never touched, so
// the Git metadata directory survives; nested dot entries copy normally.
func (a *SvnToGitApplier) copyTree(ctx context.Context, src, dst string, skip map[string]bool) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		// Root-level dot entries are excluded in both directions.
		if isRootDotEntry(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		relSlash := filepath.ToSlash(rel)
		if skip[relSlash] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		decision := a.policy.Evaluate(relSlash, info.Size())
		switch decision.Outcome {
		case policy.Skip:
			a.log.WithFields(logrus.Fields{"path": relSlash, "reason": decision.Reason}).
				Warn("file excluded by policy")
			return a.store.AppendAudit(ctx, store.AuditEntry{
				Action:    "file_policy_skip",
				Direction: store.DirectionSvnToGit,
				Details:   decision.Detail(relSlash),
				Success:   true,
			})
		case policy.LfsTrack:
			pattern := decision.Pattern
			if pattern == "" {
				pattern = lfs.PatternForPath(relSlash)
			}
			if _, err := lfs.EnsureTracked(dst, pattern); err != nil {
				return err
			}
		}

		return copyFile(path, target, info, a.syncExecBit)
	})
}

func copyFile(src, dst string, info os.FileInfo, preserveExec bool) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if preserveExec && info.Mode()&0o111 != 0 {
		mode = 0o755
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if preserveExec {
		// WriteFile does not change the mode of an existing file.
		if err := os.Chmod(dst, mode); err != nil {
			return err
		}
	}
	return nil
}

// removeStaleFiles deletes entries present under dst but absent from src,
// leaving root dot entries and paused paths alone.
func removeStaleFiles(src, dst string, skip map[string]bool) error {
	return removeStaleInner(src, dst, "", skip)
}

func removeStaleInner(src, dst, prefix string, skip map[string]bool) error {
	entries, err := os.ReadDir(dst)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dst, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if prefix == "" && strings.HasPrefix(name, ".") {
			continue
		}
		rel := filepath.ToSlash(filepath.Join(prefix, name))
		if skip[rel] {
			continue
		}

		srcPath := filepath.Join(src, prefix, name)
		dstPath := filepath.Join(dst, prefix, name)

		if entry.IsDir() {
			if info, err := os.Stat(srcPath); err == nil && info.IsDir() {
				if err := removeStaleInner(src, dst, filepath.Join(prefix, name), skip); err != nil {
					return err
				}
			} else {
				if err := os.RemoveAll(dstPath); err != nil {
					return fmt.Errorf("failed to remove stale directory %s: %w", dstPath, err)
				}
			}
			continue
		}

		if _, err := os.Stat(srcPath); os.IsNotExist(err) {
			if err := os.Remove(dstPath); err != nil {
				return fmt.Errorf("failed to remove stale file %s: %w", dstPath, err)
			}
		}
	}
	return nil
}

func isRootDotEntry(rel string) bool {
	first := rel
	if i := strings.IndexByte(rel, filepath.Separator); i >= 0 {
		first = rel[:i]
	}
	return strings.HasPrefix(first, ".")
}

// resolveRelPath maps an SVN changed-path (repository-rooted, like
// "/trunk/src/main.go") onto a path relative to the synced tree. The
// changed-path prefix depends on where the configured URL points, so the
// longest suffix that exists in the export (or matches a pending Git change)
// wins.
func resolveRelPath(exportDir, svnPath string, pendingGit map[string]GitChange) (string, bool) {
	trimmed := strings.TrimPrefix(filepath.ToSlash(svnPath), "/")
	segments := strings.Split(trimmed, "/")
	for i := 0; i < len(segments); i++ {
		candidate := strings.Join(segments[i:], "/")
		if candidate == "" {
			break
		}
		if _, err := os.Stat(filepath.Join(exportDir, filepath.FromSlash(candidate))); err == nil {
			return candidate, true
		}
		if _, ok := pendingGit[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

// normalizeIfText applies CRLF->LF normalization to text content when the
// option is enabled. Binary content is left untouched.
func normalizeIfText(data []byte, enabled bool) []byte {
	if !enabled || conflict.IsBinary(data) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
}
