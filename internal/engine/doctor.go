package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gitsvnsync/gitsvnsync/internal/format"
	"github.com/gitsvnsync/gitsvnsync/internal/gitrepo"
	"github.com/gitsvnsync/gitsvnsync/internal/lfs"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
	"github.com/gitsvnsync/gitsvnsync/internal/svn"
)

// CheckResult is one doctor probe.
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

// Doctor runs connectivity and toolchain preflight checks. It never mutates
// state. The returned slice has one entry per probe; Healthy reports the
// overall verdict.
func (e *Engine) Doctor(ctx context.Context) []CheckResult {
	var results []CheckResult
	add := func(name string, err error, okDetail string) {
		if err != nil {
			results = append(results, CheckResult{Name: name, Detail: err.Error()})
			return
		}
		results = append(results, CheckResult{Name: name, OK: true, Detail: okDetail})
	}

	svnVersion, err := svn.Version(ctx)
	add("svn binary", err, svnVersion)

	gitVersion, err := gitrepo.Version(ctx)
	add("git binary", err, gitVersion)

	if e.cfg.Options.LfsThreshold > 0 || len(e.cfg.Options.LfsPatterns) > 0 {
		lfsVersion, err := lfs.PreflightCheck()
		add("git-lfs binary", err, lfsVersion)
	}

	head, err := e.svn.HeadRevision(ctx)
	add("svn repository", err, fmt.Sprintf("HEAD is r%d", head))

	_, err = e.monitor.forge.ListMergedPRs(ctx, e.cfg.GitHub.DefaultBranch, time.Now().Add(-24*time.Hour))
	add("github api", err, "reachable")

	results = append(results, e.storeChecks(ctx)...)
	results = append(results, e.trailerChecks(ctx)...)
	return results
}

// trailerChecks cross-verifies the message trailers on the newest
// sync-written commit of each side against the commit map. The marker plus
// trailers are the defense-in-depth identity of a synced commit; a trailer
// the commit map cannot confirm means the map and the repositories have
// drifted apart.
func (e *Engine) trailerChecks(ctx context.Context) []CheckResult {
	var results []CheckResult

	// Git side: a sync-written HEAD must reference a mapped SVN revision.
	head, err := e.git.GetCommit(ctx, "HEAD")
	switch {
	case err != nil:
		results = append(results, CheckResult{
			Name: "git trailers", OK: true, Detail: "no local commits yet",
		})
	case !format.IsSyncMarker(head.Message):
		results = append(results, CheckResult{
			Name: "git trailers", OK: true, Detail: "HEAD was not written by the sync",
		})
	default:
		rev, ok := format.ExtractSvnRevision(head.Message)
		if !ok {
			results = append(results, CheckResult{
				Name: "git trailers", OK: true, Detail: "HEAD carries the marker without a revision trailer",
			})
			break
		}
		synced, err := e.store.IsSvnRevSynced(ctx, rev)
		if err != nil {
			results = append(results, CheckResult{Name: "git trailers", Detail: err.Error()})
			break
		}
		if !synced {
			results = append(results, CheckResult{
				Name:   "git trailers",
				Detail: fmt.Sprintf("HEAD claims SVN r%d but the commit map has no row for it", rev),
			})
			break
		}
		results = append(results, CheckResult{
			Name: "git trailers", OK: true, Detail: fmt.Sprintf("HEAD maps to SVN r%d", rev),
		})
	}

	// SVN side: a sync-written revision at the watermark must reference a
	// mapped Git commit.
	watermark, err := e.store.SvnWatermark(ctx)
	if err != nil || watermark == 0 {
		return results
	}
	entries, err := e.svn.Log(ctx, watermark, watermark)
	if err != nil || len(entries) == 0 {
		results = append(results, CheckResult{
			Name: "svn trailers", OK: true, Detail: fmt.Sprintf("r%d not readable, skipping", watermark),
		})
		return results
	}
	message := entries[0].Message
	if !format.IsSyncMarker(message) {
		results = append(results, CheckResult{
			Name: "svn trailers", OK: true, Detail: fmt.Sprintf("r%d was not written by the sync", watermark),
		})
		return results
	}
	sha, ok := format.ExtractGitCommit(message)
	if !ok {
		results = append(results, CheckResult{
			Name: "svn trailers", OK: true, Detail: fmt.Sprintf("r%d carries the marker without a commit trailer", watermark),
		})
		return results
	}
	synced, err := e.store.IsGitSHASynced(ctx, sha)
	if err != nil {
		results = append(results, CheckResult{Name: "svn trailers", Detail: err.Error()})
		return results
	}
	detail := fmt.Sprintf("r%d maps to Git %s", watermark, sha)
	if pr, ok := format.ExtractPRNumber(message); ok {
		detail += fmt.Sprintf(" (PR #%d)", pr)
	}
	if !synced {
		results = append(results, CheckResult{
			Name:   "svn trailers",
			Detail: fmt.Sprintf("r%d claims Git commit %s but the commit map has no row for it", watermark, sha),
		})
		return results
	}
	results = append(results, CheckResult{Name: "svn trailers", OK: true, Detail: detail})
	return results
}

// storeChecks validates invariants between the store and the watermarks.
func (e *Engine) storeChecks(ctx context.Context) []CheckResult {
	var results []CheckResult

	count, err := e.store.CountCommitMap(ctx)
	if err != nil {
		return append(results, CheckResult{Name: "store", Detail: err.Error()})
	}
	results = append(results, CheckResult{
		Name: "store", OK: true, Detail: fmt.Sprintf("%d commit-map rows", count),
	})

	watermark, err := e.store.SvnWatermark(ctx)
	if err != nil {
		return append(results, CheckResult{Name: "watermark", Detail: err.Error()})
	}
	// A watermark with an empty commit map means state was lost or reset
	// behind the daemon's back.
	if watermark > 0 && count == 0 {
		results = append(results, CheckResult{
			Name:   "watermark",
			Detail: fmt.Sprintf("svn_last_rev is r%d but the commit map is empty; state is inconsistent", watermark),
		})
		return results
	}
	results = append(results, CheckResult{
		Name: "watermark", OK: true, Detail: fmt.Sprintf("svn_last_rev is r%d", watermark),
	})

	failed, err := e.store.ListPRSyncLog(ctx, store.PRStatusFailed, 1)
	if err == nil && len(failed) > 0 {
		results = append(results, CheckResult{
			Name:   "pr log",
			Detail: fmt.Sprintf("PR #%d is in failed state and needs operator action", failed[0].PRNumber),
		})
	} else {
		results = append(results, CheckResult{Name: "pr log", OK: true, Detail: "no failed replays"})
	}
	return results
}

// Healthy reports whether every probe passed.
func Healthy(results []CheckResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}
