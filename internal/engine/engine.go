package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitsvnsync/gitsvnsync/internal/config"
	"github.com/gitsvnsync/gitsvnsync/internal/format"
	"github.com/gitsvnsync/gitsvnsync/internal/identity"
	"github.com/gitsvnsync/gitsvnsync/internal/notify"
	"github.com/gitsvnsync/gitsvnsync/internal/policy"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
)

// State is the orchestrator's position in a sync cycle. Every transition is
// snapshotted to the store for crash recovery.
type State string

const (
	StateIdle             State = "idle"
	StatePollingSvn       State = "polling_svn"
	StateApplyingSvnToGit State = "applying_svn_to_git"
	StatePollingGitPRs    State = "polling_git_prs"
	StateApplyingGitToSvn State = "applying_git_to_svn"
	StateConflictDetected State = "conflict_detected"
	StateError            State = "error"
	StateShutdown         State = "shutdown"
)

// CycleStats summarises one cycle.
type CycleStats struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	SvnToGitCount   int
	GitToSvnCount   int
	PRsProcessed    int
	PRsFailed       int
	ConflictsActive int
}

// Engine orchestrates the two sync phases. At most one cycle runs at a time;
// overlapping RunCycle calls fail fast.
type Engine struct {
	cfg   config.Config
	store *store.Store
	sink  notify.Sink
	log   *logrus.Entry

	svnToGit *SvnToGitApplier
	gitToSvn *GitToSvnApplier
	monitor  *PRMonitor
	git      GitRepo
	svn      SvnClient

	running atomic.Bool
	stateMu sync.Mutex
	state   State
}

// New wires up the engine from its collaborators.
func New(cfg config.Config, st *store.Store, svnClient SvnClient, git GitRepo, forge Forge, mapper identity.Mapper, sink notify.Sink, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sink == nil {
		sink = notify.LogSink{Log: logger}
	}

	pol := policy.New(cfg.Options.MaxFileSize, cfg.Options.IgnorePatterns,
		cfg.Options.LfsThreshold, cfg.Options.LfsPatterns)
	formatter := format.New(cfg.CommitFormat.SvnToGit, cfg.CommitFormat.GitToSvn)
	daemonID := identity.GitIdentity{Name: "gitsvnsync", Email: "gitsvnsync@localhost"}

	remoteURL := fmt.Sprintf("https://github.com/%s.git", cfg.GitHub.Repo)
	if cfg.GitHub.APIURL != "" && cfg.GitHub.APIURL != "https://api.github.com" {
		// GitHub Enterprise: clone over the forge host rather than
		// github.com.
		remoteURL = fmt.Sprintf("%s/%s.git", forgeWebBase(cfg.GitHub.APIURL), cfg.GitHub.Repo)
	}

	e := &Engine{
		cfg:   cfg,
		store: st,
		sink:  sink,
		log:   logger.WithField("component", "engine"),
		git:   git,
		svn:   svnClient,
		state: StateIdle,
	}

	e.svnToGit = &SvnToGitApplier{
		svn:          svnClient,
		git:          git,
		store:        st,
		mapper:       mapper,
		policy:       pol,
		formatter:    formatter,
		sink:         sink,
		log:          logger.WithField("component", "svn-to-git"),
		remoteURL:    remoteURL,
		branch:       cfg.GitHub.DefaultBranch,
		daemonID:     daemonID,
		normalizeEOL: cfg.Options.NormalizeLineEndings,
		syncExecBit:  cfg.Options.SyncExecutableBit,
		autoMerge:    cfg.Options.AutoMerge,
	}
	e.gitToSvn = &GitToSvnApplier{
		svn:            svnClient,
		git:            git,
		forge:          forge,
		store:          st,
		mapper:         mapper,
		policy:         pol,
		formatter:      formatter,
		sink:           sink,
		log:            logger.WithField("component", "git-to-svn"),
		wcDir:          cfg.SvnWcPath(),
		defaultSvnUser: cfg.Developer.SvnUsername,
		normalizeEOL:   cfg.Options.NormalizeLineEndings,
	}
	e.monitor = NewPRMonitor(forge, st, cfg.GitHub.DefaultBranch, logger)
	return e
}

// State returns the current orchestrator state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// IsRunning reports whether a cycle is in flight.
func (e *Engine) IsRunning() bool { return e.running.Load() }

func (e *Engine) setState(ctx context.Context, s State) {
	e.stateMu.Lock()
	prev := e.state
	e.state = s
	e.stateMu.Unlock()

	e.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("state transition")
	if err := e.store.SnapshotSyncState(ctx, string(s)); err != nil {
		e.log.WithError(err).Warn("failed to snapshot sync state")
	}
}

// Bootstrap performs crash recovery on startup: the last snapshotted state
// is inspected and the engine resumes from Idle. Half-applied work from a
// previous run is completed or retried by the idempotency checks inside the
// appliers.
func (e *Engine) Bootstrap(ctx context.Context) error {
	last, err := e.store.LoadSyncState(ctx)
	if err != nil {
		return err
	}
	if last != "" && last != string(StateIdle) && last != string(StateShutdown) {
		e.log.WithField("previous_state", last).
			Warn("previous run did not shut down cleanly; resuming via idempotent replay")
		if err := e.store.AppendAudit(ctx, store.AuditEntry{
			Action:  "crash_recovery",
			Details: fmt.Sprintf("resumed after crash in state %q", last),
			Success: true,
		}); err != nil {
			return err
		}
	}
	e.setState(ctx, StateIdle)
	return nil
}

// Shutdown records the terminal state after the scheduler stops.
func (e *Engine) Shutdown(ctx context.Context) {
	e.setState(ctx, StateShutdown)
}

// RunCycle executes one full sync cycle: resolution application, SVN->Git,
// then Git->SVN. A failure in the first phase is audited and does not abort
// the second. Only the returned error of the cycle as a whole is nil unless
// the engine could not run at all.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return CycleStats{}, fmt.Errorf("sync cycle already in progress")
	}
	defer e.running.Store(false)

	stats := CycleStats{StartedAt: time.Now().UTC()}

	// Install operator resolutions decided since the last cycle before
	// either side polls, so unpaused paths flow again this cycle.
	if err := e.applyResolutions(ctx); err != nil {
		e.log.WithError(err).Error("failed to apply conflict resolutions")
	}

	// Phase 0: find merged PRs first; their pending changes feed cross-side
	// conflict detection during the SVN->Git phase.
	e.setState(ctx, StatePollingGitPRs)
	prs, err := e.monitor.Check(ctx)
	if err != nil {
		e.log.WithError(err).Error("failed to poll merged PRs")
		prs = nil
	}
	pendingGit := PendingChanges(ctx, e.git, prs)

	// Phase 1: SVN -> Git.
	e.setState(ctx, StatePollingSvn)
	e.setState(ctx, StateApplyingSvnToGit)
	count, err := e.svnToGit.Run(ctx, pendingGit)
	stats.SvnToGitCount = count
	if err != nil {
		e.setState(ctx, StateError)
		e.log.WithError(err).Error("SVN->Git phase failed")
		_ = e.store.AppendAudit(ctx, store.AuditEntry{
			Action:    "cycle_error",
			Direction: store.DirectionSvnToGit,
			Details:   err.Error(),
			Success:   false,
		})
		e.sink.Notify(notify.Event{Name: notify.EventCycleError, Detail: err.Error()})
		// The Git->SVN phase still runs.
	}

	// Phase 2: Git -> SVN.
	e.setState(ctx, StateApplyingGitToSvn)
	result, err := e.gitToSvn.Run(ctx, prs)
	stats.GitToSvnCount = result.CommitsSynced
	stats.PRsProcessed = result.PRsSynced
	stats.PRsFailed = result.PRsFailed
	if err != nil {
		e.setState(ctx, StateError)
		e.log.WithError(err).Error("Git->SVN phase failed")
		_ = e.store.AppendAudit(ctx, store.AuditEntry{
			Action:    "cycle_error",
			Direction: store.DirectionGitToSvn,
			Details:   err.Error(),
			Success:   false,
		})
		e.sink.Notify(notify.Event{Name: notify.EventCycleError, Detail: err.Error()})
	}

	active, aerr := e.store.ActiveConflictPaths(ctx)
	if aerr == nil {
		stats.ConflictsActive = len(active)
		if len(active) > 0 {
			e.setState(ctx, StateConflictDetected)
		}
	}

	stats.CompletedAt = time.Now().UTC()
	e.setState(ctx, StateIdle)

	_ = e.store.AppendAudit(ctx, store.AuditEntry{
		Action: "sync_cycle",
		Details: fmt.Sprintf("svn->git: %d, git->svn: %d (%d PRs, %d failed), active conflicts: %d",
			stats.SvnToGitCount, stats.GitToSvnCount, stats.PRsProcessed, stats.PRsFailed, stats.ConflictsActive),
		Success: true,
	})
	return stats, nil
}

// applyResolutions installs resolved conflict content on both sides and
// marks each record applied. accept-svn/accept-git pick one side verbatim,
// accept-merged and manual-content install stored bytes; a nil payload on an
// edit/delete resolution deletes the path.
func (e *Engine) applyResolutions(ctx context.Context) error {
	pending, err := e.store.ListResolvedUnapplied(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		content, ok := rec.ResolvedContent()

		message := fmt.Sprintf("Apply conflict resolution (%s) for %s\n\nSync-Marker: %s",
			rec.Resolution, rec.FilePath, format.SyncMarker)

		if err := e.installOnGit(ctx, rec.FilePath, content, ok, message); err != nil {
			e.log.WithError(err).WithField("path", rec.FilePath).
				Error("failed to install resolution on Git side")
			continue
		}
		if err := e.installOnSvn(ctx, rec.FilePath, content, ok, message); err != nil {
			e.log.WithError(err).WithField("path", rec.FilePath).
				Error("failed to install resolution on SVN side")
			continue
		}

		if err := e.store.MarkConflictApplied(ctx, rec.ID); err != nil {
			return err
		}
		_ = e.store.AppendAudit(ctx, store.AuditEntry{
			Action:  "conflict_resolution_applied",
			SvnRev:  rec.SvnRev,
			GitSHA:  rec.GitSHA,
			Details: fmt.Sprintf("installed %s on '%s'", rec.Resolution, rec.FilePath),
			Success: true,
		})
	}
	return nil
}

func (e *Engine) installOnGit(ctx context.Context, relPath string, content []byte, present bool, message string) error {
	target := filepath.Join(e.git.Root(), filepath.FromSlash(relPath))
	if err := writeOrRemove(target, content, present); err != nil {
		return err
	}
	if _, err := e.git.CreateCommit(ctx, e.svnToGit.daemonID, e.svnToGit.daemonID, message); err != nil {
		return err
	}
	return e.git.Push(ctx, e.svnToGit.remoteURL, e.svnToGit.branch+":"+e.svnToGit.branch)
}

func (e *Engine) installOnSvn(ctx context.Context, relPath string, content []byte, present bool, message string) error {
	if err := e.gitToSvn.ensureWorkingCopy(ctx); err != nil {
		return err
	}
	if err := e.svn.Update(ctx, e.gitToSvn.wcDir); err != nil {
		return err
	}
	target := filepath.Join(e.gitToSvn.wcDir, filepath.FromSlash(relPath))
	if err := writeOrRemove(target, content, present); err != nil {
		return err
	}

	statuses, err := e.svn.Status(ctx, e.gitToSvn.wcDir)
	if err != nil {
		return err
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
	if err := e.svn.Add(ctx, e.gitToSvn.wcDir, toAdd); err != nil {
		return err
	}
	if err := e.svn.Remove(ctx, e.gitToSvn.wcDir, toRemove); err != nil {
		return err
	}
	_, err = e.svn.Commit(ctx, e.gitToSvn.wcDir, message, e.gitToSvn.defaultSvnUser)
	return err
}

func writeOrRemove(target string, content []byte, present bool) error {
	if !present {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, content, 0o644)
}

// forgeWebBase derives the clone base URL from a GitHub Enterprise API URL
// (https://host/api/v3 -> https://host).
func forgeWebBase(apiURL string) string {
	base := strings.TrimSuffix(apiURL, "/")
	base = strings.TrimSuffix(base, "/api/v3")
	return strings.TrimSuffix(base, "/")
}
