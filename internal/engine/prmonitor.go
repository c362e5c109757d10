package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/gitsvnsync/gitsvnsync/internal/format"
	"github.com/gitsvnsync/gitsvnsync/internal/github"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
)

// Merge strategies recorded in the PR log.
const (
	StrategyMerge   = "merge"
	StrategySquash  = "squash"
	StrategyRebase  = "rebase"
	StrategyUnknown = "unknown"
)

// MergedPR is a merged pull request the Git->SVN applier has not yet
// replayed. Commits holds the PR's commits with echoes already filtered out.
type MergedPR struct {
	Number   int64
	Title    string
	Branch   string
	MergeSHA string
	MergedAt time.Time
	Strategy string
	// Commits to replay, forge order, echoes removed.
	Commits []github.CommitSummary
	// EchoCount is how many commits the echo filter dropped.
	EchoCount int
}

// PRMonitor polls the forge for merged pull requests past the PR-time
// watermark and classifies their merge strategy.
type PRMonitor struct {
	forge Forge
	store *store.Store
	base  string
	log   *logrus.Entry
}

// NewPRMonitor creates a monitor watching the given base branch.
func NewPRMonitor(forge Forge, st *store.Store, baseBranch string, logger *logrus.Logger) *PRMonitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PRMonitor{
		forge: forge,
		store: st,
		base:  baseBranch,
		log:   logger.WithField("component", "pr-monitor"),
	}
}

// Check returns unsynced merged PRs in merge-timestamp order. PRs already
// completed are skipped with the watermark advanced past them; PRs in failed
// state are left alone for the operator.
func (m *PRMonitor) Check(ctx context.Context) ([]MergedPR, error) {
	since, err := m.lastPRTime(ctx)
	if err != nil {
		return nil, err
	}

	prs, err := m.forge.ListMergedPRs(ctx, m.base, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch merged pull requests: %w", err)
	}

	var result []MergedPR
	for _, pr := range prs {
		if pr.MergeCommitSHA == "" {
			m.log.WithField("pr", pr.Number).Warn("merged PR has no merge commit, skipping")
			continue
		}

		synced, err := m.store.IsPRMergeSynced(ctx, pr.MergeCommitSHA)
		if err != nil {
			return nil, err
		}
		if synced {
			// Already replayed; move the watermark past it so it stops
			// showing up.
			if err := m.advancePastPR(ctx, pr); err != nil {
				return nil, err
			}
			continue
		}

		failed, err := m.store.IsPRMergeFailed(ctx, pr.MergeCommitSHA)
		if err != nil {
			return nil, err
		}
		if failed {
			m.log.WithField("pr", pr.Number).
				Warn("PR replay previously failed; waiting for operator action")
			continue
		}

		commits, err := m.forge.GetPRCommits(ctx, pr.Number)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch commits for PR #%d: %w", pr.Number, err)
		}

		strategy := m.detectStrategy(ctx, pr, len(commits))

		toReplay := lo.Filter(commits, func(c github.CommitSummary, _ int) bool {
			return !format.IsSyncMarker(c.Commit.Message)
		})

		result = append(result, MergedPR{
			Number:    pr.Number,
			Title:     pr.Title,
			Branch:    pr.Head.Name,
			MergeSHA:  pr.MergeCommitSHA,
			MergedAt:  pr.MergedAt,
			Strategy:  strategy,
			Commits:   toReplay,
			EchoCount: len(commits) - len(toReplay),
		})
	}

	return result, nil
}

// detectStrategy inspects the merge commit's parents:
// two parents is a true merge; one parent with a single PR commit is a
// squash; one parent with several is a rebase. Anything else (octopus
// merges, forge oddities) is unknown, and whatever commits the forge
// returned get replayed.
func (m *PRMonitor) detectStrategy(ctx context.Context, pr github.PRSummary, commitCount int) string {
	detail, err := m.forge.GetCommit(ctx, pr.MergeCommitSHA)
	if err != nil {
		m.log.WithError(err).WithField("pr", pr.Number).
			Warn("could not inspect merge commit, strategy unknown")
		return StrategyUnknown
	}

	switch {
	case len(detail.Parents) == 2:
		return StrategyMerge
	case len(detail.Parents) == 1:
		// A squash merge is a single new commit; its default title carries
		// the PR number ("Title (#42)"). Without that signal, a one-commit
		// PR is still a squash and a multi-commit PR was rebased.
		if commitCount == 1 || strings.Contains(firstLine(detail.Commit.Message), fmt.Sprintf("(#%d)", pr.Number)) {
			return StrategySquash
		}
		return StrategyRebase
	default:
		return StrategyUnknown
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// SquashReplayCommit returns the commit to replay for a squash-merged PR:
// the merge commit itself, carrying the combined tree.
func (pr *MergedPR) SquashReplayCommit(ctx context.Context, forge Forge) (github.CommitSummary, error) {
	detail, err := forge.GetCommit(ctx, pr.MergeSHA)
	if err != nil {
		return github.CommitSummary{}, fmt.Errorf("failed to fetch squash merge commit %s: %w", pr.MergeSHA, err)
	}
	return github.CommitSummary{SHA: detail.SHA, Commit: detail.Commit}, nil
}

func (m *PRMonitor) lastPRTime(ctx context.Context) (time.Time, error) {
	value, ok, err := m.store.GetWatermark(ctx, store.WatermarkGitLastPRTime)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt PR-time watermark %q: %w", value, err)
	}
	return t, nil
}

func (m *PRMonitor) advancePastPR(ctx context.Context, pr github.PRSummary) error {
	return m.store.PutWatermark(ctx, store.WatermarkGitLastPRTime,
		pr.MergedAt.UTC().Format(time.RFC3339))
}
