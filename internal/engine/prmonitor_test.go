package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitsvnsync/gitsvnsync/internal/github"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
)

func monitorEnv(t *testing.T) (*PRMonitor, *fakeForge, *store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	st, err := store.Open(filepath.Join(t.TempDir(), "personal.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	forge := newFakeForge()
	return NewPRMonitor(forge, st, "main", logger), forge, st
}

func mergedPR(number int64, mergeSHA string, mergedAt time.Time) github.PRSummary {
	return github.PRSummary{
		Number:         number,
		Title:          "PR",
		MergeCommitSHA: mergeSHA,
		MergedAt:       mergedAt,
		Head:           github.Ref{Name: "branch"},
	}
}

func TestStrategyDetection(t *testing.T) {
	monitor, forge, _ := monitorEnv(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		parents  int
		count    int
		message  string
		expected string
	}{
		{"true merge", 2, 3, "Merge pull request #1", StrategyMerge},
		{"single commit squash", 1, 1, "whatever", StrategySquash},
		{"multi commit squash by title", 1, 2, "Add feature (#1)", StrategySquash},
		{"rebase", 1, 3, "last rebased commit", StrategyRebase},
		{"octopus", 3, 2, "odd merge", StrategyUnknown},
		{"no parents", 0, 1, "root", StrategyUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			forge.details["sha"] = github.CommitDetail{
				SHA:     "sha",
				Commit:  github.CommitInner{Message: tc.message},
				Parents: make([]github.Parent, tc.parents),
			}
			pr := mergedPR(1, "sha", time.Now())
			assert.Equal(t, tc.expected, monitor.detectStrategy(ctx, pr, tc.count))
		})
	}
}

func TestStrategyUnknownWhenForgeFails(t *testing.T) {
	monitor, _, _ := monitorEnv(t)
	pr := mergedPR(1, "missing-sha", time.Now())
	assert.Equal(t, StrategyUnknown, monitor.detectStrategy(context.Background(), pr, 2))
}

func TestCheckSkipsCompletedAndFailedPRs(t *testing.T) {
	monitor, forge, st := monitorEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	forge.prs = []github.PRSummary{
		mergedPR(1, "done-sha", t1),
		mergedPR(2, "failed-sha", t2),
		mergedPR(3, "new-sha", t3),
	}
	for _, sha := range []string{"done-sha", "failed-sha", "new-sha"} {
		forge.details[sha] = github.CommitDetail{
			SHA: sha, Parents: []github.Parent{{SHA: "a"}, {SHA: "b"}},
		}
	}
	forge.prCommits[3] = []github.CommitSummary{
		{SHA: "c", Commit: github.CommitInner{Message: "work"}},
	}

	// PR 1 already completed; PR 2 previously failed.
	id, err := st.BeginPR(ctx, "done-sha", store.PRMeta{Number: 1})
	require.NoError(t, err)
	require.NoError(t, st.CompletePR(ctx, id, 1, 1, t1.Format(time.RFC3339)))
	id, err = st.BeginPR(ctx, "failed-sha", store.PRMeta{Number: 2})
	require.NoError(t, err)
	require.NoError(t, st.FailPR(ctx, id, "boom"))

	prs, err := monitor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, int64(3), prs[0].Number)
	assert.Equal(t, StrategyMerge, prs[0].Strategy)
	require.Len(t, prs[0].Commits, 1)
}

func TestCheckFiltersEchoCommits(t *testing.T) {
	monitor, forge, _ := monitorEnv(t)
	ctx := context.Background()

	forge.prs = []github.PRSummary{mergedPR(5, "m5", time.Now())}
	forge.details["m5"] = github.CommitDetail{
		SHA: "m5", Parents: []github.Parent{{SHA: "a"}, {SHA: "b"}},
	}
	forge.prCommits[5] = []github.CommitSummary{
		{SHA: "c1", Commit: github.CommitInner{Message: "real work"}},
		{SHA: "c2", Commit: github.CommitInner{Message: "Synced from SVN [gitsvnsync]"}},
		{SHA: "c3", Commit: github.CommitInner{Message: "more work"}},
	}

	prs, err := monitor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Len(t, prs[0].Commits, 2)
	assert.Equal(t, 1, prs[0].EchoCount)
	for _, c := range prs[0].Commits {
		assert.NotContains(t, c.Commit.Message, "[gitsvnsync]")
	}
}
