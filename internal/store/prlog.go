package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PR sync statuses.
const (
	PRStatusPending   = "pending"
	PRStatusCompleted = "completed"
	PRStatusFailed    = "failed"
)

// PRSyncEntry is one row of the PR sync log.
type PRSyncEntry struct {
	ID            int64
	PRNumber      int64
	Title         string
	Branch        string
	MergeSHA      string
	MergeStrategy string
	SvnRevStart   int64
	SvnRevEnd     int64
	CommitCount   int64
	Status        string
	ErrorMessage  string
	DetectedAt    string
	CompletedAt   string
}

// PRMeta describes a merged PR at begin time.
type PRMeta struct {
	Number      int64
	Title       string
	Branch      string
	Strategy    string
	CommitCount int
}

// BeginPR records a merged PR as pending before replay starts. The unique
// index on merge_sha means a PR can only ever be begun once; a crash between
// begin and complete leaves a pending row that the next cycle resumes.
func (s *Store) BeginPR(ctx context.Context, mergeSHA string, meta PRMeta) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pr_sync_log (pr_number, pr_title, pr_branch, merge_sha, merge_strategy, commit_count, status, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.Number, meta.Title, meta.Branch, mergeSHA, meta.Strategy, meta.CommitCount, PRStatusPending, now())
	if err != nil {
		return 0, fmt.Errorf("failed to insert pr_sync_log entry for %s: %w", mergeSHA, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read pr_sync_log id: %w", err)
	}
	return id, nil
}

// ResumePendingPR returns the id of an existing non-completed row for the
// merge SHA, so a crashed replay can be resumed instead of re-begun.
func (s *Store) ResumePendingPR(ctx context.Context, mergeSHA string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM pr_sync_log WHERE merge_sha = ? AND status != ?`,
		mergeSHA, PRStatusCompleted).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up pending pr_sync_log for %s: %w", mergeSHA, err)
	}
	return id, true, nil
}

// CompletePR marks the PR replay finished and advances the PR-time watermark
// in the same transaction.
func (s *Store) CompletePR(ctx context.Context, id int64, svnRevStart, svnRevEnd int64, mergedAt string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE pr_sync_log SET status = ?, svn_rev_start = ?, svn_rev_end = ?, completed_at = ?, error_message = NULL
			WHERE id = ?`,
			PRStatusCompleted, svnRevStart, svnRevEnd, now(), id)
		if err != nil {
			return fmt.Errorf("failed to complete pr_sync_log %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: pr_sync_log %d", ErrNotFound, id)
		}
		if mergedAt != "" {
			return putWatermarkTx(tx, WatermarkGitLastPRTime, mergedAt)
		}
		return nil
	})
}

// FailPR marks the PR replay failed with the given error message. Failed
// rows are never retried automatically; they require operator action.
func (s *Store) FailPR(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pr_sync_log SET status = ?, error_message = ? WHERE id = ?`,
		PRStatusFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to fail pr_sync_log %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: pr_sync_log %d", ErrNotFound, id)
	}
	return nil
}

// IsPRMergeSynced reports whether a completed PR-log row exists for the
// merge commit.
func (s *Store) IsPRMergeSynced(ctx context.Context, mergeSHA string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pr_sync_log WHERE merge_sha = ? AND status = ?",
		mergeSHA, PRStatusCompleted).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pr_sync_log for %s: %w", mergeSHA, err)
	}
	return count > 0, nil
}

// IsPRMergeFailed reports whether the merge commit has a failed row, which
// blocks automatic retry.
func (s *Store) IsPRMergeFailed(ctx context.Context, mergeSHA string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pr_sync_log WHERE merge_sha = ? AND status = ?",
		mergeSHA, PRStatusFailed).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pr_sync_log for %s: %w", mergeSHA, err)
	}
	return count > 0, nil
}

// ListPRSyncLog returns PR-log rows, optionally filtered by status, newest
// first.
func (s *Store) ListPRSyncLog(ctx context.Context, status string, limit int) ([]PRSyncEntry, error) {
	query := `
		SELECT id, pr_number, pr_title, pr_branch, merge_sha, merge_strategy,
		       COALESCE(svn_rev_start, 0), COALESCE(svn_rev_end, 0), commit_count,
		       status, COALESCE(error_message, ''), detected_at, COALESCE(completed_at, '')
		FROM pr_sync_log`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pr_sync_log: %w", err)
	}
	defer rows.Close()

	var entries []PRSyncEntry
	for rows.Next() {
		var e PRSyncEntry
		if err := rows.Scan(&e.ID, &e.PRNumber, &e.Title, &e.Branch, &e.MergeSHA, &e.MergeStrategy,
			&e.SvnRevStart, &e.SvnRevEnd, &e.CommitCount, &e.Status, &e.ErrorMessage,
			&e.DetectedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pr_sync_log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
