package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// CommitMapEntry is one row of the commit map linking an SVN revision to a
// Git commit.
type CommitMapEntry struct {
	ID        int64
	SvnRev    int64
	GitSHA    string
	Direction string
	SyncedAt  string
	SvnAuthor string
	GitAuthor string
}

// GetWatermark reads the watermark for a source. ok is false when no
// watermark has been recorded yet.
func (s *Store) GetWatermark(ctx context.Context, source string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM watermarks WHERE source = ?", source).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read watermark %q: %w", source, err)
	}
	return value, true, nil
}

// SvnWatermark reads the SVN revision watermark as an integer (0 when unset).
func (s *Store) SvnWatermark(ctx context.Context) (int64, error) {
	value, ok, err := s.GetWatermark(ctx, WatermarkSvnLastRev)
	if err != nil || !ok {
		return 0, err
	}
	rev, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt svn watermark %q: %w", value, err)
	}
	return rev, nil
}

// PutWatermark upserts a watermark outside any larger transaction. Used by
// echo skips and operator resets; the apply paths use the transactional
// Complete* methods instead.
func (s *Store) PutWatermark(ctx context.Context, source, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (source, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		source, value, now())
	if err != nil {
		return fmt.Errorf("failed to set watermark %q: %w", source, err)
	}
	return nil
}

func putWatermarkTx(tx *sql.Tx, source, value string) error {
	_, err := tx.Exec(`
		INSERT INTO watermarks (source, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		source, value, now())
	if err != nil {
		return fmt.Errorf("failed to set watermark %q: %w", source, err)
	}
	return nil
}

func insertCommitMapTx(tx *sql.Tx, svnRev int64, gitSHA, direction, svnAuthor, gitAuthor string) error {
	_, err := tx.Exec(`
		INSERT INTO commit_map (svn_rev, git_sha, direction, synced_at, svn_author, git_author)
		VALUES (?, ?, ?, ?, ?, ?)`,
		svnRev, gitSHA, direction, now(), svnAuthor, gitAuthor)
	if err != nil {
		return fmt.Errorf("failed to insert commit_map entry: %w", err)
	}
	return nil
}

// CompleteSvnToGit records a finished SVN->Git application atomically:
// commit-map insert, svn_last_rev advance, and audit entry in one
// transaction. This is the only way the SVN watermark moves past an applied
// revision.
func (s *Store) CompleteSvnToGit(ctx context.Context, svnRev int64, gitSHA, svnAuthor, gitAuthor, detail string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertCommitMapTx(tx, svnRev, gitSHA, DirectionSvnToGit, svnAuthor, gitAuthor); err != nil {
			return err
		}
		if err := putWatermarkTx(tx, WatermarkSvnLastRev, strconv.FormatInt(svnRev, 10)); err != nil {
			return err
		}
		return appendAuditTx(tx, AuditEntry{
			Action:    "svn_to_git_commit",
			Direction: DirectionSvnToGit,
			SvnRev:    svnRev,
			GitSHA:    gitSHA,
			Author:    svnAuthor,
			Details:   detail,
			Success:   true,
		})
	})
}

// RecordGitToSvn records one replayed Git commit atomically: commit-map
// insert plus audit entry. The PR-time watermark advances separately, once
// per PR, via CompletePR.
func (s *Store) RecordGitToSvn(ctx context.Context, svnRev int64, gitSHA, svnAuthor, gitAuthor, detail string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertCommitMapTx(tx, svnRev, gitSHA, DirectionGitToSvn, svnAuthor, gitAuthor); err != nil {
			return err
		}
		return appendAuditTx(tx, AuditEntry{
			Action:    "git_to_svn_commit",
			Direction: DirectionGitToSvn,
			SvnRev:    svnRev,
			GitSHA:    gitSHA,
			Author:    svnAuthor,
			Details:   detail,
			Success:   true,
		})
	})
}

// IsSvnRevSynced reports whether a commit-map row exists for the revision.
func (s *Store) IsSvnRevSynced(ctx context.Context, svnRev int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM commit_map WHERE svn_rev = ?", svnRev).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check commit_map for r%d: %w", svnRev, err)
	}
	return count > 0, nil
}

// IsGitSHASynced reports whether a commit-map row exists for the Git commit.
func (s *Store) IsGitSHASynced(ctx context.Context, gitSHA string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM commit_map WHERE git_sha = ?", gitSHA).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check commit_map for %s: %w", gitSHA, err)
	}
	return count > 0, nil
}

// GitSHAForSvnRev looks up the Git commit a revision maps to.
func (s *Store) GitSHAForSvnRev(ctx context.Context, svnRev int64) (string, bool, error) {
	var sha string
	err := s.db.QueryRowContext(ctx,
		"SELECT git_sha FROM commit_map WHERE svn_rev = ? LIMIT 1", svnRev).Scan(&sha)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up git sha for r%d: %w", svnRev, err)
	}
	return sha, true, nil
}

// SvnRevForGitSHA looks up the SVN revision a Git commit maps to.
func (s *Store) SvnRevForGitSHA(ctx context.Context, gitSHA string) (int64, bool, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx,
		"SELECT svn_rev FROM commit_map WHERE git_sha = ? LIMIT 1", gitSHA).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up svn rev for %s: %w", gitSHA, err)
	}
	return rev, true, nil
}

// ListCommitMap returns the most recent commit-map entries, newest first.
func (s *Store) ListCommitMap(ctx context.Context, limit int) ([]CommitMapEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, svn_rev, git_sha, direction, synced_at, svn_author, git_author
		FROM commit_map ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commit_map: %w", err)
	}
	defer rows.Close()

	var entries []CommitMapEntry
	for rows.Next() {
		var e CommitMapEntry
		if err := rows.Scan(&e.ID, &e.SvnRev, &e.GitSHA, &e.Direction, &e.SyncedAt, &e.SvnAuthor, &e.GitAuthor); err != nil {
			return nil, fmt.Errorf("failed to scan commit_map entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountCommitMap returns the total number of commit-map rows.
func (s *Store) CountCommitMap(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM commit_map").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count commit_map: %w", err)
	}
	return count, nil
}
