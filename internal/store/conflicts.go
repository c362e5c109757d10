package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gitsvnsync/gitsvnsync/internal/conflict"
)

// ConflictRecord is the persisted form of a detected conflict.
type ConflictRecord struct {
	ID                   string
	FilePath             string
	Kind                 conflict.Kind
	SvnContent           []byte
	GitContent           []byte
	BaseContent          []byte
	SvnRev               int64
	GitSHA               string
	Status               conflict.Status
	Resolution           conflict.Resolution
	ResolvedContentBytes []byte
	ResolvedBy           string
	CreatedAt            string
	ResolvedAt           string
}

// EnqueueConflict persists a detected conflict and writes the matching audit
// entry in one transaction. Returns the conflict ID.
func (s *Store) EnqueueConflict(ctx context.Context, c conflict.Conflict) (string, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO conflicts (id, file_path, conflict_type, svn_content, git_content,
				base_content, svn_rev, git_sha, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.FilePath, string(c.Kind), c.SvnContent, c.GitContent,
			c.BaseContent, c.SvnRev, c.GitSHA, string(conflict.StatusDetected), now())
		if err != nil {
			return fmt.Errorf("failed to insert conflict for %s: %w", c.FilePath, err)
		}
		return appendAuditTx(tx, AuditEntry{
			Action:  "conflict_detected",
			SvnRev:  c.SvnRev,
			GitSHA:  c.GitSHA,
			Details: fmt.Sprintf("%s conflict on '%s'", c.Kind, c.FilePath),
			Success: true,
		})
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// GetConflict fetches a conflict by ID.
func (s *Store) GetConflict(ctx context.Context, id string) (ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, conflict_type, svn_content, git_content, base_content,
		       COALESCE(svn_rev, 0), COALESCE(git_sha, ''), status,
		       COALESCE(resolution, ''), resolved_content, COALESCE(resolved_by, ''),
		       created_at, COALESCE(resolved_at, '')
		FROM conflicts WHERE id = ?`, id)

	rec, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ConflictRecord{}, fmt.Errorf("%w: conflict %s", ErrNotFound, id)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(row rowScanner) (ConflictRecord, error) {
	var rec ConflictRecord
	var kind, status, resolution string
	err := row.Scan(&rec.ID, &rec.FilePath, &kind, &rec.SvnContent, &rec.GitContent,
		&rec.BaseContent, &rec.SvnRev, &rec.GitSHA, &status, &resolution,
		&rec.ResolvedContentBytes, &rec.ResolvedBy, &rec.CreatedAt, &rec.ResolvedAt)
	if err != nil {
		return ConflictRecord{}, err
	}
	rec.Kind = conflict.Kind(kind)
	rec.Status = conflict.Status(status)
	rec.Resolution = conflict.Resolution(resolution)
	return rec, nil
}

// ListConflicts returns conflicts, optionally filtered by status, newest
// first.
func (s *Store) ListConflicts(ctx context.Context, status conflict.Status, limit int) ([]ConflictRecord, error) {
	query := `
		SELECT id, file_path, conflict_type, svn_content, git_content, base_content,
		       COALESCE(svn_rev, 0), COALESCE(git_sha, ''), status,
		       COALESCE(resolution, ''), resolved_content, COALESCE(resolved_by, ''),
		       created_at, COALESCE(resolved_at, '')
		FROM conflicts`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var records []ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ActiveConflictPaths returns the set of file paths paused by a conflict in
// {detected, queued, deferred}. Both appliers must skip these paths.
func (s *Store) ActiveConflictPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT file_path FROM conflicts WHERE status IN (?, ?, ?)`,
		string(conflict.StatusDetected), string(conflict.StatusQueued), string(conflict.StatusDeferred))
	if err != nil {
		return nil, fmt.Errorf("failed to list active conflict paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan conflict path: %w", err)
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// HasActiveConflictForPath reports whether the path is currently paused.
func (s *Store) HasActiveConflictForPath(ctx context.Context, path string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conflicts WHERE file_path = ? AND status IN (?, ?, ?)`,
		path, string(conflict.StatusDetected), string(conflict.StatusQueued),
		string(conflict.StatusDeferred)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check conflicts for %s: %w", path, err)
	}
	return count > 0, nil
}

// UpdateConflictStatus moves a non-terminal conflict to a new non-terminal
// status (queued, deferred).
func (s *Store) UpdateConflictStatus(ctx context.Context, id string, status conflict.Status) error {
	rec, err := s.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == conflict.StatusResolved {
		return fmt.Errorf("%w: conflict %s", ErrAlreadyResolved, id)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE conflicts SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update conflict %s: %w", id, err)
	}
	return nil
}

// ResolveConflict applies an operator resolution. Resolution is terminal:
// resolving an already-resolved conflict fails with ErrAlreadyResolved.
// For ManualContent the operator-supplied bytes are stored for the next
// cycle to apply; for the accept strategies the stored side content is used.
func (s *Store) ResolveConflict(ctx context.Context, id string, resolution conflict.Resolution, content []byte, resolvedBy string) error {
	rec, err := s.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == conflict.StatusResolved {
		return fmt.Errorf("%w: conflict %s", ErrAlreadyResolved, id)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE conflicts SET status = ?, resolution = ?, resolved_content = ?, resolved_by = ?, resolved_at = ?
			WHERE id = ?`,
			string(conflict.StatusResolved), string(resolution), content, resolvedBy, now(), id)
		if err != nil {
			return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
		}
		return appendAuditTx(tx, AuditEntry{
			Action:  "conflict_resolved",
			SvnRev:  rec.SvnRev,
			GitSHA:  rec.GitSHA,
			Author:  resolvedBy,
			Details: fmt.Sprintf("resolved conflict on '%s' with strategy '%s'", rec.FilePath, resolution),
			Success: true,
		})
	})
}

// ResolvedContent returns the bytes a resolved conflict should install,
// according to its chosen resolution. ok is false for deferred or pending
// records with nothing to apply.
func (r ConflictRecord) ResolvedContent() ([]byte, bool) {
	switch r.Resolution {
	case conflict.AcceptSvn:
		return r.SvnContent, r.SvnContent != nil
	case conflict.AcceptGit:
		return r.GitContent, r.GitContent != nil
	case conflict.AcceptMerged, conflict.ManualContent:
		return r.ResolvedContentBytes, r.ResolvedContentBytes != nil
	}
	return nil, false
}

// ListResolvedUnapplied returns resolved conflicts that have not yet been
// propagated to both sides. The engine applies them at the start of a cycle
// and then marks them applied.
func (s *Store) ListResolvedUnapplied(ctx context.Context) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, conflict_type, svn_content, git_content, base_content,
		       COALESCE(svn_rev, 0), COALESCE(git_sha, ''), status,
		       COALESCE(resolution, ''), resolved_content, COALESCE(resolved_by, ''),
		       created_at, COALESCE(resolved_at, '')
		FROM conflicts
		WHERE status = ? AND id NOT IN (SELECT value FROM kv_state WHERE key LIKE 'conflict_applied:%')
		ORDER BY resolved_at ASC`, string(conflict.StatusResolved))
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved conflicts: %w", err)
	}
	defer rows.Close()

	var records []ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkConflictApplied records that a resolution has been propagated.
func (s *Store) MarkConflictApplied(ctx context.Context, id string) error {
	return s.SetState(ctx, "conflict_applied:"+id, id)
}
