package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AuditEntry is a write-once record of one action the system took.
type AuditEntry struct {
	ID        int64
	Action    string
	Direction string
	SvnRev    int64
	GitSHA    string
	Author    string
	Details   string
	Success   bool
	CreatedAt string
}

func appendAuditTx(tx *sql.Tx, e AuditEntry) error {
	_, err := tx.Exec(`
		INSERT INTO audit_log (action, direction, svn_rev, git_sha, author, details, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Action, e.Direction, e.SvnRev, e.GitSHA, e.Author, e.Details, e.Success, now())
	if err != nil {
		return fmt.Errorf("failed to append audit entry %q: %w", e.Action, err)
	}
	return nil
}

// AppendAudit writes one audit entry. Audit rows are never updated.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return appendAuditTx(tx, e)
	})
}

// ListAudit returns recent audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	return s.listAudit(ctx, "", limit)
}

// ListAuditByAction returns recent audit entries for one action, newest
// first.
func (s *Store) ListAuditByAction(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	return s.listAudit(ctx, action, limit)
}

func (s *Store) listAudit(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	query := `
		SELECT id, action, COALESCE(direction, ''), COALESCE(svn_rev, 0),
		       COALESCE(git_sha, ''), COALESCE(author, ''), COALESCE(details, ''),
		       success, created_at
		FROM audit_log`
	var args []any
	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit_log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Direction, &e.SvnRev, &e.GitSHA,
			&e.Author, &e.Details, &e.Success, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAuditErrors counts audit entries recorded as failures.
func (s *Store) CountAuditErrors(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE success = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit errors: %w", err)
	}
	return count, nil
}
