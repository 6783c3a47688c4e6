package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"devclean/internal/session"
)

var _ session.Ledger = (*Store)(nil)

// LeaseRecord is a lease row, released or not.
type LeaseRecord struct {
	session.Lease
	Released    bool
	ReleasedBy  session.TerminationPath
	DeleteError string
}

// RecordAcquired inserts a lease. Re-recording the same session ID resets it
// to unreleased.
func (s *Store) RecordAcquired(ctx context.Context, lease session.Lease) error {
	labels := lease.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	payload, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("marshal lease labels: %w", err)
	}
	acquired := lease.AcquiredAt
	if acquired.IsZero() {
		acquired = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leases (session_id, provider, context, labels_json, acquired_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		 provider = excluded.provider,
		 context = excluded.context,
		 labels_json = excluded.labels_json,
		 acquired_at = excluded.acquired_at,
		 released_at = NULL,
		 released_by = NULL,
		 delete_error = NULL`,
		lease.SessionID,
		lease.Provider,
		lease.Context,
		string(payload),
		formatTime(acquired),
	)
	if err != nil {
		return fmt.Errorf("record lease %s: %w", lease.SessionID, err)
	}
	return nil
}

// RecordReleased marks a lease released. A failed delete keeps the lease
// open so it shows up as leaked, with the error attached.
func (s *Store) RecordReleased(ctx context.Context, sessionID string, path session.TerminationPath, deleteErr error) error {
	if deleteErr != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE leases SET released_by = ?, delete_error = ? WHERE session_id = ?`,
			string(path), deleteErr.Error(), sessionID)
		if err != nil {
			return fmt.Errorf("record failed release of %s: %w", sessionID, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE leases SET released_at = ?, released_by = ?, delete_error = NULL WHERE session_id = ?`,
		formatTime(s.now()), string(path), sessionID)
	if err != nil {
		return fmt.Errorf("record release of %s: %w", sessionID, err)
	}
	return nil
}

// OpenLeases lists leases that were never confirmed released, oldest first.
// An empty contextName matches every context.
func (s *Store) OpenLeases(ctx context.Context, contextName string) ([]LeaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, provider, context, labels_json, acquired_at, released_by, delete_error
		 FROM leases
		 WHERE released_at IS NULL AND (? = '' OR context = ?)
		 ORDER BY acquired_at, session_id`,
		contextName, contextName)
	if err != nil {
		return nil, fmt.Errorf("list open leases: %w", err)
	}
	defer rows.Close()

	out := make([]LeaseRecord, 0)
	for rows.Next() {
		var (
			rec        LeaseRecord
			labelsJSON string
			acquiredAt string
			releasedBy sql.NullString
			deleteErr  sql.NullString
		)
		if err := rows.Scan(&rec.SessionID, &rec.Provider, &rec.Context, &labelsJSON, &acquiredAt, &releasedBy, &deleteErr); err != nil {
			return nil, fmt.Errorf("scan lease row: %w", err)
		}
		if err := json.Unmarshal([]byte(labelsJSON), &rec.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels of lease %s: %w", rec.SessionID, err)
		}
		if rec.AcquiredAt, err = parseTime(acquiredAt); err != nil {
			return nil, fmt.Errorf("parse acquired_at of lease %s: %w", rec.SessionID, err)
		}
		rec.ReleasedBy = session.TerminationPath(releasedBy.String)
		rec.DeleteError = deleteErr.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lease rows: %w", err)
	}
	return out, nil
}
