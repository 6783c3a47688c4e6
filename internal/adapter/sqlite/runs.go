package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"devclean/internal/converge"
)

// RunRecord is one stored convergence run.
type RunRecord struct {
	ID           int64
	SessionID    string
	Context      string
	Status       converge.Status
	Converged    int
	NotConverged int
	Passes       int
	Duration     time.Duration
	StartedAt    time.Time
	Outcomes     []OutcomeRecord
}

// OutcomeRecord is the stored form of converge.Outcome.
type OutcomeRecord struct {
	Key      string
	Name     string
	Status   converge.Status
	Applied  string
	Observed converge.State
	Error    string
}

// NewRunRecord flattens a run result for storage.
func NewRunRecord(sessionID, contextName string, passes int, startedAt time.Time, result converge.RunResult) RunRecord {
	rec := RunRecord{
		SessionID:    sessionID,
		Context:      contextName,
		Status:       result.Status,
		Converged:    result.Converged,
		NotConverged: result.NotConverged,
		Passes:       passes,
		Duration:     result.Duration,
		StartedAt:    startedAt,
		Outcomes:     make([]OutcomeRecord, len(result.Outcomes)),
	}
	for i, o := range result.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		rec.Outcomes[i] = OutcomeRecord{
			Key:      o.Target.Key,
			Name:     o.Target.Name,
			Status:   o.Status,
			Applied:  o.Applied,
			Observed: o.Target.Observed,
			Error:    errText,
		}
	}
	return rec
}

// SaveRun stores rec and its outcomes and returns the new run ID.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) (id int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save run: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	started := rec.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (session_id, context, status, converged, not_converged, passes, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Context, string(rec.Status), rec.Converged, rec.NotConverged,
		rec.Passes, rec.Duration.Milliseconds(), formatTime(started))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("read run id: %w", err)
	}

	for i, o := range rec.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outcomes (run_id, position, target_key, target_name, status, applied, observed, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, o.Key, o.Name, string(o.Status), o.Applied, string(o.Observed), o.Error)
		if err != nil {
			return 0, fmt.Errorf("insert outcome %s: %w", o.Key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns up to limit runs, newest first, without outcomes.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, context, status, converged, not_converged, passes, duration_ms, started_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRecord, 0)
	for rows.Next() {
		var (
			rec        RunRecord
			status     string
			durationMS int64
			startedAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Context, &status, &rec.Converged, &rec.NotConverged, &rec.Passes, &durationMS, &startedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		rec.Status = converge.Status(status)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at of run %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}

// GetRun returns a run with its outcomes in target order.
func (s *Store) GetRun(ctx context.Context, id int64) (RunRecord, bool, error) {
	var (
		rec        RunRecord
		status     string
		durationMS int64
		startedAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, context, status, converged, not_converged, passes, duration_ms, started_at
		 FROM runs WHERE id = ?`, id).
		Scan(&rec.ID, &rec.SessionID, &rec.Context, &status, &rec.Converged, &rec.NotConverged, &rec.Passes, &durationMS, &startedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, fmt.Errorf("query run %d: %w", id, err)
	}
	rec.Status = converge.Status(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return RunRecord{}, false, fmt.Errorf("parse started_at of run %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT target_key, target_name, status, applied, observed, error
		 FROM outcomes WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("list outcomes of run %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var o OutcomeRecord
		var oStatus, observed string
		if err := rows.Scan(&o.Key, &o.Name, &oStatus, &o.Applied, &observed, &o.Error); err != nil {
			return RunRecord{}, false, fmt.Errorf("scan outcome row: %w", err)
		}
		o.Status = converge.Status(oStatus)
		o.Observed = converge.State(observed)
		rec.Outcomes = append(rec.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return RunRecord{}, false, fmt.Errorf("iterate outcome rows: %w", err)
	}
	return rec, true, nil
}
