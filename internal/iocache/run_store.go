package iocache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/jmoiron/sqlx"
)

const runColumns = `id, org, username, run_year, status, phase, progress, error_message, run_options,
	lease, lease_held, created_at, updated_at, started_at, finished_at`

// runRow is the storage shape of an AnalysisRun.
type runRow struct {
	ID           string        `db:"id"`
	Org          string        `db:"org"`
	Username     string        `db:"username"`
	Year         int           `db:"run_year"`
	Status       string        `db:"status"`
	Phase        string        `db:"phase"`
	Progress     string        `db:"progress"`
	ErrorMessage string        `db:"error_message"`
	Options      string        `db:"run_options"`
	Lease        int64         `db:"lease"`
	LeaseHeld    int           `db:"lease_held"`
	CreatedAt    int64         `db:"created_at"`
	UpdatedAt    int64         `db:"updated_at"`
	StartedAt    sql.NullInt64 `db:"started_at"`
	FinishedAt   sql.NullInt64 `db:"finished_at"`
}

// toRun decodes a row. A checkpoint that cannot be decoded is surfaced as a
// fatal progress document instead of an error so the run can still be
// inspected, restarted or deleted.
func (r runRow) toRun() schema.AnalysisRun {
	run := schema.AnalysisRun{
		ID:         r.ID,
		Org:        r.Org,
		User:       r.Username,
		Year:       r.Year,
		Status:     schema.RunStatus(r.Status),
		Phase:      schema.Phase(r.Phase),
		Error:      r.ErrorMessage,
		Lease:      r.Lease,
		Executing:  r.LeaseHeld != 0,
		CreatedAt:  fromMillis(r.CreatedAt),
		UpdatedAt:  fromMillis(r.UpdatedAt),
		StartedAt:  fromNullMillis(r.StartedAt),
		FinishedAt: fromNullMillis(r.FinishedAt),
	}
	_ = json.Unmarshal([]byte(r.Options), &run.Options)

	var progress schema.Progress
	err := json.Unmarshal([]byte(r.Progress), &progress)
	switch {
	case err != nil:
		run.Progress = corruptProgress(run.Phase, fmt.Sprintf("checkpoint is corrupt: %v", err))
	case progress.Version > schema.ProgressVersion:
		run.Progress = corruptProgress(run.Phase, fmt.Sprintf("checkpoint version %d is newer than supported version %d", progress.Version, schema.ProgressVersion))
	default:
		run.Progress = progress
	}
	return run
}

func corruptProgress(phase schema.Phase, msg string) schema.Progress {
	return schema.Progress{
		Version:     schema.ProgressVersion,
		Phase:       phase,
		Message:     msg,
		FailureKind: schema.FailureFatal,
	}
}

// CreateRun implements the RunStore interface.
func (s *Store) CreateRun(ctx context.Context, run *schema.AnalysisRun) error {
	progress, err := json.Marshal(run.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	options, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal run options: %w", err)
	}
	now := s.now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	query := s.db.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, runsTable, runColumns))
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.Org, run.User, run.Year, string(run.Status), string(run.Phase), string(progress), run.Error, string(options),
		run.Lease, boolToInt(run.Executing), toMillis(now), toMillis(now), nullMillis(run.StartedAt), nullMillis(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun implements the RunStore interface.
func (s *Store) GetRun(ctx context.Context, id string) (*schema.AnalysisRun, error) {
	var row runRow
	query := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, runColumns, runsTable))
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", contract.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	run := row.toRun()
	return &run, nil
}

// ListRuns implements the RunStore interface. Newest runs come first.
func (s *Store) ListRuns(ctx context.Context, filter schema.RunFilter) ([]schema.AnalysisRun, error) {
	var clauses []string
	var args []any
	if filter.Org != "" {
		clauses = append(clauses, "org = ?")
		args = append(args, filter.Org)
	}
	if filter.User != "" {
		clauses = append(clauses, "username = ?")
		args = append(args, filter.User)
	}
	if filter.Year != 0 {
		clauses = append(clauses, "run_year = ?")
		args = append(args, filter.Year)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, runColumns, runsTable)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs := make([]schema.AnalysisRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

// TransitionRun implements the RunStore interface.
// The status check and update happen in one statement, so two callers
// racing to start the same run cannot both win. A run whose lease is
// still held cannot move to IN_PROGRESS.
func (s *Store) TransitionRun(ctx context.Context, id string, from []schema.RunStatus, to schema.RunStatus, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("%w: no source status given", contract.ErrInvalidTransition)
	}
	now := toMillis(s.now())
	var finished sql.NullInt64
	if to.IsTerminal() {
		finished = sql.NullInt64{Int64: now, Valid: true}
	}
	var started sql.NullInt64
	if to == schema.RunInProgress {
		started = sql.NullInt64{Int64: now, Valid: true}
	}
	statuses := make([]string, 0, len(from))
	for _, st := range from {
		statuses = append(statuses, string(st))
	}

	stmt := `UPDATE %s SET status = ?, error_message = ?, updated_at = ?, started_at = COALESCE(started_at, ?), finished_at = ?
		WHERE id = ? AND status IN (?)`
	if to == schema.RunInProgress {
		stmt += " AND lease_held = 0"
	}
	query, args, err := sqlx.In(fmt.Sprintf(stmt, runsTable),
		string(to), errMsg, now, started, finished, id, statuses)
	if err != nil {
		return false, fmt.Errorf("failed to build transition query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition run %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition result: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SaveProgress implements the RunStore interface.
func (s *Store) SaveProgress(ctx context.Context, id string, progress schema.Progress) error {
	if progress.Version == 0 {
		progress.Version = schema.ProgressVersion
	}
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s SET progress = ?, phase = ?, updated_at = ? WHERE id = ?`, runsTable))
	res, err := s.db.ExecContext(ctx, query, string(data), string(progress.Phase), toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to save progress for run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", contract.ErrRunNotFound, id)
	}
	return nil
}

// ClaimRun implements the RunStore interface.
func (s *Store) ClaimRun(ctx context.Context, id string) (int64, bool, error) {
	var lease int64
	claimed := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		upd := tx.Rebind(fmt.Sprintf(`UPDATE %s SET lease = lease + 1, lease_held = 1, updated_at = ?
			WHERE id = ? AND status = ? AND lease_held = 0`, runsTable))
		res, err := tx.ExecContext(ctx, upd, toMillis(s.now()), id, string(schema.RunInProgress))
		if err != nil {
			return fmt.Errorf("failed to claim run %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read claim result: %w", err)
		}
		if err := tx.GetContext(ctx, &lease, tx.Rebind(fmt.Sprintf(`SELECT lease FROM %s WHERE id = ?`, runsTable)), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", contract.ErrRunNotFound, id)
			}
			return fmt.Errorf("failed to read lease of run %s: %w", id, err)
		}
		claimed = n > 0
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return lease, claimed, nil
}

// ReleaseRun implements the RunStore interface. Releasing a lease that was
// superseded is a no-op.
func (s *Store) ReleaseRun(ctx context.Context, id string, lease int64) error {
	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s SET lease_held = 0, updated_at = ? WHERE id = ? AND lease = ?`, runsTable))
	if _, err := s.db.ExecContext(ctx, query, toMillis(s.now()), id, lease); err != nil {
		return fmt.Errorf("failed to release run %s: %w", id, err)
	}
	return nil
}

// CheckpointRun implements the RunStore interface.
func (s *Store) CheckpointRun(ctx context.Context, id string, lease int64, progress schema.Progress) (bool, error) {
	if progress.Version == 0 {
		progress.Version = schema.ProgressVersion
	}
	data, err := json.Marshal(progress)
	if err != nil {
		return false, fmt.Errorf("failed to marshal progress: %w", err)
	}
	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s SET progress = ?, phase = ?, updated_at = ? WHERE id = ? AND lease = ?`, runsTable))
	res, err := s.db.ExecContext(ctx, query, string(data), string(progress.Phase), toMillis(s.now()), id, lease)
	if err != nil {
		return false, fmt.Errorf("failed to save progress for run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read checkpoint result: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteRun implements the RunStore interface.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := deleteDerived(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, runsTable)), id)
		if err != nil {
			return fmt.Errorf("failed to delete run %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", contract.ErrRunNotFound, id)
		}
		return nil
	})
}

// ResetRun implements the RunStore interface.
func (s *Store) ResetRun(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return deleteDerived(ctx, tx, id)
	})
}

// deleteDerived removes every row that belongs to a run, except the run itself.
// Cached diffs are keyed by commit and shared between runs, so they stay.
func deleteDerived(ctx context.Context, tx *sqlx.Tx, runID string) error {
	for _, table := range []string{unitCommitsTable, unitsTable, reviewsTable} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, table)), runID); err != nil {
			return fmt.Errorf("failed to clear %s for run %s: %w", table, runID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, reportsTable)), runID); err != nil {
		return fmt.Errorf("failed to clear report for run %s: %w", runID, err)
	}
	return nil
}
