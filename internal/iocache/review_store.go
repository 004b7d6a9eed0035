package iocache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/jmoiron/sqlx"
)

const reviewColumns = `run_id, stage, unit_id, status, attempts, model, prompt_version, payload, error_message, updated_at`

type reviewRow struct {
	RunID         string `db:"run_id"`
	Stage         int    `db:"stage"`
	UnitID        string `db:"unit_id"`
	Status        string `db:"status"`
	Attempts      int    `db:"attempts"`
	Model         string `db:"model"`
	PromptVersion string `db:"prompt_version"`
	Payload       string `db:"payload"`
	ErrorMessage  string `db:"error_message"`
	UpdatedAt     int64  `db:"updated_at"`
}

const reportColumns = `run_id, username, run_year, metrics, summary, strengths, improvements, action_items,
	stats, manager_notes, finalized, created_at, updated_at`

type reportRow struct {
	RunID        string `db:"run_id"`
	Username     string `db:"username"`
	Year         int    `db:"run_year"`
	Metrics      string `db:"metrics"`
	Summary      string `db:"summary"`
	Strengths    string `db:"strengths"`
	Improvements string `db:"improvements"`
	ActionItems  string `db:"action_items"`
	Stats        string `db:"stats"`
	ManagerNotes string `db:"manager_notes"`
	Finalized    int    `db:"finalized"`
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

// SaveReview implements the RunStore interface. A review replaces any
// earlier attempt for the same (run, stage, unit).
func (s *Store) SaveReview(ctx context.Context, review schema.AiReview) error {
	payload := string(review.Payload)
	if payload == "" {
		payload = "null"
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		del := tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE run_id = ? AND stage = ? AND unit_id = ?`, reviewsTable))
		if _, err := tx.ExecContext(ctx, del, review.RunID, int(review.Stage), review.UnitID); err != nil {
			return fmt.Errorf("failed to replace review: %w", err)
		}
		ins := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, reviewsTable, reviewColumns))
		_, err := tx.ExecContext(ctx, ins,
			review.RunID, int(review.Stage), review.UnitID, review.Status, review.Attempts,
			review.Model, review.PromptVersion, payload, review.Error, toMillis(s.now()),
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s review: %w", review.Stage.Name(), err)
		}
		return nil
	})
}

// ListReviews implements the RunStore interface.
func (s *Store) ListReviews(ctx context.Context, runID string) ([]schema.AiReview, error) {
	var rows []reviewRow
	query := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = ? ORDER BY stage, unit_id`, reviewColumns, reviewsTable))
	if err := s.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	reviews := make([]schema.AiReview, 0, len(rows))
	for _, r := range rows {
		review := schema.AiReview{
			RunID:         r.RunID,
			Stage:         schema.AiStage(r.Stage),
			UnitID:        r.UnitID,
			Status:        r.Status,
			Attempts:      r.Attempts,
			Model:         r.Model,
			PromptVersion: r.PromptVersion,
			Error:         r.ErrorMessage,
			UpdatedAt:     fromMillis(r.UpdatedAt),
		}
		if r.Payload != "" && r.Payload != "null" {
			review.Payload = json.RawMessage(r.Payload)
		}
		reviews = append(reviews, review)
	}
	return reviews, nil
}

// SaveReport implements the RunStore interface. A finalized report is never
// overwritten, and regenerating a report keeps its manager notes.
func (s *Store) SaveReport(ctx context.Context, report schema.YearlyReport) error {
	metrics, err := json.Marshal(report.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	stats, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	strengths, _ := json.Marshal(report.Strengths)
	improvements, _ := json.Marshal(report.Improvements)
	actions, _ := json.Marshal(report.ActionItems)
	now := toMillis(s.now())

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := getReportRow(ctx, tx, report.RunID)
		switch {
		case errors.Is(err, contract.ErrReportNotFound):
			ins := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, reportsTable, reportColumns))
			_, err = tx.ExecContext(ctx, ins,
				report.RunID, report.User, report.Year, string(metrics), report.Summary, string(strengths),
				string(improvements), string(actions), string(stats), report.ManagerNotes, boolToInt(report.Finalized), now, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert report: %w", err)
			}
			return nil
		case err != nil:
			return err
		case existing.Finalized != 0:
			return fmt.Errorf("%w: %s", contract.ErrReportFinalized, report.RunID)
		}

		upd := tx.Rebind(fmt.Sprintf(`UPDATE %s SET username = ?, run_year = ?, metrics = ?, summary = ?, strengths = ?,
			improvements = ?, action_items = ?, stats = ?, updated_at = ? WHERE run_id = ?`, reportsTable))
		_, err = tx.ExecContext(ctx, upd,
			report.User, report.Year, string(metrics), report.Summary, string(strengths), string(improvements),
			string(actions), string(stats), now, report.RunID,
		)
		if err != nil {
			return fmt.Errorf("failed to update report: %w", err)
		}
		return nil
	})
}

// GetReport implements the RunStore interface.
func (s *Store) GetReport(ctx context.Context, runID string) (*schema.YearlyReport, error) {
	row, err := getReportRow(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	report := &schema.YearlyReport{
		RunID:        row.RunID,
		User:         row.Username,
		Year:         row.Year,
		Summary:      row.Summary,
		ManagerNotes: row.ManagerNotes,
		Finalized:    row.Finalized != 0,
		CreatedAt:    fromMillis(row.CreatedAt),
		UpdatedAt:    fromMillis(row.UpdatedAt),
	}
	for _, field := range []struct {
		raw string
		dst any
	}{
		{row.Metrics, &report.Metrics},
		{row.Strengths, &report.Strengths},
		{row.Improvements, &report.Improvements},
		{row.ActionItems, &report.ActionItems},
		{row.Stats, &report.Stats},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode report %s: %w", runID, err)
		}
	}
	return report, nil
}

// AnnotateReport implements the RunStore interface.
func (s *Store) AnnotateReport(ctx context.Context, runID, notes string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := getReportRow(ctx, tx, runID)
		if err != nil {
			return err
		}
		if existing.Finalized != 0 {
			return fmt.Errorf("%w: %s", contract.ErrReportFinalized, runID)
		}
		query := tx.Rebind(fmt.Sprintf(`UPDATE %s SET manager_notes = ?, updated_at = ? WHERE run_id = ?`, reportsTable))
		if _, err := tx.ExecContext(ctx, query, notes, toMillis(s.now()), runID); err != nil {
			return fmt.Errorf("failed to annotate report: %w", err)
		}
		return nil
	})
}

// FinalizeReport implements the RunStore interface. Finalizing twice is a no-op.
func (s *Store) FinalizeReport(ctx context.Context, runID string) error {
	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s SET finalized = 1, updated_at = ? WHERE run_id = ?`, reportsTable))
	res, err := s.db.ExecContext(ctx, query, toMillis(s.now()), runID)
	if err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", contract.ErrReportNotFound, runID)
	}
	return nil
}

// rebindQueryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type rebindQueryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getReportRow(ctx context.Context, q rebindQueryer, runID string) (reportRow, error) {
	var row reportRow
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = ?`, reportColumns, reportsTable))
	if err := sqlx.GetContext(ctx, q, &row, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, fmt.Errorf("%w: %s", contract.ErrReportNotFound, runID)
		}
		return row, fmt.Errorf("failed to get report %s: %w", runID, err)
	}
	return row, nil
}
