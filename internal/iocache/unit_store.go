package iocache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/huangsam/devyear/schema"
	"github.com/jmoiron/sqlx"
)

const unitColumns = `id, run_id, repo, author, start_time, end_time, work_type, impact_score, impact_factors,
	is_sampled, is_special, title, summary, additions, deletions, files`

// unitRow is the storage shape of a WorkUnit. Commit SHAs live in their own table.
type unitRow struct {
	ID            string  `db:"id"`
	RunID         string  `db:"run_id"`
	Repo          string  `db:"repo"`
	Author        string  `db:"author"`
	StartTime     int64   `db:"start_time"`
	EndTime       int64   `db:"end_time"`
	WorkType      string  `db:"work_type"`
	ImpactScore   float64 `db:"impact_score"`
	ImpactFactors string  `db:"impact_factors"`
	IsSampled     int     `db:"is_sampled"`
	IsSpecial     int     `db:"is_special"`
	Title         string  `db:"title"`
	Summary       string  `db:"summary"`
	Additions     int     `db:"additions"`
	Deletions     int     `db:"deletions"`
	Files         string  `db:"files"`
}

type unitCommitRow struct {
	UnitID string `db:"unit_id"`
	SHA    string `db:"sha"`
}

func (r unitRow) toUnit() (schema.WorkUnit, error) {
	unit := schema.WorkUnit{
		ID:            r.ID,
		RunID:         r.RunID,
		Repo:          r.Repo,
		Author:        r.Author,
		StartTime:     fromMillis(r.StartTime),
		EndTime:       fromMillis(r.EndTime),
		WorkType:      schema.WorkType(r.WorkType),
		ImpactScore:   r.ImpactScore,
		IsSampled:     r.IsSampled != 0,
		IsSpecialCase: r.IsSpecial != 0,
		Title:         r.Title,
		Summary:       r.Summary,
		Additions:     r.Additions,
		Deletions:     r.Deletions,
	}
	if err := json.Unmarshal([]byte(r.ImpactFactors), &unit.Factors); err != nil {
		return unit, fmt.Errorf("failed to decode impact factors of unit %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Files), &unit.Files); err != nil {
		return unit, fmt.Errorf("failed to decode files of unit %s: %w", r.ID, err)
	}
	return unit, nil
}

// SaveWorkUnits implements the RunStore interface.
// Existing units of the repo are replaced, so re-clustering a repo is idempotent.
func (s *Store) SaveWorkUnits(ctx context.Context, runID, repo string, units []schema.WorkUnit) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := deleteRepoUnits(ctx, tx, runID, repo); err != nil {
			return err
		}
		insertUnit := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, unitsTable, unitColumns))
		insertCommit := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (run_id, unit_id, sha, ordinal) VALUES (?, ?, ?, ?)`, unitCommitsTable))
		for _, u := range units {
			factors, err := json.Marshal(u.Factors)
			if err != nil {
				return fmt.Errorf("failed to marshal impact factors: %w", err)
			}
			files, err := json.Marshal(u.Files)
			if err != nil {
				return fmt.Errorf("failed to marshal unit files: %w", err)
			}
			_, err = tx.ExecContext(ctx, insertUnit,
				u.ID, runID, repo, u.Author, toMillis(u.StartTime), toMillis(u.EndTime), string(u.WorkType),
				u.ImpactScore, string(factors), boolToInt(u.IsSampled), boolToInt(u.IsSpecialCase),
				u.Title, u.Summary, u.Additions, u.Deletions, string(files),
			)
			if err != nil {
				return fmt.Errorf("failed to insert work unit %s: %w", u.ID, err)
			}
			for i, sha := range u.CommitSHAs {
				if _, err := tx.ExecContext(ctx, insertCommit, runID, u.ID, sha, i); err != nil {
					return fmt.Errorf("failed to insert commit %s of unit %s: %w", sha, u.ID, err)
				}
			}
		}
		return nil
	})
}

// DeleteRepoUnits implements the RunStore interface.
func (s *Store) DeleteRepoUnits(ctx context.Context, runID, repo string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return deleteRepoUnits(ctx, tx, runID, repo)
	})
}

func deleteRepoUnits(ctx context.Context, tx *sqlx.Tx, runID, repo string) error {
	deleteCommits := tx.Rebind(fmt.Sprintf(
		`DELETE FROM %s WHERE run_id = ? AND unit_id IN (SELECT id FROM %s WHERE run_id = ? AND repo = ?)`,
		unitCommitsTable, unitsTable))
	if _, err := tx.ExecContext(ctx, deleteCommits, runID, runID, repo); err != nil {
		return fmt.Errorf("failed to delete unit commits for %s: %w", repo, err)
	}
	deleteUnits := tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE run_id = ? AND repo = ?`, unitsTable))
	if _, err := tx.ExecContext(ctx, deleteUnits, runID, repo); err != nil {
		return fmt.Errorf("failed to delete units for %s: %w", repo, err)
	}
	return nil
}

// ListWorkUnits implements the RunStore interface.
func (s *Store) ListWorkUnits(ctx context.Context, runID string) ([]schema.WorkUnit, error) {
	var rows []unitRow
	query := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = ? ORDER BY repo, start_time, id`, unitColumns, unitsTable))
	if err := s.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list work units: %w", err)
	}

	var commits []unitCommitRow
	commitQuery := s.db.Rebind(fmt.Sprintf(`SELECT unit_id, sha FROM %s WHERE run_id = ? ORDER BY unit_id, ordinal`, unitCommitsTable))
	if err := s.db.SelectContext(ctx, &commits, commitQuery, runID); err != nil {
		return nil, fmt.Errorf("failed to list work unit commits: %w", err)
	}
	shas := make(map[string][]string)
	for _, c := range commits {
		shas[c.UnitID] = append(shas[c.UnitID], c.SHA)
	}

	units := make([]schema.WorkUnit, 0, len(rows))
	for _, row := range rows {
		unit, err := row.toUnit()
		if err != nil {
			return nil, err
		}
		unit.CommitSHAs = shas[unit.ID]
		units = append(units, unit)
	}
	return units, nil
}

// UpdateUnitScore implements the RunStore interface.
func (s *Store) UpdateUnitScore(ctx context.Context, unit schema.WorkUnit) error {
	factors, err := json.Marshal(unit.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal impact factors: %w", err)
	}
	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s SET impact_score = ?, impact_factors = ? WHERE id = ?`, unitsTable))
	if _, err := s.db.ExecContext(ctx, query, unit.ImpactScore, string(factors), unit.ID); err != nil {
		return fmt.Errorf("failed to update score of unit %s: %w", unit.ID, err)
	}
	return nil
}

// MarkSampled implements the RunStore interface. Units not listed are unmarked.
func (s *Store) MarkSampled(ctx context.Context, runID string, unitIDs []string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		reset := tx.Rebind(fmt.Sprintf(`UPDATE %s SET is_sampled = 0 WHERE run_id = ?`, unitsTable))
		if _, err := tx.ExecContext(ctx, reset, runID); err != nil {
			return fmt.Errorf("failed to reset sample flags: %w", err)
		}
		if len(unitIDs) == 0 {
			return nil
		}
		query, args, err := sqlx.In(fmt.Sprintf(`UPDATE %s SET is_sampled = 1 WHERE run_id = ? AND id IN (?)`, unitsTable), runID, unitIDs)
		if err != nil {
			return fmt.Errorf("failed to build sample query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to mark sampled units: %w", err)
		}
		return nil
	})
}

// UpdateUnitSummary implements the RunStore interface.
func (s *Store) UpdateUnitSummary(ctx context.Context, unitID, title, summary string) error {
	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s SET title = ?, summary = ? WHERE id = ?`, unitsTable))
	if _, err := s.db.ExecContext(ctx, query, title, summary, unitID); err != nil {
		return fmt.Errorf("failed to update summary of unit %s: %w", unitID, err)
	}
	return nil
}
