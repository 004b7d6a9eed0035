package iocache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/huangsam/devyear/schema"
	"github.com/jmoiron/sqlx"
	"github.com/pierrec/lz4/v4"
)

type diffRow struct {
	Repo         string `db:"repo"`
	SHA          string `db:"sha"`
	Patches      []byte `db:"patches"`
	IsPartial    int    `db:"is_partial"`
	ErrorMessage string `db:"error_message"`
	FetchedAt    int64  `db:"fetched_at"`
}

// GetDiff implements the RunStore interface. The bool reports a cache hit.
func (s *Store) GetDiff(ctx context.Context, repo, sha string) (*schema.CommitDiff, bool, error) {
	var row diffRow
	query := s.db.Rebind(fmt.Sprintf(`SELECT repo, sha, patches, is_partial, error_message, fetched_at FROM %s WHERE repo = ? AND sha = ?`, diffsTable))
	if err := s.db.GetContext(ctx, &row, query, repo, sha); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached diff %s: %w", sha, err)
	}

	files, err := decompressPatches(row.Patches)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode cached diff %s: %w", sha, err)
	}
	return &schema.CommitDiff{
		SHA:       row.SHA,
		Repo:      row.Repo,
		Files:     files,
		Partial:   row.IsPartial != 0,
		Error:     row.ErrorMessage,
		FetchedAt: fromMillis(row.FetchedAt),
	}, true, nil
}

// SaveDiff implements the RunStore interface.
func (s *Store) SaveDiff(ctx context.Context, diff schema.CommitDiff) error {
	blob, err := compressPatches(diff.Files)
	if err != nil {
		return fmt.Errorf("failed to encode diff %s: %w", diff.SHA, err)
	}
	fetchedAt := diff.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		del := tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE repo = ? AND sha = ?`, diffsTable))
		if _, err := tx.ExecContext(ctx, del, diff.Repo, diff.SHA); err != nil {
			return fmt.Errorf("failed to replace cached diff: %w", err)
		}
		ins := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (repo, sha, patches, is_partial, error_message, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`, diffsTable))
		if _, err := tx.ExecContext(ctx, ins, diff.Repo, diff.SHA, blob, boolToInt(diff.Partial), diff.Error, toMillis(fetchedAt)); err != nil {
			return fmt.Errorf("failed to cache diff %s: %w", diff.SHA, err)
		}
		return nil
	})
}

// compressPatches encodes patches as lz4-compressed JSON.
func compressPatches(files []schema.FilePatch) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(files); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressPatches(blob []byte) ([]schema.FilePatch, error) {
	data, err := io.ReadAll(lz4.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return nil, err
	}
	var files []schema.FilePatch
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, err
	}
	return files, nil
}
