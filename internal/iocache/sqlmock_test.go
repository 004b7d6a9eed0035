package iocache

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, backend schema.DatabaseBackend) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStoreFromDB(db, backend), mock
}

func TestTransitionRun_PostgresPlaceholders(t *testing.T) {
	store, mock := newMockStore(t, schema.PostgreSQLBackend)

	mock.ExpectExec(`UPDATE devyear_runs SET status = \$1, .* WHERE id = \$6 AND status IN \(\$7, \$8\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.TransitionRun(context.Background(), "run-1",
		[]schema.RunStatus{schema.RunPaused, schema.RunFailed}, schema.RunQueued, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRun_ExecError(t *testing.T) {
	store, mock := newMockStore(t, schema.MySQLBackend)

	mock.ExpectExec(`UPDATE devyear_runs`).WillReturnError(assert.AnError)

	_, err := store.TransitionRun(context.Background(), "run-1", []schema.RunStatus{schema.RunQueued}, schema.RunInProgress, "")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRun_StartRequiresFreeLease(t *testing.T) {
	store, mock := newMockStore(t, schema.MySQLBackend)

	mock.ExpectExec(`UPDATE devyear_runs SET status = \?, .* WHERE id = \? AND status IN \(\?\) AND lease_held = 0`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.TransitionRun(context.Background(), "run-1", []schema.RunStatus{schema.RunPaused}, schema.RunInProgress, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRun_NoSourceStatus(t *testing.T) {
	store, _ := newMockStore(t, schema.MySQLBackend)

	_, err := store.TransitionRun(context.Background(), "run-1", nil, schema.RunInProgress, "")
	assert.ErrorIs(t, err, contract.ErrInvalidTransition)
}

func TestSaveProgress_MissingRun(t *testing.T) {
	store, mock := newMockStore(t, schema.MySQLBackend)

	mock.ExpectExec(`UPDATE devyear_runs SET progress = \?, phase = \?, updated_at = \? WHERE id = \?`).
		WithArgs(sqlmock.AnyArg(), string(schema.PhaseScoring), sqlmock.AnyArg(), "run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SaveProgress(context.Background(), "run-1", schema.Progress{Phase: schema.PhaseScoring})
	assert.ErrorIs(t, err, contract.ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRun_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t, schema.MySQLBackend)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM devyear_work_unit_commits`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM devyear_work_units`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.DeleteRun(context.Background(), "run-1")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatus_QueryError(t *testing.T) {
	store, mock := newMockStore(t, schema.PostgreSQLBackend)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) AS n FROM devyear_runs GROUP BY status`).
		WillReturnError(assert.AnError)

	status, err := store.Status(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "postgresql", status.Backend)
	assert.True(t, status.Connected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
