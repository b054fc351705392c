package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator-core/pkg/types"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return &PostgresStore{db: sqlx.NewDb(mockDB, "sqlmock")}, mock
}

// TestClaimJobsForDispatch_UsesSkipLocked asserts the dispatcher's claim
// query carries FOR UPDATE SKIP LOCKED, the core safety property of §4.4.1.
func TestClaimJobsForDispatch_UsesSkipLocked(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(16).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "description", "config_name", "upload_id", "status",
			"creator_status", "validator_status", "assigned_agent_id",
			"dispatch_attempts", "frozen_data", "error_message", "error_details",
			"tokens_used", "request_count", "created_at", "updated_at", "completed_at",
			"context", "instructions",
		}))
	mock.ExpectCommit()

	err := store.ClaimJobsForDispatch(ctx, 16, func(tx Tx, jobs []*types.Job) error {
		assert.Empty(t, jobs)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify_TransientOnSerializationFailure(t *testing.T) {
	err := &pgconn.PgError{Code: "40001"}
	assert.Equal(t, KindTransientBackend, classify(err))
}

func TestClassify_ConstraintViolationOnUniqueIndex(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"}
	assert.Equal(t, KindConstraintViolation, classify(err))
}

func TestClassify_NotFoundOnNoRows(t *testing.T) {
	assert.Equal(t, KindNotFound, classify(sql.ErrNoRows))
}
