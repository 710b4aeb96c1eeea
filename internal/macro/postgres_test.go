package macro

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sackio/unibrowse-sub002/api/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var macroColumns = []string{"id", "site", "category", "name", "description", "parameters", "code", "return_type", "reliability", "tags", "success_count", "failure_count", "created_at", "updated_at"}

func newMockRepository(t *testing.T, logger *zap.Logger) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	repo, err := NewPostgresRepository(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return mockPool, repo
}

func TestNewPostgresRepository(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresRepository(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("should create the table and index in one transaction", func(t *testing.T) {
		observedCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool, repo := newMockRepository(t, zap.New(observedCore))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateMacros)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateMacrosUpdatedIndex)).WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, repo.EnsureSchema(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "a closed-transaction rollback is not an error")
	})

	t.Run("should roll back when a statement fails", func(t *testing.T) {
		mockPool, repo := newMockRepository(t, zap.NewNop())
		ddlErr := errors.New("permission denied")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateMacros)).WillReturnError(ddlErr)
		mockPool.ExpectRollback()

		err := repo.EnsureSchema(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ddlErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	mockPool, repo := newMockRepository(t, zap.NewNop())

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := time.Date(2025, 11, 20, 10, 0, 0, 0, loc)

	m := loginMacro()
	m.ID = "m-1"
	m.CreatedAt = local
	m.UpdatedAt = local
	params, err := json.Marshal(m.Parameters)
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertMacro)).
		WithArgs(
			m.ID, m.Site, m.Category, m.Name, m.Description,
			json.RawMessage(params), m.Code, m.ReturnType, 0.0, m.Tags,
			int64(0), int64(0),
			local.UTC(), local.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(ctx, m))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateCounters(t *testing.T) {
	ctx := context.Background()

	t.Run("should update the counters by id", func(t *testing.T) {
		mockPool, repo := newMockRepository(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateCounters)).
			WithArgs("m-1", int64(3), int64(1), 0.75).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.UpdateCounters(ctx, "m-1", 3, 1, 0.75))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a missing row", func(t *testing.T) {
		mockPool, repo := newMockRepository(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateCounters)).
			WithArgs("gone", int64(1), int64(0), 1.0).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdateCounters(ctx, "gone", 1, 0, 1.0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, schemas.ErrNotFound))
	})
}

func TestLoadAll(t *testing.T) {
	ctx := context.Background()
	mockPool, repo := newMockRepository(t, zap.NewNop())

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := pgxmock.NewRows(macroColumns).
		AddRow("m-2", "github.com", "nav", "open-repo", "", []byte(`[]`), "b()", "", 0.0, []string{}, int64(0), int64(0), now, now).
		AddRow("m-1", "amazon.com", "auth", "login", "Sign in", []byte(`[{"name":"username","type":"string","required":true}]`), "a()", "object", 0.5, []string{"account"}, int64(1), int64(1), now, now)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectMacros)).WillReturnRows(rows)

	macros, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, macros, 2)

	assert.Equal(t, "m-2", macros[0].ID)
	assert.Empty(t, macros[0].Parameters)
	assert.Equal(t, "login", macros[1].Name)
	require.Len(t, macros[1].Parameters, 1)
	assert.True(t, macros[1].Parameters[0].Required)
	assert.Equal(t, []string{"account"}, macros[1].Tags)
	assert.Equal(t, 0.5, macros[1].Reliability)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestStoreWithPostgresRepository(t *testing.T) {
	ctx := context.Background()
	mockPool, repo := newMockRepository(t, zap.NewNop())
	store := NewStore(zap.NewNop(), WithRepository(repo))

	mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertMacro)).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("unique violation"))

	_, err := store.Store(ctx, loginMacro())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist macro")
	assert.Contains(t, err.Error(), "unique violation")
	assert.Equal(t, 0, store.Len())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
