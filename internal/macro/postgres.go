package macro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sackio/unibrowse-sub002/api/schemas"
	"go.uber.org/zap"
)

// Repository persists macros. The in-memory table in Store stays
// authoritative for reads; the repository is written through on every
// mutation and read once on boot.
type Repository interface {
	Upsert(ctx context.Context, m schemas.Macro) error
	UpdateCounters(ctx context.Context, id string, successCount, failureCount int64, reliability float64) error
	LoadAll(ctx context.Context) ([]schemas.Macro, error)
}

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateMacros = `
        CREATE TABLE IF NOT EXISTS macros (
            id            TEXT PRIMARY KEY,
            site          TEXT NOT NULL,
            category      TEXT NOT NULL DEFAULT '',
            name          TEXT NOT NULL,
            description   TEXT NOT NULL DEFAULT '',
            parameters    JSONB NOT NULL DEFAULT '[]',
            code          TEXT NOT NULL,
            return_type   TEXT NOT NULL DEFAULT '',
            reliability   DOUBLE PRECISION NOT NULL DEFAULT 0,
            tags          TEXT[] NOT NULL DEFAULT '{}',
            success_count BIGINT NOT NULL DEFAULT 0,
            failure_count BIGINT NOT NULL DEFAULT 0,
            created_at    TIMESTAMPTZ NOT NULL,
            updated_at    TIMESTAMPTZ NOT NULL,
            UNIQUE (site, name)
        );
    `
	sqlCreateMacrosUpdatedIndex = `
        CREATE INDEX IF NOT EXISTS macros_updated_at_idx ON macros (updated_at DESC, id);
    `
	sqlUpsertMacro = `
        INSERT INTO macros (id, site, category, name, description, parameters, code, return_type, reliability, tags, success_count, failure_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (site, name) DO UPDATE SET
            category = EXCLUDED.category,
            description = EXCLUDED.description,
            parameters = EXCLUDED.parameters,
            code = EXCLUDED.code,
            return_type = EXCLUDED.return_type,
            tags = EXCLUDED.tags,
            updated_at = EXCLUDED.updated_at;
    `
	sqlUpdateCounters = `
        UPDATE macros SET success_count = $2, failure_count = $3, reliability = $4
        WHERE id = $1;
    `
	sqlSelectMacros = `
        SELECT id, site, category, name, description, parameters, code, return_type, reliability, tags, success_count, failure_count, created_at, updated_at
        FROM macros
        ORDER BY updated_at DESC, id ASC;
    `
)

// PostgresRepository stores macros in PostgreSQL.
type PostgresRepository struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresRepository verifies the connection and returns a repository.
func NewPostgresRepository(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresRepository, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{
		pool: pool,
		log:  logger.Named("macro_repository"),
	}, nil
}

// EnsureSchema creates the macros table and its index in one transaction.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			r.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range []string{sqlCreateMacros, sqlCreateMacrosUpdatedIndex} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply macro schema: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Upsert writes m keyed by (site, name). On conflict the row keeps its id,
// counters, reliability and created_at.
func (r *PostgresRepository) Upsert(ctx context.Context, m schemas.Macro) error {
	params, err := encodeParams(m.Parameters)
	if err != nil {
		return err
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = r.pool.Exec(ctx, sqlUpsertMacro,
		m.ID, m.Site, m.Category, m.Name, m.Description,
		params, m.Code, m.ReturnType, m.Reliability, tags,
		m.SuccessCount, m.FailureCount,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert macro %s/%s: %w", m.Site, m.Name, err)
	}
	return nil
}

// UpdateCounters records the execution history of one macro.
func (r *PostgresRepository) UpdateCounters(ctx context.Context, id string, successCount, failureCount int64, reliability float64) error {
	tag, err := r.pool.Exec(ctx, sqlUpdateCounters, id, successCount, failureCount, reliability)
	if err != nil {
		return fmt.Errorf("failed to update counters for macro %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.NewNotFoundError("macro %s is not persisted", id)
	}
	return nil
}

// LoadAll returns every persisted macro, most recently updated first.
func (r *PostgresRepository) LoadAll(ctx context.Context) ([]schemas.Macro, error) {
	rows, err := r.pool.Query(ctx, sqlSelectMacros)
	if err != nil {
		return nil, fmt.Errorf("failed to query macros: %w", err)
	}
	defer rows.Close()

	var macros []schemas.Macro
	for rows.Next() {
		var (
			m      schemas.Macro
			params []byte
		)
		err := rows.Scan(
			&m.ID, &m.Site, &m.Category, &m.Name, &m.Description,
			&params, &m.Code, &m.ReturnType, &m.Reliability, &m.Tags,
			&m.SuccessCount, &m.FailureCount, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan macro row: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &m.Parameters); err != nil {
				return nil, fmt.Errorf("failed to decode parameters of macro %s: %w", m.ID, err)
			}
		}
		macros = append(macros, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return macros, nil
}

func encodeParams(specs []schemas.ParamSpec) (json.RawMessage, error) {
	if len(specs) == 0 {
		return json.RawMessage("[]"), nil
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode macro parameters: %w", err)
	}
	return data, nil
}
