package interaction

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sackio/unibrowse-sub002/api/schemas"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on interactions.timestamp for retention sweeps
const currentSchemaVersion = 1

// deleteBatchSize keeps DELETE ... IN (...) below SQLite's variable limit.
const deleteBatchSize = 500

// SQLiteJournal mirrors the interaction log to a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenJournal creates or opens the journal at path, applying pragmas and
// migrations. Safe to call on an existing database.
func OpenJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Append inserts one event. Re-appending an id is a no-op.
func (j *SQLiteJournal) Append(ctx context.Context, ev schemas.InteractionEvent) error {
	data := []byte("{}")
	if len(ev.Data) > 0 {
		var err error
		if data, err = json.Marshal(ev.Data); err != nil {
			return fmt.Errorf("journal append: failed to encode data: %w", err)
		}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO interactions (id, timestamp, type, url, selector, data, tab_target)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.Timestamp, ev.Type, ev.URL, ev.Selector, string(data), ev.TabTarget)
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

// Delete removes the given ids in one transaction.
func (j *SQLiteJournal) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal delete: begin: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(ids); start += deleteBatchSize {
		batch := ids[start:min(start+deleteBatchSize, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := "DELETE FROM interactions WHERE id IN (?" + strings.Repeat(",?", len(batch)-1) + ")"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("journal delete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal delete: commit: %w", err)
	}
	return nil
}

// LoadAll returns every journaled event in id order.
func (j *SQLiteJournal) LoadAll(ctx context.Context) ([]schemas.InteractionEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, timestamp, type, url, selector, data, tab_target
		FROM interactions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("journal load: %w", err)
	}
	defer rows.Close()

	var events []schemas.InteractionEvent
	for rows.Next() {
		var (
			ev   schemas.InteractionEvent
			data string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &ev.URL, &ev.Selector, &data, &ev.TabTarget); err != nil {
			return nil, fmt.Errorf("journal load: scan: %w", err)
		}
		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, fmt.Errorf("journal load: decode data of event %d: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal load: %w", err)
	}
	return events, nil
}
