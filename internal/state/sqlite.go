package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps one engine_state row per profile. Instances sharing a
// brokerage account point at the same database file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and if needed creates) the database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("state: sqlite backend requires a path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("state: create dir %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: set synchronous level: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS engine_state (
		profile_id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		last_saved TEXT NOT NULL,
		payload TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: init schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Save upserts the document row. The row replacement is atomic.
func (b *SQLiteBackend) Save(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO engine_state (profile_id, account_id, version, last_saved, payload)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(profile_id) DO UPDATE SET
		   account_id = excluded.account_id,
		   version = excluded.version,
		   last_saved = excluded.last_saved,
		   payload = excluded.payload`,
		doc.ProfileID, doc.AccountID, doc.Version, doc.LastSaved.Format("2006-01-02T15:04:05Z07:00"), string(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert engine_state: %w", err)
	}
	return nil
}

// Load reads one profile's document. A missing row yields (nil, nil).
func (b *SQLiteBackend) Load(ctx context.Context, profileID string) (*Document, error) {
	var payload string
	row := b.db.QueryRowContext(ctx, `SELECT payload FROM engine_state WHERE profile_id = ?`, profileID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query engine_state: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("parse payload for %q: %w", profileID, err)
	}
	return &doc, nil
}

// LoadAll reads every profile's document, skipping unparsable rows.
func (b *SQLiteBackend) LoadAll(ctx context.Context) ([]Document, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT payload FROM engine_state`)
	if err != nil {
		return nil, fmt.Errorf("scan engine_state: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []Document
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engine_state: %w", err)
	}
	return docs, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
