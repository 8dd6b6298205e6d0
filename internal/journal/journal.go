package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
)

// Event types recorded in the journal.
const (
	EventSignal           = "signal"
	EventRejection        = "rejection"
	EventOrderSubmitted   = "order_submitted"
	EventPositionOpened   = "position_opened"
	EventPositionClosed   = "position_closed"
	EventReconcileWarning = "reconcile_warning"
)

// Journal is an append-only sqlite record of engine decisions. Every write is
// best effort; a journal failure must never affect a tick, so errors are
// logged and swallowed here.
type Journal struct {
	db        *sql.DB
	profileID string
	logger    *zap.Logger
}

// Open creates the journal. A disabled config yields a nil journal, which
// every method tolerates.
func Open(cfg config.JournalConfig, profileID string, logger *zap.Logger) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS journal_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		symbol TEXT,
		recorded_at TEXT NOT NULL,
		detail TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type, recorded_at);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}

	return &Journal{db: db, profileID: profileID, logger: logger}, nil
}

// Record appends one event. Detail may be any JSON-marshalable value.
func (j *Journal) Record(ctx context.Context, eventType, symbol string, detail interface{}) {
	if j == nil {
		return
	}

	payload, err := json.Marshal(detail)
	if err != nil {
		j.logger.Warn("journal.marshal_failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO journal_events (profile_id, event_type, symbol, recorded_at, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		j.profileID, eventType, symbol, time.Now().UTC().Format(time.RFC3339), string(payload),
	)
	if err != nil {
		j.logger.Warn("journal.write_failed",
			zap.String("event_type", eventType),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
