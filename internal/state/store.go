package state

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

// SnapshotVersion is the current persisted document version.
const SnapshotVersion = 1

// Document is one instance's persisted snapshot: the full position ledger,
// the risk gate buckets and the per-instance news dedup set.
type Document struct {
	Version        int                     `json:"version"`
	ProfileID      string                  `json:"profile_id"`
	AccountID      string                  `json:"account_id"`
	LastSaved      time.Time               `json:"last_saved"`
	Positions      model.PositionsSnapshot `json:"positions"`
	Risk           model.RiskSnapshot      `json:"risk"`
	SeenArticleIDs []string                `json:"seen_article_ids"`
}

// Backend is a durable document store keyed by profile id. Implementations
// must make Save atomic with respect to concurrent readers and skip
// unreadable documents in LoadAll rather than failing the whole scan.
type Backend interface {
	Save(ctx context.Context, doc Document) error
	Load(ctx context.Context, profileID string) (*Document, error)
	LoadAll(ctx context.Context) ([]Document, error)
	Close() error
}

// Store wraps a backend with this instance's identity and the configured
// sharing scope. Cross-instance writes are last-writer-wins; the broker is
// the source of truth for what is actually held, recovered by
// reconciliation.
type Store struct {
	backend   Backend
	profileID string
	accountID string
	scope     string
	logger    *zap.Logger
}

// New builds the state store selected by cfg.Backend.
func New(cfg config.StateConfig, profileID, accountID string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.StateBackendFile:
		backend, err = NewFileBackend(cfg.Dir)
	case config.StateBackendSQLite:
		backend, err = NewSQLiteBackend(cfg.SQLitePath)
	case config.StateBackendRedis:
		backend, err = NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("state: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("state.store_initialized",
		zap.String("backend", cfg.Backend),
		zap.String("scope", cfg.Scope),
		zap.String("profile_id", profileID),
	)

	return &Store{
		backend:   backend,
		profileID: profileID,
		accountID: accountID,
		scope:     cfg.Scope,
		logger:    logger,
	}, nil
}

// Save persists the current snapshot. Callers treat failures as best-effort:
// losing one tick's snapshot beats crashing the trading loop.
func (s *Store) Save(ctx context.Context, positions model.PositionsSnapshot, risk model.RiskSnapshot, seenIDs []string) error {
	doc := Document{
		Version:        SnapshotVersion,
		ProfileID:      s.profileID,
		AccountID:      s.accountID,
		LastSaved:      time.Now().UTC(),
		Positions:      positions,
		Risk:           risk,
		SeenArticleIDs: seenIDs,
	}

	if err := s.backend.Save(ctx, doc); err != nil {
		return fmt.Errorf("state: save snapshot: %w", err)
	}

	s.logger.Debug("state.saved",
		zap.String("profile_id", s.profileID),
		zap.Int("open_positions", len(positions.Open)),
	)
	return nil
}

// Load returns this instance's snapshot, or nil when none exists.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	doc, err := s.backend.Load(ctx, s.profileID)
	if err != nil {
		return nil, fmt.Errorf("state: load snapshot: %w", err)
	}
	if doc == nil {
		s.logger.Info("state.no_snapshot", zap.String("profile_id", s.profileID))
		return nil, nil
	}

	s.logger.Info("state.loaded",
		zap.String("profile_id", s.profileID),
		zap.Time("last_saved", doc.LastSaved),
		zap.Int("open_positions", len(doc.Positions.Open)),
	)
	return doc, nil
}

// IsSymbolHeldElsewhere reports whether another instance targeting the same
// brokerage account has an open position in symbol. When the scope is
// per-instance the answer is always false. On any failure to determine the
// answer reliably the fail-safe answer is true: missing a trade is cheaper
// than duplicating one.
func (s *Store) IsSymbolHeldElsewhere(ctx context.Context, symbol string) bool {
	if s.scope == config.ScopePerInstance {
		return false
	}

	docs, err := s.backend.LoadAll(ctx)
	if err != nil {
		s.logger.Error("state.duplicate_check_failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return true
	}

	for _, doc := range docs {
		if doc.ProfileID == s.profileID {
			continue
		}
		if doc.AccountID != s.accountID {
			continue
		}
		if pos, ok := doc.Positions.Open[symbol]; ok && pos != nil && pos.IsOpen() {
			s.logger.Debug("state.symbol_held_by_other",
				zap.String("symbol", symbol),
				zap.String("other_profile", doc.ProfileID),
			)
			return true
		}
	}

	return false
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
