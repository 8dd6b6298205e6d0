package news

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

// ErrFetch marks a news fetch that failed after the provider's own retries.
// The engine skips the rest of the tick when it sees this.
var ErrFetch = errors.New("news: fetch failed")

// Provider is the observation source capability. FetchNew returns only
// articles not seen before by this instance; the seen-id set round-trips
// through the persisted snapshot so restarts do not replay old articles.
type Provider interface {
	FetchNew(ctx context.Context) ([]model.NewsArticle, error)
	SeenIDs() []string
	RestoreSeenIDs(ids []string)
}

// New creates the provider selected by name.
func New(name string, cfg config.NewsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "alpaca":
		return NewAlpacaProvider(cfg, logger), nil
	case "finnhub":
		return NewFinnhubProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("news: unknown provider %q", name)
	}
}

func isTemporary(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// StatusError is a non-2xx HTTP response from a news API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("news: http status %d: %s", e.Code, e.Body)
}

// seenSet tracks processed article ids with a hard cap so the set cannot
// grow without bound on a long-running instance.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{
		ids:   make(map[string]struct{}),
		limit: limit,
	}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if s.has(id) {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	for len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
}

func (s *seenSet) list() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *seenSet) replace(ids []string) {
	s.ids = make(map[string]struct{}, len(ids))
	s.order = s.order[:0]
	for _, id := range ids {
		s.add(id)
	}
}
