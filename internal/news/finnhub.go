package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
	"github.com/soitgoes887/tokenomics/internal/retry"
)

const finnhubNewsURL = "https://finnhub.io/api/v1/company-news"

// FinnhubProvider polls the Finnhub company-news endpoint for each configured
// symbol. Finnhub has no multi-symbol query, so one request per symbol per
// tick is unavoidable.
type FinnhubProvider struct {
	cfg    config.NewsConfig
	logger *zap.Logger

	client  *http.Client
	limiter *rate.Limiter

	seen      *seenSet
	lastFetch time.Time
}

// NewFinnhubProvider creates the provider. The free tier allows 60 req/min,
// so the limiter stays below that even with many symbols.
func NewFinnhubProvider(cfg config.NewsConfig, logger *zap.Logger) *FinnhubProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinnhubProvider{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(1200*time.Millisecond), 1),
		seen:    newSeenSet(maxSeenIDs),
	}
}

type finnhubNewsItem struct {
	ID       json.Number `json:"id"`
	Headline string      `json:"headline"`
	Summary  string      `json:"summary"`
	Source   string      `json:"source"`
	URL      string      `json:"url"`
	Datetime int64       `json:"datetime"`
	Related  string      `json:"related"`
}

// FetchNew returns unseen articles across all configured symbols. A failure
// on one symbol fails the whole fetch so the engine treats the tick's
// observation window as incomplete rather than half-processed.
func (p *FinnhubProvider) FetchNew(ctx context.Context) ([]model.NewsArticle, error) {
	now := time.Now().UTC()
	start := p.lastFetch
	if start.IsZero() {
		start = now.Add(-time.Duration(p.cfg.LookbackMinutes) * time.Minute)
	}

	var articles []model.NewsArticle
	for _, symbol := range p.cfg.Symbols {
		var items []finnhubNewsItem
		err := retry.Do(ctx, p.cfg.Retry, p.logger, "fetch_news", isTemporary, func() error {
			return p.fetchSymbol(ctx, symbol, start, now, &items)
		})
		if err != nil {
			p.logger.Error("news.fetch_failed", zap.String("symbol", symbol), zap.Error(err))
			return nil, fmt.Errorf("%w: symbol %s: %v", ErrFetch, symbol, err)
		}

		for _, raw := range items {
			id := raw.ID.String()
			if p.seen.has(id) {
				continue
			}
			if p.cfg.ExcludeContentless && strings.TrimSpace(raw.Summary) == "" {
				continue
			}

			symbols := []string{symbol}
			if raw.Related != "" {
				symbols = splitRelated(raw.Related)
			}

			articles = append(articles, model.NewsArticle{
				ID:        id,
				Headline:  raw.Headline,
				Summary:   raw.Summary,
				Symbols:   symbols,
				Source:    raw.Source,
				URL:       raw.URL,
				CreatedAt: time.Unix(raw.Datetime, 0).UTC(),
				FetchedAt: now,
			})
			p.seen.add(id)
		}
	}

	p.lastFetch = now

	if len(articles) > 0 {
		p.logger.Info("news.fetched",
			zap.Int("new_count", len(articles)),
			zap.Int("total_seen", len(p.seen.ids)),
		)
	}

	return articles, nil
}

func (p *FinnhubProvider) fetchSymbol(ctx context.Context, symbol string, from, to time.Time, out *[]finnhubNewsItem) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("from", from.Format("2006-01-02"))
	query.Set("to", to.Format("2006-01-02"))
	query.Set("token", p.cfg.FinnhubToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finnhubNewsURL+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return json.Unmarshal(body, out)
}

func splitRelated(related string) []string {
	parts := strings.Split(related, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SeenIDs returns the processed article ids for state persistence.
func (p *FinnhubProvider) SeenIDs() []string {
	return p.seen.list()
}

// RestoreSeenIDs replaces the dedup set from persisted state.
func (p *FinnhubProvider) RestoreSeenIDs(ids []string) {
	p.seen.replace(ids)
}
