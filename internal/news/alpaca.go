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

const (
	alpacaNewsURL = "https://data.alpaca.markets/v1beta1/news"

	maxSeenIDs     = 10_000
	fetchPageLimit = 50
)

// AlpacaProvider polls the Alpaca news API and yields unseen articles.
type AlpacaProvider struct {
	cfg    config.NewsConfig
	logger *zap.Logger

	client  *http.Client
	limiter *rate.Limiter

	seen      *seenSet
	lastFetch time.Time
}

// NewAlpacaProvider creates the provider. The rate limiter stays well under
// Alpaca's 200 req/min data-plan cap.
func NewAlpacaProvider(cfg config.NewsConfig, logger *zap.Logger) *AlpacaProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlpacaProvider{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		seen:    newSeenSet(maxSeenIDs),
	}
}

type alpacaNewsItem struct {
	ID        json.Number `json:"id"`
	Headline  string      `json:"headline"`
	Summary   string      `json:"summary"`
	Content   string      `json:"content"`
	Symbols   []string    `json:"symbols"`
	Source    string      `json:"source"`
	URL       string      `json:"url"`
	CreatedAt time.Time   `json:"created_at"`
}

type alpacaNewsResponse struct {
	News []alpacaNewsItem `json:"news"`
}

// FetchNew returns articles newer than the last poll that this instance has
// not processed before. Articles without symbol tags are dropped; articles
// without a summary are dropped when exclude_contentless is set.
func (p *AlpacaProvider) FetchNew(ctx context.Context) ([]model.NewsArticle, error) {
	var response alpacaNewsResponse

	err := p.doWithRetry(ctx, "fetch_news", func() error {
		return p.fetchPage(ctx, &response)
	})
	if err != nil {
		p.logger.Error("news.fetch_failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	now := time.Now().UTC()
	var articles []model.NewsArticle
	for _, raw := range response.News {
		id := raw.ID.String()
		if p.seen.has(id) {
			continue
		}
		if p.cfg.ExcludeContentless && strings.TrimSpace(raw.Summary) == "" {
			continue
		}
		if len(raw.Symbols) == 0 {
			continue
		}

		articles = append(articles, model.NewsArticle{
			ID:        id,
			Headline:  raw.Headline,
			Summary:   raw.Summary,
			Content:   raw.Content,
			Symbols:   raw.Symbols,
			Source:    raw.Source,
			URL:       raw.URL,
			CreatedAt: raw.CreatedAt,
			FetchedAt: now,
		})
		p.seen.add(id)
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

func (p *AlpacaProvider) doWithRetry(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(ctx, p.cfg.Retry, p.logger, operation, isTemporary, fn)
}

func (p *AlpacaProvider) fetchPage(ctx context.Context, out *alpacaNewsResponse) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	start := p.lastFetch
	if start.IsZero() {
		start = time.Now().UTC().Add(-time.Duration(p.cfg.LookbackMinutes) * time.Minute)
	}

	query := url.Values{}
	query.Set("start", start.Format(time.RFC3339))
	query.Set("limit", fmt.Sprintf("%d", fetchPageLimit))
	if len(p.cfg.Symbols) > 0 {
		query.Set("symbols", strings.Join(p.cfg.Symbols, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, alpacaNewsURL+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", p.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", p.cfg.APISecret)

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

// SeenIDs returns the processed article ids for state persistence.
func (p *AlpacaProvider) SeenIDs() []string {
	return p.seen.list()
}

// RestoreSeenIDs replaces the dedup set from persisted state.
func (p *AlpacaProvider) RestoreSeenIDs(ids []string) {
	p.seen.replace(ids)
}
