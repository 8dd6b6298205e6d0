package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

// OpenAIClassifier calls any OpenAI-compatible chat completion endpoint.
type OpenAIClassifier struct {
	cfg    config.SentimentConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewOpenAIClassifier creates the classifier.
func NewOpenAIClassifier(cfg config.SentimentConfig, logger *zap.Logger) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("analysis: api_key must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &OpenAIClassifier{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkCfg),
	}, nil
}

type verdict struct {
	Sentiment   string   `json:"sentiment"`
	Conviction  int      `json:"conviction"`
	TimeHorizon string   `json:"time_horizon"`
	Reasoning   string   `json:"reasoning"`
	KeyFactors  []string `json:"key_factors"`
}

// Classify returns the model's verdict for one (article, symbol) pair.
func (c *OpenAIClassifier) Classify(ctx context.Context, article model.NewsArticle, symbol string) (*model.SentimentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(article, symbol)},
		},
		Temperature: float32(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("analysis: empty completion response")
	}

	raw := strings.TrimSpace(response.Choices[0].Message.Content)
	if raw == "" {
		return nil, errors.New("analysis: empty completion content")
	}

	v, err := parseVerdict(raw)
	if err != nil {
		c.logger.Error("analysis.parse_failed",
			zap.Error(err),
			zap.String("raw_content", raw),
		)
		return nil, err
	}
	if err := v.validate(); err != nil {
		return nil, err
	}

	return &model.SentimentResult{
		ArticleID:   article.ID,
		Headline:    article.Headline,
		Symbol:      symbol,
		Sentiment:   model.Sentiment(v.Sentiment),
		Conviction:  v.Conviction,
		TimeHorizon: normalizeHorizon(v.TimeHorizon),
		Reasoning:   v.Reasoning,
		KeyFactors:  v.KeyFactors,
		AnalyzedAt:  time.Now().UTC(),
	}, nil
}

// ClassifyBatch classifies every (article, symbol) pair, skipping pairs whose
// classification fails. A failure never aborts the batch.
func (c *OpenAIClassifier) ClassifyBatch(ctx context.Context, articles []model.NewsArticle) []model.SentimentResult {
	var results []model.SentimentResult
	for _, article := range articles {
		for _, symbol := range article.Symbols {
			if ctx.Err() != nil {
				return results
			}
			result, err := c.Classify(ctx, article, symbol)
			if err != nil {
				c.logger.Warn("analysis.classify_failed",
					zap.String("article_id", article.ID),
					zap.String("symbol", symbol),
					zap.Error(err),
				)
				continue
			}
			results = append(results, *result)
		}
	}
	return results
}

func parseVerdict(content string) (verdict, error) {
	payload, err := extractJSON(content)
	if err != nil {
		return verdict{}, err
	}
	var v verdict
	if err := json.Unmarshal(payload, &v); err != nil {
		return verdict{}, fmt.Errorf("analysis: decode verdict: %w", err)
	}
	return v, nil
}

// extractJSON pulls the JSON object out of a completion that may be wrapped
// in markdown fences or prose.
func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("analysis: no JSON object in completion: %s", content)
	}
	return []byte(content[start : end+1]), nil
}

func (v verdict) validate() error {
	switch model.Sentiment(v.Sentiment) {
	case model.SentimentBullish, model.SentimentNeutral, model.SentimentBearish:
	default:
		return fmt.Errorf("analysis: invalid sentiment %q", v.Sentiment)
	}
	if v.Conviction < 0 || v.Conviction > 100 {
		return fmt.Errorf("analysis: conviction %d out of range", v.Conviction)
	}
	return nil
}

func normalizeHorizon(raw string) model.TimeHorizon {
	switch model.TimeHorizon(strings.ToUpper(raw)) {
	case model.HorizonShort:
		return model.HorizonShort
	case model.HorizonLong:
		return model.HorizonLong
	default:
		return model.HorizonMedium
	}
}
