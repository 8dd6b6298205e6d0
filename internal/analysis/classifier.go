package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

const perplexityBaseURL = "https://api.perplexity.ai"

// Classifier turns a news article into a per-symbol sentiment verdict.
type Classifier interface {
	Classify(ctx context.Context, article model.NewsArticle, symbol string) (*model.SentimentResult, error)
	ClassifyBatch(ctx context.Context, articles []model.NewsArticle) []model.SentimentResult
}

// New creates the classifier selected by name. The perplexity provider is the
// same OpenAI-compatible client pointed at a different default base URL.
func New(name string, cfg config.SentimentConfig, logger *zap.Logger) (Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "openai":
		return NewOpenAIClassifier(cfg, logger)
	case "perplexity":
		if cfg.BaseURL == "" {
			cfg.BaseURL = perplexityBaseURL
		}
		return NewOpenAIClassifier(cfg, logger)
	default:
		return nil, fmt.Errorf("analysis: unknown llm provider %q", name)
	}
}
