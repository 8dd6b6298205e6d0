package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

func newTestEvaluator() *Evaluator {
	strategy := config.StrategyConfig{
		CapitalUSD:         10000,
		PositionSizeMinUSD: 500,
		PositionSizeMaxUSD: 1000,
		MaxOpenPositions:   10,
	}
	sentiment := config.SentimentConfig{MinConviction: 70}
	return NewEvaluator(strategy, sentiment, zap.NewNop())
}

func result(symbol string, sentiment model.Sentiment, conviction int) model.SentimentResult {
	return model.SentimentResult{
		ArticleID:  "art-1",
		Headline:   "headline",
		Symbol:     symbol,
		Sentiment:  sentiment,
		Conviction: conviction,
	}
}

func held(symbols ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}

func TestEvaluateBullishGeneratesBuy(t *testing.T) {
	e := newTestEvaluator()

	sig := e.Evaluate(result("AAPL", model.SentimentBullish, 85), held(), 0)

	require.NotNil(t, sig)
	assert.Equal(t, model.ActionBuy, sig.Action)
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.NotEmpty(t, sig.SignalID)
	assert.Equal(t, 85, sig.Conviction)
}

func TestEvaluateNeutralIsSkipped(t *testing.T) {
	e := newTestEvaluator()

	// High conviction does not rescue a neutral classification.
	assert.Nil(t, e.Evaluate(result("AAPL", model.SentimentNeutral, 95), held(), 0))
}

func TestEvaluateLowConvictionIsSkipped(t *testing.T) {
	e := newTestEvaluator()

	assert.Nil(t, e.Evaluate(result("AAPL", model.SentimentBullish, 69), held(), 0))
}

func TestEvaluateBullishOnHeldSymbolIsSkipped(t *testing.T) {
	e := newTestEvaluator()

	assert.Nil(t, e.Evaluate(result("AAPL", model.SentimentBullish, 90), held("AAPL"), 1))
}

func TestEvaluateBullishAtCapacityIsSkipped(t *testing.T) {
	e := newTestEvaluator()

	assert.Nil(t, e.Evaluate(result("AAPL", model.SentimentBullish, 90), held(), 10))
}

func TestEvaluateBearishOnHeldSymbolSells(t *testing.T) {
	e := newTestEvaluator()

	sig := e.Evaluate(result("AAPL", model.SentimentBearish, 80), held("AAPL"), 1)

	require.NotNil(t, sig)
	assert.Equal(t, model.ActionSell, sig.Action)
	assert.Zero(t, sig.PositionSizeUSD)
}

func TestEvaluateBearishOnUnheldSymbolIsSkipped(t *testing.T) {
	e := newTestEvaluator()

	// Long-only: bearish news on an unheld symbol never shorts.
	assert.Nil(t, e.Evaluate(result("AAPL", model.SentimentBearish, 95), held(), 0))
}

func TestPositionSizeInterpolation(t *testing.T) {
	e := newTestEvaluator()

	tests := []struct {
		conviction int
		want       float64
	}{
		{70, 500},
		{85, 750},
		{100, 1000},
	}
	for _, tt := range tests {
		sig := e.Evaluate(result("AAPL", model.SentimentBullish, tt.conviction), held(), 0)
		require.NotNil(t, sig)
		assert.InDelta(t, tt.want, sig.PositionSizeUSD, 1e-9)
	}
}

func TestPositionSizeDegenerateThreshold(t *testing.T) {
	strategy := config.StrategyConfig{
		PositionSizeMinUSD: 500,
		PositionSizeMaxUSD: 1000,
		MaxOpenPositions:   10,
	}
	e := NewEvaluator(strategy, config.SentimentConfig{MinConviction: 100}, zap.NewNop())

	sig := e.Evaluate(result("AAPL", model.SentimentBullish, 100), held(), 0)

	require.NotNil(t, sig)
	assert.InDelta(t, 1000, sig.PositionSizeUSD, 1e-9)
}
