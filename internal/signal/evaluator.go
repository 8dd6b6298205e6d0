package signal

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

// Evaluator applies the long-only business rules that turn a sentiment
// classification into a trade signal. It has no side effects besides
// decision logging.
type Evaluator struct {
	strategy      config.StrategyConfig
	minConviction int
	decisionLog   *zap.Logger
}

// NewEvaluator creates a signal evaluator.
func NewEvaluator(strategy config.StrategyConfig, sentiment config.SentimentConfig, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		strategy:      strategy,
		minConviction: sentiment.MinConviction,
		decisionLog:   logger.Named("decision"),
	}
}

// Evaluate returns a trade signal for the classification, or nil when no
// action is warranted. Bullish news on an unheld symbol buys (sized by
// conviction); bearish news on a held symbol sells the whole position; the
// system never shorts and never averages into an existing position.
func (e *Evaluator) Evaluate(result model.SentimentResult, openSymbols map[string]struct{}, openCount int) *model.TradeSignal {
	if result.Sentiment == model.SentimentNeutral {
		e.skip(result, "neutral_sentiment")
		return nil
	}

	if result.Conviction < e.minConviction {
		e.decisionLog.Info("signal.skipped",
			zap.String("symbol", result.Symbol),
			zap.String("headline", result.Headline),
			zap.String("reason", "low_conviction"),
			zap.Int("conviction", result.Conviction),
			zap.Int("threshold", e.minConviction),
		)
		return nil
	}

	_, held := openSymbols[result.Symbol]

	switch result.Sentiment {
	case model.SentimentBullish:
		if held {
			e.skip(result, "already_held")
			return nil
		}
		if openCount >= e.strategy.MaxOpenPositions {
			e.decisionLog.Info("signal.skipped",
				zap.String("symbol", result.Symbol),
				zap.String("headline", result.Headline),
				zap.String("reason", "max_positions_reached"),
				zap.Int("current", openCount),
				zap.Int("max", e.strategy.MaxOpenPositions),
			)
			return nil
		}

		sig := e.newSignal(result, model.ActionBuy, e.positionSize(result.Conviction))
		e.decisionLog.Info("signal.generated",
			zap.String("symbol", sig.Symbol),
			zap.String("headline", result.Headline),
			zap.String("action", string(sig.Action)),
			zap.Int("conviction", sig.Conviction),
			zap.Float64("position_size", sig.PositionSizeUSD),
		)
		return sig

	case model.SentimentBearish:
		if !held {
			e.skip(result, "bearish_not_held")
			return nil
		}

		// Full-quantity exit; size is irrelevant for sells.
		sig := e.newSignal(result, model.ActionSell, 0)
		e.decisionLog.Info("signal.generated",
			zap.String("symbol", sig.Symbol),
			zap.String("headline", result.Headline),
			zap.String("action", string(sig.Action)),
			zap.Int("conviction", sig.Conviction),
			zap.String("reason", "bearish_reversal"),
		)
		return sig
	}

	return nil
}

func (e *Evaluator) newSignal(result model.SentimentResult, action model.TradeAction, sizeUSD float64) *model.TradeSignal {
	return &model.TradeSignal{
		SignalID:        uuid.NewString(),
		ArticleID:       result.ArticleID,
		Symbol:          result.Symbol,
		Action:          action,
		Conviction:      result.Conviction,
		Sentiment:       result.Sentiment,
		PositionSizeUSD: sizeUSD,
		Reasoning:       result.Reasoning,
		GeneratedAt:     time.Now().UTC(),
	}
}

// positionSize interpolates linearly between the configured min and max as
// conviction moves from the admission threshold to 100, clamped to the band.
func (e *Evaluator) positionSize(conviction int) float64 {
	minSize := e.strategy.PositionSizeMinUSD
	maxSize := e.strategy.PositionSizeMaxUSD

	convictionRange := 100 - e.minConviction
	if convictionRange <= 0 {
		return maxSize
	}

	normalized := float64(conviction-e.minConviction) / float64(convictionRange)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	return minSize + normalized*(maxSize-minSize)
}

func (e *Evaluator) skip(result model.SentimentResult, reason string) {
	e.decisionLog.Info("signal.skipped",
		zap.String("symbol", result.Symbol),
		zap.String("headline", result.Headline),
		zap.String("reason", reason),
		zap.Int("conviction", result.Conviction),
	)
}
