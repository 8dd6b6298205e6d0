package portfolio

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

const (
	dayKeyFormat   = "2006-01-02"
	monthKeyFormat = "2006-01"
)

// Gate enforces portfolio-level risk constraints on proposed trades and
// tracks realized P&L against daily and monthly loss limits.
type Gate struct {
	risk     config.RiskConfig
	strategy config.StrategyConfig
	logger   *zap.Logger

	dailyPnL   map[string]float64
	monthlyPnL map[string]float64
}

// NewGate creates a risk gate with empty P&L buckets.
func NewGate(risk config.RiskConfig, strategy config.StrategyConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		risk:       risk,
		strategy:   strategy,
		logger:     logger,
		dailyPnL:   make(map[string]float64),
		monthlyPnL: make(map[string]float64),
	}
}

// Approve checks a trade signal against all risk rules. The first failing
// rule wins and its reason string is returned for observability. SELL
// signals are always approved; exiting risk is never blocked.
func (g *Gate) Approve(signal *model.TradeSignal, openPositionCount int, currentEquity float64) (bool, string) {
	if signal.Action == model.ActionSell {
		return true, "sell_always_approved"
	}

	if openPositionCount >= g.strategy.MaxOpenPositions {
		return false, "max_positions_reached"
	}

	if signal.PositionSizeUSD < g.strategy.PositionSizeMinUSD {
		return false, "position_size_below_minimum"
	}
	if signal.PositionSizeUSD > g.strategy.PositionSizeMaxUSD {
		return false, "position_size_above_maximum"
	}

	if halted, reason := g.IsHalted(); halted {
		return false, reason
	}

	// 5% buffer against consuming all buying power.
	if signal.PositionSizeUSD > currentEquity*0.95 {
		return false, "insufficient_buying_power"
	}

	return true, "approved"
}

// RecordRealizedPnL accumulates a realized P&L amount into the daily bucket
// for date and the monthly bucket for date's year-month.
func (g *Gate) RecordRealizedPnL(pnlUSD float64, date time.Time) {
	dayKey := date.UTC().Format(dayKeyFormat)
	monthKey := date.UTC().Format(monthKeyFormat)

	g.dailyPnL[dayKey] += pnlUSD
	g.monthlyPnL[monthKey] += pnlUSD

	g.logger.Info("risk.pnl_recorded",
		zap.Float64("pnl_usd", pnlUSD),
		zap.Float64("daily_total", g.dailyPnL[dayKey]),
		zap.Float64("monthly_total", g.monthlyPnL[monthKey]),
	)
}

// IsHalted reports whether accumulated realized losses breached the daily or
// monthly limit. Halting blocks new entries only; the engine always runs
// exit scans regardless.
func (g *Gate) IsHalted() (bool, string) {
	now := time.Now().UTC()

	dailyPnL := g.dailyPnL[now.Format(dayKeyFormat)]
	dailyLimit := -(g.strategy.CapitalUSD * g.risk.DailyLossLimitPct)
	if dailyPnL <= dailyLimit {
		return true, fmt.Sprintf("daily_loss_limit_breached: $%.2f <= $%.2f", dailyPnL, dailyLimit)
	}

	monthlyPnL := g.monthlyPnL[now.Format(monthKeyFormat)]
	monthlyLimit := -(g.strategy.CapitalUSD * g.risk.MonthlyLossLimitPct)
	if monthlyPnL <= monthlyLimit {
		return true, fmt.Sprintf("monthly_loss_limit_breached: $%.2f <= $%.2f", monthlyPnL, monthlyLimit)
	}

	return false, ""
}

// DailyPnL returns the realized P&L bucket for a given day.
func (g *Gate) DailyPnL(date time.Time) float64 {
	return g.dailyPnL[date.UTC().Format(dayKeyFormat)]
}

// MonthlyPnL returns the realized P&L bucket for a given "2006-01" key.
func (g *Gate) MonthlyPnL(monthKey string) float64 {
	return g.monthlyPnL[monthKey]
}

// Snapshot serializes both P&L maps for persistence.
func (g *Gate) Snapshot() model.RiskSnapshot {
	daily := make(map[string]float64, len(g.dailyPnL))
	for k, v := range g.dailyPnL {
		daily[k] = v
	}
	monthly := make(map[string]float64, len(g.monthlyPnL))
	for k, v := range g.monthlyPnL {
		monthly[k] = v
	}
	return model.RiskSnapshot{DailyPnL: daily, MonthlyPnL: monthly}
}

// Restore replaces both P&L maps from a persisted snapshot.
func (g *Gate) Restore(snapshot model.RiskSnapshot) {
	g.dailyPnL = make(map[string]float64, len(snapshot.DailyPnL))
	for k, v := range snapshot.DailyPnL {
		g.dailyPnL[k] = v
	}
	g.monthlyPnL = make(map[string]float64, len(snapshot.MonthlyPnL))
	for k, v := range snapshot.MonthlyPnL {
		g.monthlyPnL[k] = v
	}
}
