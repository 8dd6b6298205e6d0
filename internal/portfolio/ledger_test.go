package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		StopLossPct:         0.025,
		TakeProfitPct:       0.06,
		MaxHoldDays:         91,
		DailyLossLimitPct:   0.05,
		MonthlyLossLimitPct: 0.10,
	}
}

func buySignal(symbol string) *model.TradeSignal {
	return &model.TradeSignal{
		SignalID:        "sig-1",
		ArticleID:       "art-1",
		Symbol:          symbol,
		Action:          model.ActionBuy,
		Conviction:      85,
		Sentiment:       model.SentimentBullish,
		PositionSizeUSD: 750,
		GeneratedAt:     time.Now().UTC(),
	}
}

func TestLedgerOpenSetsExitLevels(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())

	pos := ledger.Open(buySignal("AAPL"), "order-1", 100.0, 7.5)

	assert.Equal(t, model.StatusOpen, pos.Status)
	assert.InDelta(t, 97.5, pos.StopLossPrice, 1e-9)
	assert.InDelta(t, 106.0, pos.TakeProfitPrice, 1e-9)
	assert.InDelta(t, 750.0, pos.PositionSizeUSD, 1e-9)
	assert.Equal(t, 1, ledger.OpenCount())
}

func TestLedgerCheckExitsPriority(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		wantReason string
	}{
		{"stop loss breach", 95.0, ReasonStopLoss},
		{"exact stop loss", 97.5, ReasonStopLoss},
		{"take profit breach", 107.0, ReasonTakeProfit},
		{"exact take profit", 106.0, ReasonTakeProfit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewLedger(testRiskConfig(), zap.NewNop())
			ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)

			exits := ledger.CheckExits(map[string]float64{"AAPL": tt.price})

			require.Len(t, exits, 1)
			assert.Equal(t, tt.wantReason, exits[0].Reason)
			assert.Equal(t, tt.price, exits[0].Price)
		})
	}
}

func TestLedgerCheckExitsNoTrigger(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)

	assert.Empty(t, ledger.CheckExits(map[string]float64{"AAPL": 101.0}))
}

func TestLedgerCheckExitsMissingPriceSkipped(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)

	assert.Empty(t, ledger.CheckExits(map[string]float64{"MSFT": 1.0}))
}

func TestLedgerCheckExitsMaxHold(t *testing.T) {
	cfg := testRiskConfig()
	ledger := NewLedger(cfg, zap.NewNop())
	pos := ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)
	pos.MaxHoldDate = time.Now().UTC().Add(-time.Hour)

	exits := ledger.CheckExits(map[string]float64{"AAPL": 100.0})

	require.Len(t, exits, 1)
	assert.Equal(t, ReasonMaxHold, exits[0].Reason)
}

func TestLedgerClose(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)

	closed, ok := ledger.Close("AAPL", 107.0, ReasonTakeProfit)

	require.True(t, ok)
	assert.Equal(t, "closed:take_profit", closed.Status)
	assert.InDelta(t, 35.0, closed.PnLUSD, 1e-9)
	assert.InDelta(t, 0.07, closed.PnLPct, 1e-9)
	assert.Equal(t, 0, ledger.OpenCount())
	assert.False(t, closed.IsOpen())
}

func TestLedgerCloseUnknownSymbol(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())

	closed, ok := ledger.Close("AAPL", 100.0, ReasonStopLoss)

	assert.False(t, ok)
	assert.Nil(t, closed)
}

func TestLedgerCloseIsNotRepeatable(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)

	_, ok := ledger.Close("AAPL", 95.0, ReasonStopLoss)
	require.True(t, ok)

	_, ok = ledger.Close("AAPL", 95.0, ReasonStopLoss)
	assert.False(t, ok)
	assert.Len(t, ledger.Snapshot().Closed, 1)
}

func TestLedgerReconcileAdoptsUntracked(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)

	warnings := ledger.Reconcile([]model.BrokerPosition{
		{Symbol: "AAPL", Quantity: 5, AvgEntryPrice: 100.0},
		{Symbol: "TSLA", Quantity: 2, AvgEntryPrice: 250.0},
	})

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "TSLA")

	adopted := ledger.Get("TSLA")
	require.NotNil(t, adopted)
	assert.Nil(t, adopted.Signal)
	assert.Contains(t, adopted.BrokerOrderID, "reconciled-")
	assert.InDelta(t, 250.0*(1-0.025), adopted.StopLossPrice, 1e-9)
	assert.Equal(t, 2, ledger.OpenCount())
}

func TestLedgerReconcileWarnsOnMissing(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)

	warnings := ledger.Reconcile(nil)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "AAPL")
	// Broker absence is only a warning, the position stays tracked.
	assert.Equal(t, 1, ledger.OpenCount())
}

func TestLedgerSnapshotRestoreRoundTrip(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)
	ledger.Reconcile([]model.BrokerPosition{
		{Symbol: "AAPL", Quantity: 5, AvgEntryPrice: 100.0},
		{Symbol: "TSLA", Quantity: 2, AvgEntryPrice: 250.0},
	})
	ledger.Close("AAPL", 107.0, ReasonTakeProfit)

	snapshot := ledger.Snapshot()

	restored := NewLedger(testRiskConfig(), zap.NewNop())
	restored.Restore(snapshot)

	assert.Equal(t, 1, restored.OpenCount())
	require.NotNil(t, restored.Get("TSLA"))
	assert.Nil(t, restored.Get("TSLA").Signal)
	assert.Len(t, restored.Snapshot().Closed, 1)
}

func TestLedgerStats(t *testing.T) {
	ledger := NewLedger(testRiskConfig(), zap.NewNop())
	ledger.Open(buySignal("AAPL"), "order-1", 100.0, 5)
	ledger.Close("AAPL", 107.0, ReasonTakeProfit)
	ledger.Open(buySignal("MSFT"), "order-2", 200.0, 2)
	ledger.Close("MSFT", 190.0, ReasonStopLoss)

	stats := ledger.Stats()

	assert.Equal(t, 0, stats.OpenCount)
	assert.Equal(t, 2, stats.ClosedCount)
	assert.InDelta(t, 15.0, stats.TotalPnLUSD, 1e-9)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assert.InDelta(t, 7.5, stats.AvgPnLPerTrade, 1e-9)
}
