package model

// PositionsSnapshot is the serialized form of the position ledger.
type PositionsSnapshot struct {
	Open   map[string]*Position `json:"open"`
	Closed []*Position          `json:"closed"`
}

// RiskSnapshot is the serialized form of the risk gate's P&L buckets,
// keyed by ISO date ("2006-01-02") and year-month ("2006-01").
type RiskSnapshot struct {
	DailyPnL   map[string]float64 `json:"daily_pnl"`
	MonthlyPnL map[string]float64 `json:"monthly_pnl"`
}
