package model

import "time"

// Sentiment is the classified direction of a news article for one symbol.
type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentNeutral Sentiment = "NEUTRAL"
	SentimentBearish Sentiment = "BEARISH"
)

// TimeHorizon is the expected relevance window of a classification.
type TimeHorizon string

const (
	HorizonShort  TimeHorizon = "SHORT"
	HorizonMedium TimeHorizon = "MEDIUM"
	HorizonLong   TimeHorizon = "LONG"
)

// TradeAction is the direction of a trade signal.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// NewsArticle is a normalized article from any news provider.
type NewsArticle struct {
	ID        string    `json:"id"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content,omitempty"`
	Symbols   []string  `json:"symbols"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SentimentResult is the classifier's verdict for one (article, symbol) pair.
type SentimentResult struct {
	ArticleID   string      `json:"article_id"`
	Headline    string      `json:"headline"`
	Symbol      string      `json:"symbol"`
	Sentiment   Sentiment   `json:"sentiment"`
	Conviction  int         `json:"conviction"`
	TimeHorizon TimeHorizon `json:"time_horizon"`
	Reasoning   string      `json:"reasoning"`
	KeyFactors  []string    `json:"key_factors,omitempty"`
	AnalyzedAt  time.Time   `json:"analyzed_at"`
}

// TradeSignal is an ephemeral proposal to act on a sentiment result. It is
// never persisted standalone; once acted on it is embedded in the Position.
type TradeSignal struct {
	SignalID        string      `json:"signal_id"`
	ArticleID       string      `json:"article_id"`
	Symbol          string      `json:"symbol"`
	Action          TradeAction `json:"action"`
	Conviction      int         `json:"conviction"`
	Sentiment       Sentiment   `json:"sentiment"`
	PositionSizeUSD float64     `json:"position_size_usd"`
	Reasoning       string      `json:"reasoning"`
	GeneratedAt     time.Time   `json:"generated_at"`
}

// Position status values. A position is either open or closed with the exit
// reason baked into the status string.
const (
	StatusOpen         = "open"
	statusClosedPrefix = "closed:"
)

// ClosedStatus builds the status string for a closed position.
func ClosedStatus(reason string) string {
	return statusClosedPrefix + reason
}

// Position is one currently-or-previously-held instrument lot.
// Signal is nil for positions adopted from the broker during reconciliation.
type Position struct {
	Symbol          string       `json:"symbol"`
	BrokerOrderID   string       `json:"broker_order_id"`
	EntryPrice      float64      `json:"entry_price"`
	Quantity        float64      `json:"quantity"`
	PositionSizeUSD float64      `json:"position_size_usd"`
	EntryDate       time.Time    `json:"entry_date"`
	Signal          *TradeSignal `json:"signal,omitempty"`
	StopLossPrice   float64      `json:"stop_loss_price"`
	TakeProfitPrice float64      `json:"take_profit_price"`
	MaxHoldDate     time.Time    `json:"max_hold_date"`
	Status          string       `json:"status"`
	ExitPrice       float64      `json:"exit_price,omitempty"`
	ExitDate        time.Time    `json:"exit_date,omitempty"`
	PnLUSD          float64      `json:"pnl_usd,omitempty"`
	PnLPct          float64      `json:"pnl_pct,omitempty"`
}

// IsOpen reports whether the position has not been closed yet.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// BrokerPosition is the broker's view of one held instrument.
type BrokerPosition struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pl"`
}

// Account is the broker account snapshot used for risk approval.
type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	Status      string  `json:"status"`
}

// Clock describes the market session state.
type Clock struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}
