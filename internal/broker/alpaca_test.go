package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		Paper:     true,
		APIKey:    "key",
		APISecret: "secret",
		Retry: config.RetryConfig{
			MaxAttempts: 1,
			MinDelay:    time.Millisecond,
			MaxDelay:    time.Millisecond,
		},
	}
}

func testAlpacaBroker(t *testing.T, handler http.Handler) *AlpacaBroker {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	b := NewAlpacaBroker(testBrokerConfig(), zap.NewNop())
	b.baseURL = server.URL
	return b
}

func TestGetAccountParsesStringNumbers(t *testing.T) {
	b := testAlpacaBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"equity":       "10250.55",
			"cash":         "4300.10",
			"buying_power": "8600.20",
			"status":       "ACTIVE",
		})
	}))

	account, err := b.GetAccount(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 10250.55, account.Equity, 1e-9)
	assert.InDelta(t, 4300.10, account.Cash, 1e-9)
	assert.Equal(t, "ACTIVE", account.Status)
}

func TestGetPositionNotHeldIsNil(t *testing.T) {
	b := testAlpacaBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":40410000,"message":"position does not exist"}`, http.StatusNotFound)
	}))

	pos, err := b.GetPosition(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestGetOpenPositions(t *testing.T) {
	b := testAlpacaBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]string{{
			"symbol":          "AAPL",
			"qty":             "7.4",
			"avg_entry_price": "101.5",
			"current_price":   "103.2",
			"market_value":    "763.68",
			"unrealized_pl":   "12.58",
		}})
	}))

	positions, err := b.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	assert.Equal(t, model.BrokerPosition{
		Symbol:        "AAPL",
		Quantity:      7.4,
		AvgEntryPrice: 101.5,
		CurrentPrice:  103.2,
		MarketValue:   763.68,
		UnrealizedPnL: 12.58,
	}, positions[0])
}

func TestSubmitBuySendsNotionalOrder(t *testing.T) {
	var got orderRequest
	b := testAlpacaBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "order-123", "status": "accepted"})
	}))

	orderID, err := b.SubmitBuy(context.Background(), &model.TradeSignal{
		Symbol:          "AAPL",
		Action:          model.ActionBuy,
		PositionSizeUSD: 750,
	})
	require.NoError(t, err)

	assert.Equal(t, "order-123", orderID)
	assert.Equal(t, "buy", got.Side)
	assert.Equal(t, "market", got.Type)
	assert.Equal(t, "day", got.TimeInForce)
	assert.Equal(t, "750.00", got.Notional)
	assert.Empty(t, got.Qty)
}

func TestSubmitBuyRejectionWrapsErrOrder(t *testing.T) {
	b := testAlpacaBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"insufficient balance"}`, http.StatusForbidden)
	}))

	_, err := b.SubmitBuy(context.Background(), &model.TradeSignal{Symbol: "AAPL", PositionSizeUSD: 750})
	assert.ErrorIs(t, err, ErrOrder)
}

func TestTimeInForce(t *testing.T) {
	assert.Equal(t, "gtc", timeInForce("BTC/USD"))
	assert.Equal(t, "day", timeInForce("AAPL"))
}

func TestIsNotFractionable(t *testing.T) {
	assert.True(t, isNotFractionable(&apiError{
		Code: http.StatusUnprocessableEntity,
		Body: `{"message":"asset BRK.A is not fractionable"}`,
	}))
	assert.False(t, isNotFractionable(&apiError{Code: http.StatusUnprocessableEntity, Body: "bad qty"}))
	assert.False(t, isNotFractionable(&apiError{Code: http.StatusForbidden, Body: "not fractionable"}))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("ibkr", config.BrokerConfig{}, nil)
	assert.Error(t, err)
}
