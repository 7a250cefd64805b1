package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashgate/internal/core"
	"flashgate/internal/exchange/driver"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/logging"
)

func newTestSession(t *testing.T, handler http.HandlerFunc) *Binance {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session, err := New(driver.Options{
		Credentials: driver.Credentials{APIKey: "test-key", SecretKey: "test-secret"},
		Symbols:     []string{"BTC/USDT", "ETH/USDT"},
		Nonce:       func() int64 { return 1700000000123 * int64(time.Millisecond) },
		Logger:      logging.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	session.SetBaseURL(server.URL)
	return session
}

func TestSignedRequest(t *testing.T) {
	var captured *http.Request
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r
		_, _ = w.Write([]byte(`{"balances":[],"updateTime":0}`))
	})

	_, err := session.FetchBalance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, "/api/v3/account", captured.URL.Path)
	assert.Equal(t, "test-key", captured.Header.Get("X-MBX-APIKEY"))

	query := captured.URL.Query()
	assert.Equal(t, "1700000000123", query.Get("timestamp"))
	assert.Equal(t, "5000", query.Get("recvWindow"))

	signature := query.Get("signature")
	require.NotEmpty(t, signature)

	// The signature covers everything before the appended signature pair.
	rawQuery := captured.URL.RawQuery
	idx := strings.Index(rawQuery, "&signature=")
	require.Greater(t, idx, 0)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(rawQuery[:idx]))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)
}

func TestRequestWithoutCredentials(t *testing.T) {
	session, err := New(driver.Options{
		Symbols: []string{"BTC/USDT"},
		Logger:  logging.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	_, err = session.FetchBalance(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
}

func TestFetchOrderBook(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("signature"))
		_, _ = w.Write([]byte(`{
			"lastUpdateId": 1027024,
			"bids": [["4.00000000", "431.00000000"], ["3.90000000", "12.00000000"]],
			"asks": [["4.00000200", "12.00000000"]]
		}`))
	})

	raw, err := session.FetchOrderBook(context.Background(), "BTC/USDT", 5)
	require.NoError(t, err)

	assert.Equal(t, "BTC/USDT", raw["symbol"])
	assert.Equal(t, [][2]float64{{4.0, 431.0}, {3.9, 12.0}}, raw["bids"])
	assert.Equal(t, [][2]float64{{4.000002, 12.0}}, raw["asks"])
	_, hasTimestamp := raw["timestamp"]
	assert.False(t, hasTimestamp)
}

func TestFetchBalance(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"updateTime": 1718000000000,
			"balances": [
				{"asset": "BTC", "free": "0.10000000", "locked": "0.02000000"},
				{"asset": "USDT", "free": "1000.00000000", "locked": "0.00000000"}
			]
		}`))
	})

	raw, err := session.FetchBalance(context.Background())
	require.NoError(t, err)

	btc, ok := raw["BTC"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.1, btc["free"])
	assert.Equal(t, 0.02, btc["used"])
	assert.Equal(t, 0.12, btc["total"])
	assert.Equal(t, int64(1718000000000), raw["timestamp"])
}

func TestCreateOrder(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)

		query := r.URL.Query()
		assert.Equal(t, "BTCUSDT", query.Get("symbol"))
		assert.Equal(t, "BUY", query.Get("side"))
		assert.Equal(t, "LIMIT", query.Get("type"))
		assert.Equal(t, "0.5", query.Get("quantity"))
		assert.Equal(t, "42000.1", query.Get("price"))
		assert.Equal(t, "GTC", query.Get("timeInForce"))
		assert.Equal(t, "gw-123", query.Get("newClientOrderId"))
		assert.Equal(t, "RESULT", query.Get("newOrderRespType"))

		_, _ = w.Write([]byte(`{
			"symbol": "BTCUSDT", "orderId": 987, "clientOrderId": "gw-123",
			"price": "42000.10000000", "origQty": "0.50000000", "executedQty": "0.00000000",
			"status": "NEW", "type": "LIMIT", "side": "BUY", "transactTime": 1718000000123
		}`))
	})

	raw, err := session.CreateOrder(context.Background(), driver.OrderRequest{
		Symbol:        "BTC/USDT",
		Type:          core.OrderTypeLimit,
		Side:          core.OrderSideBuy,
		Amount:        0.5,
		Price:         42000.1,
		ClientOrderID: "gw-123",
	})
	require.NoError(t, err)

	assert.Equal(t, "987", raw["id"])
	assert.Equal(t, "gw-123", raw["clientOrderId"])
	assert.Equal(t, "BTC/USDT", raw["symbol"])
	assert.Equal(t, "limit", raw["type"])
	assert.Equal(t, "buy", raw["side"])
	assert.Equal(t, "open", raw["status"])
	assert.Equal(t, 42000.1, raw["price"])
	assert.Equal(t, 0.5, raw["amount"])
	assert.Equal(t, 0.0, raw["filled"])
	assert.Equal(t, int64(1718000000123), raw["timestamp"])
}

func TestCreateMarketOrderOmitsPrice(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "MARKET", query.Get("type"))
		assert.Empty(t, query.Get("price"))
		assert.Empty(t, query.Get("timeInForce"))

		_, _ = w.Write([]byte(`{
			"symbol": "BTCUSDT", "orderId": 988, "clientOrderId": "gw-124",
			"price": "0.00000000", "origQty": "0.10000000", "executedQty": "0.10000000",
			"status": "FILLED", "type": "MARKET", "side": "SELL", "transactTime": 1718000000999
		}`))
	})

	raw, err := session.CreateOrder(context.Background(), driver.OrderRequest{
		Symbol:        "BTC/USDT",
		Type:          core.OrderTypeMarket,
		Side:          core.OrderSideSell,
		Amount:        0.1,
		ClientOrderID: "gw-124",
	})
	require.NoError(t, err)

	assert.Equal(t, "closed", raw["status"])
	_, hasPrice := raw["price"]
	assert.False(t, hasPrice, "zero price must be left out of the raw order")
}

func TestCancelOrder(t *testing.T) {
	var captured *http.Request
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":987,"status":"CANCELED"}`))
	})

	err := session.CancelOrder(context.Background(), "987", "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, http.MethodDelete, captured.Method)
	assert.Equal(t, "987", captured.URL.Query().Get("orderId"))
}

func TestCancelOrderEmptyID(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty order id")
	})

	err := session.CancelOrder(context.Background(), "", "BTC/USDT")
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}

func TestFetchCanceledOrdersFiltersHistory(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/allOrders", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"symbol": "BTCUSDT", "orderId": 1, "clientOrderId": "a", "price": "100.0", "origQty": "1.0", "executedQty": "0.0", "status": "NEW", "type": "LIMIT", "side": "BUY", "time": 1},
			{"symbol": "BTCUSDT", "orderId": 2, "clientOrderId": "b", "price": "100.0", "origQty": "1.0", "executedQty": "0.5", "status": "CANCELED", "type": "LIMIT", "side": "BUY", "time": 2},
			{"symbol": "BTCUSDT", "orderId": 3, "clientOrderId": "c", "price": "100.0", "origQty": "1.0", "executedQty": "1.0", "status": "FILLED", "type": "LIMIT", "side": "SELL", "time": 3},
			{"symbol": "BTCUSDT", "orderId": 4, "clientOrderId": "d", "price": "100.0", "origQty": "1.0", "executedQty": "0.0", "status": "EXPIRED", "type": "LIMIT", "side": "SELL", "time": 4}
		]`))
	})

	raws, err := session.FetchCanceledOrders(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "2", raws[0]["id"])
	assert.Equal(t, "4", raws[1]["id"])
	assert.Equal(t, "canceled", raws[0]["status"])
	assert.Equal(t, "canceled", raws[1]["status"])
}

func TestAPIErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusBadRequest, `{"code":-1003,"msg":"Too many requests."}`, apperrors.ErrRateLimitExceeded},
		{"unknown order", http.StatusBadRequest, `{"code":-2011,"msg":"Unknown order sent."}`, apperrors.ErrOrderNotFound},
		{"no such order", http.StatusBadRequest, `{"code":-2013,"msg":"Order does not exist."}`, apperrors.ErrOrderNotFound},
		{"bad signature", http.StatusUnauthorized, `{"code":-1022,"msg":"Signature for this request is not valid."}`, apperrors.ErrAuthenticationFailed},
		{"bad api key", http.StatusUnauthorized, `{"code":-2014,"msg":"API-key format invalid."}`, apperrors.ErrAuthenticationFailed},
		{"rejected key", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions."}`, apperrors.ErrAuthenticationFailed},
		{"bad symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, apperrors.ErrInvalidSymbol},
		{"insufficient balance", http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, apperrors.ErrInsufficientFunds},
		{"duplicate client id", http.StatusBadRequest, `{"code":-2010,"msg":"Duplicate order sent."}`, apperrors.ErrDuplicateOrder},
		{"generic rejection", http.StatusBadRequest, `{"code":-2010,"msg":"Order would immediately match and take."}`, apperrors.ErrInvalidOrderParameter},
		{"duplicate id", http.StatusBadRequest, `{"code":-2012,"msg":"Cancel rejected."}`, apperrors.ErrDuplicateOrder},
		{"bad quantity", http.StatusBadRequest, `{"code":-1013,"msg":"Invalid quantity."}`, apperrors.ErrInvalidOrderParameter},
		{"bad parameter", http.StatusBadRequest, `{"code":-1100,"msg":"Illegal characters found in a parameter."}`, apperrors.ErrInvalidOrderParameter},
		{"http 429", http.StatusTooManyRequests, `{"code":0,"msg":""}`, apperrors.ErrRateLimitExceeded},
		{"ip ban", 418, `{"code":0,"msg":""}`, apperrors.ErrRateLimitExceeded},
		{"maintenance", http.StatusServiceUnavailable, `{"code":0,"msg":""}`, apperrors.ErrExchangeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseAPIError(tt.status, []byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAPIErrorPassthrough(t *testing.T) {
	err := parseAPIError(http.StatusBadRequest, []byte(`{"code":-9999,"msg":"mystery"}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "-9999")
	assert.NotErrorIs(t, err, apperrors.ErrRateLimitExceeded)
}

func TestOrderToRaw(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name  string
		order restOrder
		check func(t *testing.T, raw driver.Raw)
	}{
		{
			name: "cancel response prefers the original client id",
			order: restOrder{
				Symbol: "BTCUSDT", OrderID: 10,
				ClientOrderID: "cancel-req-1", OrigClientOrderID: "gw-1",
				Price: "5.00000000", OrigQty: "1.0", ExecutedQty: "0.2",
				Status: "CANCELED", Type: "LIMIT", Side: "BUY", Time: 77,
			},
			check: func(t *testing.T, raw driver.Raw) {
				assert.Equal(t, "gw-1", raw["clientOrderId"])
				assert.Equal(t, "canceled", raw["status"])
				assert.Equal(t, int64(77), raw["timestamp"])
			},
		},
		{
			name: "timestamp falls back to transact time",
			order: restOrder{
				Symbol: "ETHUSDT", OrderID: 11, ClientOrderID: "gw-2",
				Price: "5.0", OrigQty: "1.0", ExecutedQty: "0",
				Status: "NEW", Type: "LIMIT", Side: "SELL", TransactTime: 88,
			},
			check: func(t *testing.T, raw driver.Raw) {
				assert.Equal(t, "ETH/USDT", raw["symbol"])
				assert.Equal(t, int64(88), raw["timestamp"])
			},
		},
		{
			name: "unmapped market id passes through",
			order: restOrder{
				Symbol: "DOGEUSDT", OrderID: 12, ClientOrderID: "gw-3",
				Price: "0.1", OrigQty: "100", ExecutedQty: "0",
				Status: "NEW", Type: "LIMIT", Side: "BUY", UpdateTime: 99,
			},
			check: func(t *testing.T, raw driver.Raw) {
				assert.Equal(t, "DOGEUSDT", raw["symbol"])
				assert.Equal(t, int64(99), raw["timestamp"])
			},
		},
		{
			name: "zero price and timestamp are omitted",
			order: restOrder{
				Symbol: "BTCUSDT", OrderID: 13, ClientOrderID: "gw-4",
				Price: "0.00000000", OrigQty: "0.1", ExecutedQty: "0.1",
				Status: "FILLED", Type: "MARKET", Side: "SELL",
			},
			check: func(t *testing.T, raw driver.Raw) {
				_, hasPrice := raw["price"]
				assert.False(t, hasPrice)
				_, hasTimestamp := raw["timestamp"]
				assert.False(t, hasTimestamp)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, session.orderToRaw(tt.order))
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"NEW", "open"},
		{"PARTIALLY_FILLED", "open"},
		{"FILLED", "closed"},
		{"CANCELED", "canceled"},
		{"PENDING_CANCEL", "canceled"},
		{"REJECTED", "canceled"},
		{"EXPIRED", "canceled"},
		{"SOMETHING_ELSE", "something_else"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeStatus(tt.in), tt.in)
	}
}

func TestParseAmount(t *testing.T) {
	assert.Equal(t, 1.234, parseAmount("1.23400000"))
	assert.Equal(t, 0.0, parseAmount(""))
	assert.Equal(t, 0.0, parseAmount("not-a-number"))
}

func TestNewRejectsBadLocalAddr(t *testing.T) {
	_, err := New(driver.Options{
		LocalAddr: "not-an-ip",
		Logger:    logging.NewNopLogger(),
	})
	assert.Error(t, err)
}

func TestMarketIDMapping(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toMarketID("BTC/USDT"))
	assert.Equal(t, "ETHBTC", toMarketID("eth/btc"))
}
