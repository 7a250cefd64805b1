// Package binance implements the venue driver for Binance spot.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"flashgate/internal/core"
	"flashgate/internal/exchange/driver"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/telemetry"
)

const (
	defaultBaseURL = "https://api.binance.com"
	sandboxBaseURL = "https://testnet.binance.vision"

	defaultWSURL = "wss://stream.binance.com:9443/ws"
	sandboxWSURL = "wss://stream.testnet.binance.vision/ws"

	requestTimeout = 10 * time.Second
	recvWindow     = "5000"
)

type authLevel int

const (
	authNone authLevel = iota
	authAPIKey
	authSigned
)

// Binance is one session against Binance spot. A session may be public
// (no credentials, market data only) or private.
type Binance struct {
	creds      driver.Credentials
	httpClient *http.Client
	dialer     *net.Dialer
	baseURL    string
	wsBase     string
	nonce      driver.NonceFunc
	logger     core.ILogger

	// market id ("BTCUSDT") to unified symbol ("BTC/USDT")
	symbolByMarketID map[string]string

	mu          sync.Mutex
	bookStreams map[string]*bookStream
	user        *userStream

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a session from the options. An empty LocalAddr leaves source
// address selection to the OS.
func New(opts driver.Options) (*Binance, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if opts.LocalAddr != "" {
		ip := net.ParseIP(opts.LocalAddr)
		if ip == nil {
			return nil, fmt.Errorf("invalid local address %q", opts.LocalAddr)
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	api, ws := defaultBaseURL, defaultWSURL
	if opts.Sandbox {
		api, ws = sandboxBaseURL, sandboxWSURL
	}

	nonce := opts.Nonce
	if nonce == nil {
		nonce = driver.MonotonicNonce
	}

	symbolByMarketID := make(map[string]string, len(opts.Symbols))
	for _, symbol := range opts.Symbols {
		symbolByMarketID[toMarketID(symbol)] = symbol
	}

	return &Binance{
		creds:            opts.Credentials,
		httpClient:       &http.Client{Transport: transport, Timeout: requestTimeout},
		dialer:           dialer,
		baseURL:          api,
		wsBase:           ws,
		nonce:            nonce,
		logger:           opts.Logger,
		symbolByMarketID: symbolByMarketID,
		bookStreams:      make(map[string]*bookStream),
		done:             make(chan struct{}),
	}, nil
}

// SetBaseURL points the session at a different REST endpoint. Tests aim it
// at a local server.
func (b *Binance) SetBaseURL(u string) {
	b.baseURL = u
}

func toMarketID(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func (b *Binance) toSymbol(marketID string) string {
	if symbol, ok := b.symbolByMarketID[marketID]; ok {
		return symbol
	}
	return marketID
}

// FetchOrderBook returns a depth snapshot.
func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, depth int) (driver.Raw, error) {
	params := url.Values{}
	params.Set("symbol", toMarketID(symbol))
	if depth > 0 {
		params.Set("limit", strconv.Itoa(depth))
	}

	body, err := b.request(ctx, http.MethodGet, "/api/v3/depth", params, authNone)
	if err != nil {
		return nil, err
	}

	var book restOrderBook
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("failed to parse order book: %w", err)
	}

	return b.bookToRaw(symbol, book.Bids, book.Asks, 0), nil
}

// FetchBalance returns the full account balance.
func (b *Binance) FetchBalance(ctx context.Context) (driver.Raw, error) {
	body, err := b.request(ctx, http.MethodGet, "/api/v3/account", nil, authSigned)
	if err != nil {
		return nil, err
	}

	var account restAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("failed to parse account: %w", err)
	}

	raw := driver.Raw{}
	for _, asset := range account.Balances {
		free := parseAmount(asset.Free)
		used := parseAmount(asset.Locked)
		raw[asset.Asset] = map[string]any{
			"free":  free,
			"used":  used,
			"total": free + used,
		}
	}
	if account.UpdateTime > 0 {
		raw["timestamp"] = account.UpdateTime
	}
	return raw, nil
}

// CreateOrder places one order and returns its first acknowledged state.
func (b *Binance) CreateOrder(ctx context.Context, req driver.OrderRequest) (driver.Raw, error) {
	params := url.Values{}
	params.Set("symbol", toMarketID(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", formatAmount(req.Amount))
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("newOrderRespType", "RESULT")
	if req.Type == core.OrderTypeLimit {
		params.Set("price", formatAmount(req.Price))
		params.Set("timeInForce", "GTC")
	}

	body, err := b.request(ctx, http.MethodPost, "/api/v3/order", params, authSigned)
	if err != nil {
		return nil, err
	}

	var order restOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}
	return b.orderToRaw(order), nil
}

// CancelOrder cancels by exchange order id.
func (b *Binance) CancelOrder(ctx context.Context, id, symbol string) error {
	if id == "" {
		return fmt.Errorf("%w: empty order id", apperrors.ErrOrderNotFound)
	}

	params := url.Values{}
	params.Set("symbol", toMarketID(symbol))
	params.Set("orderId", id)

	_, err := b.request(ctx, http.MethodDelete, "/api/v3/order", params, authSigned)
	return err
}

// FetchOrder looks an order up by exchange order id.
func (b *Binance) FetchOrder(ctx context.Context, id, symbol string) (driver.Raw, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty order id", apperrors.ErrOrderNotFound)
	}

	params := url.Values{}
	params.Set("symbol", toMarketID(symbol))
	params.Set("orderId", id)

	body, err := b.request(ctx, http.MethodGet, "/api/v3/order", params, authSigned)
	if err != nil {
		return nil, err
	}

	var order restOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}
	return b.orderToRaw(order), nil
}

// FetchOpenOrders returns every open order for the symbol.
func (b *Binance) FetchOpenOrders(ctx context.Context, symbol string) ([]driver.Raw, error) {
	params := url.Values{}
	params.Set("symbol", toMarketID(symbol))

	body, err := b.request(ctx, http.MethodGet, "/api/v3/openOrders", params, authSigned)
	if err != nil {
		return nil, err
	}

	var orders []restOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse open orders: %w", err)
	}

	raws := make([]driver.Raw, 0, len(orders))
	for _, order := range orders {
		raws = append(raws, b.orderToRaw(order))
	}
	return raws, nil
}

// FetchCanceledOrders returns recently canceled orders for the symbol. The
// venue has no canceled-only endpoint, so this filters the order history.
func (b *Binance) FetchCanceledOrders(ctx context.Context, symbol string) ([]driver.Raw, error) {
	params := url.Values{}
	params.Set("symbol", toMarketID(symbol))
	params.Set("limit", "500")

	body, err := b.request(ctx, http.MethodGet, "/api/v3/allOrders", params, authSigned)
	if err != nil {
		return nil, err
	}

	var orders []restOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse order history: %w", err)
	}

	raws := make([]driver.Raw, 0)
	for _, order := range orders {
		if normalizeStatus(order.Status) != string(core.OrderStatusCanceled) {
			continue
		}
		raws = append(raws, b.orderToRaw(order))
	}
	return raws, nil
}

// request executes one REST call. Signed calls get a millisecond timestamp
// derived from the session nonce and an HMAC-SHA256 signature over the
// whole query string.
func (b *Binance) request(ctx context.Context, method, path string, params url.Values, auth authLevel) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	if auth == authSigned {
		if b.creds.APIKey == "" || b.creds.SecretKey == "" {
			return nil, fmt.Errorf("%w: no credentials configured", apperrors.ErrAuthenticationFailed)
		}
		params.Set("timestamp", strconv.FormatInt(b.nonce()/int64(time.Millisecond), 10))
		params.Set("recvWindow", recvWindow)
	}

	query := params.Encode()
	if auth == authSigned {
		query += "&signature=" + b.sign(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = query
	if auth != authNone {
		req.Header.Set("X-MBX-APIKEY", b.creds.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		err = mapTransportError(err)
		telemetry.GetGlobalMetrics().ExchangeErrors.Add(ctx, 1, telemetry.KindAttr(apperrors.Kind(err)))
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := parseAPIError(resp.StatusCode, body)
		telemetry.GetGlobalMetrics().ExchangeErrors.Add(ctx, 1, telemetry.KindAttr(apperrors.Kind(err)))
		return nil, err
	}
	return body, nil
}

func (b *Binance) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(b.creds.SecretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	return fmt.Errorf("binance request failed: %w", err)
}

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// parseAPIError maps the venue's error codes onto the shared sentinels.
func parseAPIError(status int, body []byte) error {
	var e apiErrorBody
	_ = json.Unmarshal(body, &e)

	var sentinel error
	switch e.Code {
	case -1003:
		sentinel = apperrors.ErrRateLimitExceeded
	case -2011, -2013:
		sentinel = apperrors.ErrOrderNotFound
	case -2014, -2015, -1022:
		sentinel = apperrors.ErrAuthenticationFailed
	case -1121:
		sentinel = apperrors.ErrInvalidSymbol
	case -2010:
		// NEW_ORDER_REJECTED covers several causes; split on the message.
		msg := strings.ToLower(e.Msg)
		switch {
		case strings.Contains(msg, "insufficient"):
			sentinel = apperrors.ErrInsufficientFunds
		case strings.Contains(msg, "duplicate"):
			sentinel = apperrors.ErrDuplicateOrder
		default:
			sentinel = apperrors.ErrInvalidOrderParameter
		}
	case -2012:
		sentinel = apperrors.ErrDuplicateOrder
	case -1013, -1100, -1102, -1111:
		sentinel = apperrors.ErrInvalidOrderParameter
	}

	if sentinel == nil {
		switch {
		case status == http.StatusTooManyRequests || status == 418:
			sentinel = apperrors.ErrRateLimitExceeded
		case status >= 500:
			sentinel = apperrors.ErrExchangeUnavailable
		}
	}

	if sentinel != nil {
		return fmt.Errorf("%w: binance code %d: %s", sentinel, e.Code, e.Msg)
	}
	return fmt.Errorf("binance api error: status=%d code=%d msg=%s", status, e.Code, e.Msg)
}

// REST payload shapes.

type restOrderBook struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type restAccount struct {
	UpdateTime int64 `json:"updateTime"`
	Balances   []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type restOrder struct {
	Symbol            string `json:"symbol"`
	OrderID           int64  `json:"orderId"`
	ClientOrderID     string `json:"clientOrderId"`
	OrigClientOrderID string `json:"origClientOrderId"`
	Price             string `json:"price"`
	OrigQty           string `json:"origQty"`
	ExecutedQty       string `json:"executedQty"`
	Status            string `json:"status"`
	Type              string `json:"type"`
	Side              string `json:"side"`
	Time              int64  `json:"time"`
	TransactTime      int64  `json:"transactTime"`
	UpdateTime        int64  `json:"updateTime"`
}

// bookToRaw converts string levels to numeric [price, amount] pairs.
// Timestamp stays absent when the venue did not attach one; snapshots from
// the REST depth endpoint never carry it.
func (b *Binance) bookToRaw(symbol string, bids, asks [][]string, eventTime int64) driver.Raw {
	raw := driver.Raw{
		"symbol": symbol,
		"bids":   parseLevels(bids),
		"asks":   parseLevels(asks),
	}
	if eventTime > 0 {
		raw["timestamp"] = eventTime
	}
	return raw
}

func parseLevels(levels [][]string) [][2]float64 {
	parsed := make([][2]float64, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		parsed = append(parsed, [2]float64{parseAmount(level[0]), parseAmount(level[1])})
	}
	return parsed
}

// orderToRaw reshapes a REST order into the canonical raw order keys shared
// with the stream parser. A zero price is left out: the venue reports
// market orders as price "0.00000000".
func (b *Binance) orderToRaw(o restOrder) driver.Raw {
	clientOrderID := o.ClientOrderID
	if o.OrigClientOrderID != "" {
		clientOrderID = o.OrigClientOrderID
	}

	timestamp := o.Time
	if timestamp == 0 {
		timestamp = o.TransactTime
	}
	if timestamp == 0 {
		timestamp = o.UpdateTime
	}

	raw := driver.Raw{
		"id":            strconv.FormatInt(o.OrderID, 10),
		"clientOrderId": clientOrderID,
		"symbol":        b.toSymbol(o.Symbol),
		"type":          strings.ToLower(o.Type),
		"side":          strings.ToLower(o.Side),
		"amount":        parseAmount(o.OrigQty),
		"filled":        parseAmount(o.ExecutedQty),
		"status":        normalizeStatus(o.Status),
	}
	if price := parseAmount(o.Price); price > 0 {
		raw["price"] = price
	}
	if timestamp > 0 {
		raw["timestamp"] = timestamp
	}
	return raw
}

// normalizeStatus folds the venue's order states into the shared
// three-state lifecycle.
func normalizeStatus(status string) string {
	switch status {
	case "NEW", "PARTIALLY_FILLED":
		return string(core.OrderStatusOpen)
	case "FILLED":
		return string(core.OrderStatusClosed)
	case "CANCELED", "PENDING_CANCEL", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		return string(core.OrderStatusCanceled)
	default:
		return strings.ToLower(status)
	}
}

// parseAmount converts the venue's string decimals ("1.23400000") without
// accumulating binary noise on the way to a float.
func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func formatAmount(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// Close tears down every stream. In-flight REST calls finish on their own.
func (b *Binance) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		streams := make([]*bookStream, 0, len(b.bookStreams))
		for _, s := range b.bookStreams {
			streams = append(streams, s)
		}
		user := b.user
		b.mu.Unlock()

		for _, s := range streams {
			s.client.Stop()
		}
		if user != nil {
			user.stop()
		}
	})
	return nil
}
