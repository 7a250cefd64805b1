package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"flashgate/internal/exchange/driver"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/websocket"
)

// The venue expires a listen key 60 minutes after its last keepalive.
const listenKeyKeepAlive = 30 * time.Minute

// orderBuffer must absorb a burst of fills while the gateway is busy
// emitting; the stream reader drops the oldest update when it overflows.
const (
	orderBuffer   = 1024
	balanceBuffer = 64
)

// bookStream is one partial depth stream for one symbol.
type bookStream struct {
	client *websocket.Client
	ch     chan driver.Raw
}

// userStream is the authenticated stream carrying balance and order events.
type userStream struct {
	client    *websocket.Client
	listenKey string
	balances  chan driver.Raw
	orders    chan driver.Raw
	cancel    context.CancelFunc
}

func (u *userStream) stop() {
	u.cancel()
	if u.client != nil {
		u.client.Stop()
	}
}

// WatchOrderBook blocks until the next depth snapshot for the symbol
// arrives over the stream. The first call starts the stream.
func (b *Binance) WatchOrderBook(ctx context.Context, symbol string, depth int) (driver.Raw, error) {
	stream := b.ensureBookStream(symbol, depth)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, apperrors.ErrStreamClosed
	case raw := <-stream.ch:
		return raw, nil
	}
}

// WatchBalance blocks until the next account balance delta.
func (b *Binance) WatchBalance(ctx context.Context) (driver.Raw, error) {
	user, err := b.ensureUserStream(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, apperrors.ErrStreamClosed
	case raw := <-user.balances:
		return raw, nil
	}
}

// WatchOrders blocks until at least one order update arrives, then drains
// whatever else is already buffered.
func (b *Binance) WatchOrders(ctx context.Context) ([]driver.Raw, error) {
	user, err := b.ensureUserStream(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, apperrors.ErrStreamClosed
	case raw := <-user.orders:
		batch := []driver.Raw{raw}
		for len(batch) < 16 {
			select {
			case more := <-user.orders:
				batch = append(batch, more)
			default:
				return batch, nil
			}
		}
		return batch, nil
	}
}

func (b *Binance) ensureBookStream(symbol string, depth int) *bookStream {
	b.mu.Lock()
	defer b.mu.Unlock()

	if stream, ok := b.bookStreams[symbol]; ok {
		return stream
	}

	levels := clampDepthTier(depth)
	streamURL := fmt.Sprintf("%s/%s@depth%d@100ms", b.wsBase, strings.ToLower(toMarketID(symbol)), levels)

	stream := &bookStream{ch: make(chan driver.Raw, 1)}
	handler := func(message []byte) {
		var update wsDepth
		if err := json.Unmarshal(message, &update); err != nil {
			b.logger.Warn("Malformed depth update", "symbol", symbol, "error", err)
			return
		}
		// Latest snapshot wins; a stale one is worthless.
		pushLatest(stream.ch, b.bookToRaw(symbol, update.Bids, update.Asks, 0))
	}

	cfg := websocket.DefaultConfig(streamURL)
	cfg.Dialer = b.wsDialer()
	stream.client = websocket.NewClient(cfg, handler, b.logger)
	stream.client.Start()

	b.bookStreams[symbol] = stream
	return stream
}

// The partial book stream only comes in fixed tiers.
func clampDepthTier(depth int) int {
	switch {
	case depth <= 5:
		return 5
	case depth <= 10:
		return 10
	default:
		return 20
	}
}

func (b *Binance) ensureUserStream(ctx context.Context) (*userStream, error) {
	b.mu.Lock()
	if b.user != nil {
		user := b.user
		b.mu.Unlock()
		return user, nil
	}
	b.mu.Unlock()

	key, err := b.createListenKey(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.user != nil {
		return b.user, nil
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	user := &userStream{
		listenKey: key,
		balances:  make(chan driver.Raw, balanceBuffer),
		orders:    make(chan driver.Raw, orderBuffer),
		cancel:    cancel,
	}

	cfg := websocket.DefaultConfig(b.wsBase + "/" + key)
	cfg.Dialer = b.wsDialer()
	user.client = websocket.NewClient(cfg, b.handleUserMessage(user), b.logger)
	user.client.Start()

	go b.keepAliveLoop(keepAliveCtx, user)

	b.user = user
	b.logger.Info("User data stream started")
	return user, nil
}

func (b *Binance) handleUserMessage(user *userStream) websocket.MessageHandler {
	return func(message []byte) {
		var envelope struct {
			Event string `json:"e"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			b.logger.Warn("Malformed user stream message", "error", err)
			return
		}

		switch envelope.Event {
		case "outboundAccountPosition":
			var position wsAccountPosition
			if err := json.Unmarshal(message, &position); err != nil {
				b.logger.Warn("Malformed account position", "error", err)
				return
			}
			raw := driver.Raw{}
			for _, asset := range position.Balances {
				free := parseAmount(asset.Free)
				used := parseAmount(asset.Locked)
				raw[asset.Asset] = map[string]any{
					"free":  free,
					"used":  used,
					"total": free + used,
				}
			}
			if position.EventTime > 0 {
				raw["timestamp"] = position.EventTime
			}
			if dropped := pushDropOldest(user.balances, raw); dropped {
				b.logger.Warn("Balance stream buffer overflow, oldest update dropped")
			}

		case "executionReport":
			var report wsExecutionReport
			if err := json.Unmarshal(message, &report); err != nil {
				b.logger.Warn("Malformed execution report", "error", err)
				return
			}
			if dropped := pushDropOldest(user.orders, b.executionToRaw(report)); dropped {
				b.logger.Error("Order stream buffer overflow, oldest update dropped")
			}

		case "balanceUpdate", "listStatus":
			// Deposits and OCO bookkeeping; an account position event follows
			// when anything tradable changed.
		}
	}
}

func (b *Binance) executionToRaw(report wsExecutionReport) driver.Raw {
	clientOrderID := report.ClientOrderID
	if report.OrigClientOrderID != "" && report.OrigClientOrderID != "null" {
		clientOrderID = report.OrigClientOrderID
	}

	raw := driver.Raw{
		"id":            strconv.FormatInt(report.OrderID, 10),
		"clientOrderId": clientOrderID,
		"symbol":        b.toSymbol(report.Symbol),
		"type":          strings.ToLower(report.Type),
		"side":          strings.ToLower(report.Side),
		"amount":        parseAmount(report.Qty),
		"filled":        parseAmount(report.CumQty),
		"status":        normalizeStatus(report.Status),
	}
	if price := parseAmount(report.Price); price > 0 {
		raw["price"] = price
	}
	if report.TransactTime > 0 {
		raw["timestamp"] = report.TransactTime
	}
	return raw
}

func (b *Binance) createListenKey(ctx context.Context) (string, error) {
	if b.creds.APIKey == "" {
		return "", fmt.Errorf("%w: no credentials configured", apperrors.ErrAuthenticationFailed)
	}

	body, err := b.request(ctx, http.MethodPost, "/api/v3/userDataStream", nil, authAPIKey)
	if err != nil {
		return "", err
	}

	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", errors.New("empty listen key")
	}
	return resp.ListenKey, nil
}

// keepAliveLoop refreshes the listen key twice per expiry window. A failed
// refresh means the key may already be dead, so the stream is rebuilt on a
// fresh one.
func (b *Binance) keepAliveLoop(ctx context.Context, user *userStream) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			key := user.listenKey
			b.mu.Unlock()

			params := url.Values{}
			params.Set("listenKey", key)
			if _, err := b.request(ctx, http.MethodPut, "/api/v3/userDataStream", params, authAPIKey); err != nil {
				b.logger.Error("Listen key keepalive failed", "error", err)
				b.refreshUserStream(ctx, user)
			}
		}
	}
}

func (b *Binance) refreshUserStream(ctx context.Context, user *userStream) {
	key, err := b.createListenKey(ctx)
	if err != nil {
		b.logger.Error("Listen key refresh failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.user != user {
		b.mu.Unlock()
		return
	}
	old := user.client
	user.listenKey = key

	cfg := websocket.DefaultConfig(b.wsBase + "/" + key)
	cfg.Dialer = b.wsDialer()
	user.client = websocket.NewClient(cfg, b.handleUserMessage(user), b.logger)
	user.client.Start()
	b.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	b.logger.Info("User data stream reconnected with a fresh listen key")
}

func (b *Binance) wsDialer() *gws.Dialer {
	return &gws.Dialer{
		NetDialContext:   b.dialer.DialContext,
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
}

// pushLatest replaces whatever sits in a capacity-1 channel.
func pushLatest(ch chan driver.Raw, raw driver.Raw) {
	select {
	case ch <- raw:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- raw:
		default:
		}
	}
}

// pushDropOldest enqueues, evicting the oldest entry when full. Reports
// whether an eviction happened.
func pushDropOldest(ch chan driver.Raw, raw driver.Raw) bool {
	select {
	case ch <- raw:
		return false
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- raw:
	default:
	}
	return true
}

// Stream payload shapes.

type wsDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type wsAccountPosition struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Balances  []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

type wsExecutionReport struct {
	Event             string `json:"e"`
	EventTime         int64  `json:"E"`
	Symbol            string `json:"s"`
	ClientOrderID     string `json:"c"`
	Side              string `json:"S"`
	Type              string `json:"o"`
	Qty               string `json:"q"`
	Price             string `json:"p"`
	ExecType          string `json:"x"`
	Status            string `json:"X"`
	OrderID           int64  `json:"i"`
	CumQty            string `json:"z"`
	TransactTime      int64  `json:"T"`
	OrigClientOrderID string `json:"C"`
}
