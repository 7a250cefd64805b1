// Package driver defines the venue-facing contract. A driver speaks one
// exchange's REST and websocket dialects and hands back loosely typed
// payloads; the exchange package above it normalizes those into the shared
// data model. Keeping the boundary untyped means venue quirks (missing
// fields, string numbers, null prices) survive to the normalization layer
// where the rules for them live.
package driver

import (
	"context"
	"sync/atomic"
	"time"

	"flashgate/internal/core"
)

// Raw is a decoded venue payload before normalization.
type Raw = map[string]any

// OrderRequest carries one order placement.
type OrderRequest struct {
	Symbol        string
	Type          core.OrderType
	Side          core.OrderSide
	Amount        float64
	Price         float64
	ClientOrderID string
}

// Credentials is one API key set.
type Credentials struct {
	APIKey    string
	SecretKey string
	Password  string
}

// NonceFunc produces strictly increasing nonces in nanoseconds.
type NonceFunc func() int64

// Options configures a driver instance.
type Options struct {
	Credentials Credentials
	// Sandbox routes calls to the venue's test environment.
	Sandbox bool
	// LocalAddr pins outbound connections to one source IP. Empty means
	// the OS picks.
	LocalAddr string
	// Symbols is the unified instrument universe this driver serves. It
	// seeds the market-id mapping used to translate venue updates back.
	Symbols []string
	Nonce   NonceFunc
	Logger  core.ILogger
}

// Driver is one authenticated (or public) session against a venue.
//
// Fetch methods are request/response. Watch methods block until the next
// streamed update arrives, the context ends, or the stream closes for
// good (ErrStreamClosed).
type Driver interface {
	FetchOrderBook(ctx context.Context, symbol string, depth int) (Raw, error)
	WatchOrderBook(ctx context.Context, symbol string, depth int) (Raw, error)
	FetchBalance(ctx context.Context) (Raw, error)
	WatchBalance(ctx context.Context) (Raw, error)
	CreateOrder(ctx context.Context, req OrderRequest) (Raw, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (Raw, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Raw, error)
	FetchCanceledOrders(ctx context.Context, symbol string) ([]Raw, error)
	WatchOrders(ctx context.Context) ([]Raw, error)
	Close() error
}

var lastNonce atomic.Int64

// MonotonicNonce returns the current time in nanoseconds, bumped past the
// previous value when clocks stall or step backwards. Safe for concurrent
// use across every session in the process.
func MonotonicNonce() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastNonce.Load()
		if now <= last {
			now = last + 1
		}
		if lastNonce.CompareAndSwap(last, now) {
			return now
		}
	}
}
