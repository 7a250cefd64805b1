// Package core holds the data model and contracts shared by every
// gateway component: normalized market data structures, order shapes,
// and the logging interface.
package core

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the normalized lifecycle state of an order. Every
// exchange-specific state collapses into one of these three.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCanceled
}

// OrderBook is a depth snapshot for a single instrument. Levels are
// [price, amount] pairs, best bid and best ask first. Timestamp is in
// microseconds and nil when the venue did not attach one.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      [][2]float64 `json:"bids"`
	Asks      [][2]float64 `json:"asks"`
	Timestamp *int64       `json:"timestamp"`
}

// AssetBalance is the per-currency breakdown of funds.
type AssetBalance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// Balance is an account snapshot covering a subset of assets.
// Timestamp is in microseconds and nil when the venue omits it.
type Balance struct {
	Assets    map[string]AssetBalance `json:"assets"`
	Timestamp *int64                  `json:"timestamp"`
}

// Order is the normalized order representation exchanged with the
// trading core. Pointer fields are nullable on the wire: a venue that
// does not report a price for a market order yields a null price, and
// synthetic cancellation acknowledgements carry nulls for everything
// the gateway cannot know.
type Order struct {
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Type          *OrderType  `json:"type"`
	Side          *OrderSide  `json:"side"`
	Amount        *float64    `json:"amount"`
	Price         *float64    `json:"price"`
	ID            string      `json:"id"`
	Status        OrderStatus `json:"status"`
	Filled        *float64    `json:"filled"`
	Timestamp     *int64      `json:"timestamp"`
	Info          any         `json:"info,omitempty"`
}

// CreateOrderParams carries everything needed to place one order.
type CreateOrderParams struct {
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Type          OrderType `json:"type"`
	Side          OrderSide `json:"side"`
	Amount        float64   `json:"amount"`
	Price         float64   `json:"price"`
}

// FetchOrderParams identifies an existing order. ID is the exchange
// order id and may be empty when only the client id is known.
type FetchOrderParams struct {
	ID            string `json:"id,omitempty"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
}

// Metrics is the payload of the periodic metrics event.
type Metrics struct {
	PublicAPI  PublicAPIMetrics  `json:"public_api"`
	PrivateAPI PrivateAPIMetrics `json:"private_api"`
}

type PublicAPIMetrics struct {
	OrderBook OrderBookMetrics `json:"orderbook"`
}

// OrderBookMetrics describes the public polling loop over the last
// window: latency percentiles in microseconds keyed by percentile label,
// and the number of book requests issued.
type OrderBookMetrics struct {
	LatencyPercentile map[string]int64 `json:"latency_percentile"`
	RPS               int              `json:"rps"`
}

type PrivateAPIMetrics struct {
	TotalRPS int `json:"total_rps"`
}
