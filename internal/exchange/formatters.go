// Package exchange normalizes raw venue payloads into the shared data
// model and layers the gateway's operation semantics over a driver
// session: typed fetches, the three-stage order lookup and batched
// cancellation.
package exchange

import (
	"flashgate/internal/core"
	"flashgate/internal/exchange/driver"
)

func rawString(raw driver.Raw, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

// rawFloat accepts the numeric types drivers and generic JSON decoding
// produce.
func rawFloat(raw driver.Raw, key string) (float64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// rawTimestampMicro lifts the driver's millisecond timestamp to the wire's
// microseconds. Nil when the venue attached none.
func rawTimestampMicro(raw driver.Raw) *int64 {
	ms, ok := rawFloat(raw, "timestamp")
	if !ok || ms == 0 {
		return nil
	}
	micro := int64(ms) * 1000
	return &micro
}

func rawLevels(raw driver.Raw, key string, depth int) [][2]float64 {
	levels, ok := raw[key].([][2]float64)
	if !ok {
		return [][2]float64{}
	}
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	out := make([][2]float64, len(levels))
	copy(out, levels)
	return out
}

// FormatOrderBook narrows a raw depth payload to the wire model,
// truncating both sides to the requested depth.
func FormatOrderBook(raw driver.Raw, depth int) core.OrderBook {
	return core.OrderBook{
		Symbol:    rawString(raw, "symbol"),
		Bids:      rawLevels(raw, "bids", depth),
		Asks:      rawLevels(raw, "asks", depth),
		Timestamp: rawTimestampMicro(raw),
	}
}

// FormatPartialBalance projects a raw account payload onto the requested
// assets. Assets the venue did not report come back zeroed so the core
// always sees the full requested set.
func FormatPartialBalance(raw driver.Raw, assets []string) core.Balance {
	balance := core.Balance{
		Assets:    make(map[string]core.AssetBalance, len(assets)),
		Timestamp: rawTimestampMicro(raw),
	}
	for _, asset := range assets {
		entry, ok := raw[asset].(map[string]any)
		if !ok {
			balance.Assets[asset] = core.AssetBalance{}
			continue
		}
		free, _ := rawFloat(entry, "free")
		used, _ := rawFloat(entry, "used")
		total, ok := rawFloat(entry, "total")
		if !ok {
			total = free + used
		}
		balance.Assets[asset] = core.AssetBalance{Free: free, Used: used, Total: total}
	}
	return balance
}

// FormatOrder converts a raw order. Market orders execute on arrival, so
// their status is forced to closed and filled to the full amount no matter
// what the venue reports.
func FormatOrder(raw driver.Raw) core.Order {
	order := core.Order{
		ID:            rawString(raw, "id"),
		ClientOrderID: rawString(raw, "clientOrderId"),
		Symbol:        rawString(raw, "symbol"),
		Status:        core.OrderStatus(rawString(raw, "status")),
		Timestamp:     rawTimestampMicro(raw),
	}

	if s := rawString(raw, "type"); s != "" {
		orderType := core.OrderType(s)
		order.Type = &orderType
	}
	if s := rawString(raw, "side"); s != "" {
		side := core.OrderSide(s)
		order.Side = &side
	}
	if v, ok := rawFloat(raw, "price"); ok {
		price := v
		order.Price = &price
	}
	if v, ok := rawFloat(raw, "amount"); ok {
		amount := v
		order.Amount = &amount
	}
	if v, ok := rawFloat(raw, "filled"); ok {
		filled := v
		order.Filled = &filled
	}

	if order.Type != nil && *order.Type == core.OrderTypeMarket {
		order.Status = core.OrderStatusClosed
		if order.Amount != nil {
			filled := *order.Amount
			order.Filled = &filled
		} else {
			order.Filled = nil
		}
	}

	if info, ok := raw["info"]; ok {
		order.Info = info
	}
	return order
}
