package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flashgate/internal/core"
	"flashgate/internal/exchange/driver"
	apperrors "flashgate/pkg/errors"
)

// Spacing inside a batched cancellation. Open-order reads hit a heavier
// endpoint than cancels, so they get the longer gap.
const (
	openOrdersSpacing = 200 * time.Millisecond
	cancelSpacing     = 300 * time.Millisecond
)

// Exchange is one typed session against a venue.
type Exchange struct {
	driver driver.Driver
	logger core.ILogger
}

// New wraps a driver session.
func New(d driver.Driver, logger core.ILogger) *Exchange {
	return &Exchange{driver: d, logger: logger}
}

// FetchOrderBook returns a depth snapshot truncated to depth levels.
func (e *Exchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	raw, err := e.driver.FetchOrderBook(ctx, symbol, depth)
	if err != nil {
		return core.OrderBook{}, err
	}
	return FormatOrderBook(raw, depth), nil
}

// WatchOrderBook blocks until the next streamed depth snapshot.
func (e *Exchange) WatchOrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	raw, err := e.driver.WatchOrderBook(ctx, symbol, depth)
	if err != nil {
		return core.OrderBook{}, err
	}
	return FormatOrderBook(raw, depth), nil
}

// FetchPartialBalance returns the account balance narrowed to assets.
func (e *Exchange) FetchPartialBalance(ctx context.Context, assets []string) (core.Balance, error) {
	raw, err := e.driver.FetchBalance(ctx)
	if err != nil {
		return core.Balance{}, err
	}
	return FormatPartialBalance(raw, assets), nil
}

// WatchPartialBalance blocks until the next balance delta, narrowed to
// assets.
func (e *Exchange) WatchPartialBalance(ctx context.Context, assets []string) (core.Balance, error) {
	raw, err := e.driver.WatchBalance(ctx)
	if err != nil {
		return core.Balance{}, err
	}
	return FormatPartialBalance(raw, assets), nil
}

// CreateOrder places one order. The caller's client order id is
// authoritative on the result regardless of what the venue echoes back.
func (e *Exchange) CreateOrder(ctx context.Context, params core.CreateOrderParams) (core.Order, error) {
	raw, err := e.driver.CreateOrder(ctx, driver.OrderRequest{
		Symbol:        params.Symbol,
		Type:          params.Type,
		Side:          params.Side,
		Amount:        params.Amount,
		Price:         params.Price,
		ClientOrderID: params.ClientOrderID,
	})
	if err != nil {
		return core.Order{}, err
	}

	order := FormatOrder(raw)
	order.ClientOrderID = params.ClientOrderID
	return order, nil
}

// CancelOrder cancels by exchange order id.
func (e *Exchange) CancelOrder(ctx context.Context, id, symbol string) error {
	return e.driver.CancelOrder(ctx, id, symbol)
}

// FetchOrder resolves one order in three stages: direct lookup by id, a
// scan of the open orders, then a scan of the canceled orders with the
// status forced to canceled. A miss on all three returns nil with no
// error; the caller decides what an untraceable order means.
func (e *Exchange) FetchOrder(ctx context.Context, params core.FetchOrderParams) (*core.Order, error) {
	if params.ID != "" {
		raw, err := e.driver.FetchOrder(ctx, params.ID, params.Symbol)
		switch {
		case err == nil:
			order := FormatOrder(raw)
			if order.Price == nil {
				e.logger.Warn("Fetched order carries no price, treating as closed",
					"order_id", params.ID, "symbol", params.Symbol)
				order.Status = core.OrderStatusClosed
			}
			return &order, nil
		case !errors.Is(err, apperrors.ErrOrderNotFound):
			return nil, err
		}
	}

	open, err := e.driver.FetchOpenOrders(ctx, params.Symbol)
	if err != nil {
		return nil, err
	}
	if raw := matchOrder(open, params); raw != nil {
		order := FormatOrder(raw)
		return &order, nil
	}

	canceled, err := e.driver.FetchCanceledOrders(ctx, params.Symbol)
	if err != nil {
		return nil, err
	}
	if raw := matchOrder(canceled, params); raw != nil {
		order := FormatOrder(raw)
		order.Status = core.OrderStatusCanceled
		return &order, nil
	}

	return nil, nil
}

func matchOrder(raws []driver.Raw, params core.FetchOrderParams) driver.Raw {
	for _, raw := range raws {
		if params.ID != "" && rawString(raw, "id") == params.ID {
			return raw
		}
		if params.ClientOrderID != "" && rawString(raw, "clientOrderId") == params.ClientOrderID {
			return raw
		}
	}
	return nil
}

// FetchOpenOrders returns every open order for the symbol.
func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	raws, err := e.driver.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(raws))
	for _, raw := range raws {
		orders = append(orders, FormatOrder(raw))
	}
	return orders, nil
}

// WatchOrders blocks until the next batch of order updates.
func (e *Exchange) WatchOrders(ctx context.Context) ([]core.Order, error) {
	raws, err := e.driver.WatchOrders(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(raws))
	for _, raw := range raws {
		orders = append(orders, FormatOrder(raw))
	}
	return orders, nil
}

// CancelAllOrders reads the open set from the venue, never from local
// state, and cancels each order. Per-order failures are logged and the
// batch keeps going so one stuck order cannot shield the rest; the first
// failure is reported at the end. A read failure aborts since the open
// set is unknown.
func (e *Exchange) CancelAllOrders(ctx context.Context, symbols []string) error {
	type target struct {
		id     string
		symbol string
	}

	var targets []target
	for i, symbol := range symbols {
		if i > 0 {
			if err := sleepCtx(ctx, openOrdersSpacing); err != nil {
				return err
			}
		}
		raws, err := e.driver.FetchOpenOrders(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to fetch open orders for %s: %w", symbol, err)
		}
		for _, raw := range raws {
			targets = append(targets, target{id: rawString(raw, "id"), symbol: symbol})
		}
	}

	var firstErr error
	for i, t := range targets {
		if i > 0 {
			if err := sleepCtx(ctx, cancelSpacing); err != nil {
				return err
			}
		}
		err := e.driver.CancelOrder(ctx, t.id, t.symbol)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrOrderNotFound):
			// Already gone; that is the outcome we wanted.
			e.logger.Debug("Order vanished before cancel", "order_id", t.id, "symbol", t.symbol)
		default:
			e.logger.Error("Failed to cancel order", "order_id", t.id, "symbol", t.symbol, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close releases the underlying driver session.
func (e *Exchange) Close() error {
	return e.driver.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
