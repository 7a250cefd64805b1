package gate

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"flashgate/internal/core"
	"flashgate/internal/transport"
	apperrors "flashgate/pkg/errors"
)

func (g *Gate) createOrders(ctx context.Context, cmd *transport.Command) {
	var params []core.CreateOrderParams
	if err := json.Unmarshal(cmd.Data, &params); err != nil {
		g.logger.Error("Malformed create_orders payload", "error", err)
		return
	}

	for i, param := range params {
		if i > 0 {
			if err := sleepCtx(ctx, orderSpacing); err != nil {
				return
			}
		}
		g.createOrder(ctx, cmd.EventID, param)
	}
}

func (g *Gate) createOrder(ctx context.Context, eventID string, param core.CreateOrderParams) {
	session, err := g.acquirePrivate(ctx)
	if err != nil {
		g.offerError(eventID, transport.ActionCreateOrders, g.describe(err),
			[]core.CreateOrderParams{param}, transport.DestCore, transport.DestLogs)
		return
	}

	order, err := session.CreateOrder(ctx, param)
	if err != nil {
		g.offerError(eventID, transport.ActionCreateOrders, g.describe(err),
			[]core.CreateOrderParams{param}, transport.DestCore, transport.DestLogs)
		return
	}

	if err := g.registry.RecordCreation(ctx, eventID, order.ClientOrderID, order.ID, order.Symbol); err != nil {
		g.logger.Error("Failed to record order correlation",
			"client_order_id", order.ClientOrderID, "order_id", order.ID, "error", err)
	}
	g.metrics.OrdersCreatedTotal.Add(ctx, 1)

	g.offer(transport.Event{
		EventID: eventID,
		Action:  transport.ActionCreateOrders,
		Data:    []core.Order{order},
	}, transport.DestCore, transport.DestLogs)
}

func (g *Gate) cancelOrders(ctx context.Context, cmd *transport.Command) {
	var params []core.FetchOrderParams
	if err := json.Unmarshal(cmd.Data, &params); err != nil {
		g.logger.Error("Malformed cancel_orders payload", "error", err)
		return
	}

	for _, param := range params {
		g.cancelOrder(ctx, param)
	}
}

func (g *Gate) cancelOrder(ctx context.Context, param core.FetchOrderParams) {
	orderID := param.ID
	if orderID == "" {
		id, ok, err := g.registry.OrderIDByClientOrderID(ctx, param.ClientOrderID)
		if err != nil {
			g.logger.Error("Registry lookup failed", "client_order_id", param.ClientOrderID, "error", err)
		}
		if ok {
			orderID = id
		}
	}

	session, err := g.acquirePrivate(ctx)
	if err != nil {
		g.offerError("", transport.ActionCancelOrders, g.describe(err),
			[]core.FetchOrderParams{param}, transport.DestCore, transport.DestLogs)
		return
	}

	err = session.CancelOrder(ctx, orderID, param.Symbol)
	switch {
	case err == nil:
		// The cancellation acknowledgement arrives through the order stream.
	case errors.Is(err, apperrors.ErrOrderNotFound):
		g.syntheticCancel(ctx, param, orderID, err)
	default:
		g.offerError("", transport.ActionCancelOrders, g.describe(err),
			[]core.FetchOrderParams{param}, transport.DestCore, transport.DestLogs)
	}
}

// syntheticCancel reports an order the venue no longer knows as canceled.
// The core treats the orders_update as the cancellation acknowledgement;
// the error event that follows is diagnostic.
func (g *Gate) syntheticCancel(ctx context.Context, param core.FetchOrderParams, orderID string, cause error) {
	eventID, ok, err := g.registry.EventIDByClientOrderID(ctx, param.ClientOrderID)
	if err != nil {
		g.logger.Error("Registry lookup failed", "client_order_id", param.ClientOrderID, "error", err)
	}
	if !ok {
		eventID = uuid.NewString()
	}

	g.offer(transport.Event{
		EventID: eventID,
		Action:  transport.ActionOrdersUpdate,
		Data: []core.Order{{
			ID:            orderID,
			ClientOrderID: param.ClientOrderID,
			Symbol:        param.Symbol,
			Status:        core.OrderStatusCanceled,
		}},
	}, transport.DestCore, transport.DestLogs)

	g.registry.Remove(param.ClientOrderID, param.Symbol)

	g.logger.Warn("Cancel target not found on the exchange",
		"client_order_id", param.ClientOrderID, "order_id", orderID)
	g.offerError("", transport.ActionCancelOrders, cause.Error(),
		[]core.FetchOrderParams{param}, transport.DestCore, transport.DestLogs)
}

func (g *Gate) cancelAllOrders(ctx context.Context, cmd *transport.Command) {
	session, err := g.acquirePrivate(ctx)
	if err != nil {
		g.logger.Error("Failed to acquire session for cancel_all_orders", "error", err)
		return
	}

	if err := session.CancelAllOrders(ctx, g.cfg.Tickers); err != nil {
		g.logger.Error("Failed to cancel all orders", "error", err)
	}
}

func (g *Gate) getOrders(ctx context.Context, cmd *transport.Command) {
	var params []core.FetchOrderParams
	if err := json.Unmarshal(cmd.Data, &params); err != nil {
		g.logger.Error("Malformed get_orders payload", "error", err)
		return
	}

	for _, param := range params {
		g.getOrder(ctx, param)
	}
}

func (g *Gate) getOrder(ctx context.Context, param core.FetchOrderParams) {
	if param.ID == "" && param.ClientOrderID != "" {
		if id, ok, _ := g.registry.OrderIDByClientOrderID(ctx, param.ClientOrderID); ok {
			param.ID = id
		}
	}
	if param.ClientOrderID == "" && param.ID != "" {
		if cid, ok, _ := g.registry.ClientOrderIDByOrderID(ctx, param.ID); ok {
			param.ClientOrderID = cid
		}
	}

	session, err := g.acquirePrivate(ctx)
	if err != nil {
		g.offerError("", transport.ActionGetOrders, g.describe(err),
			[]core.FetchOrderParams{param}, transport.DestCore, transport.DestLogs)
		return
	}

	order, err := session.FetchOrder(ctx, param)
	if err != nil {
		g.offerError("", transport.ActionGetOrders, g.describe(err),
			[]core.FetchOrderParams{param}, transport.DestCore, transport.DestLogs)
		return
	}
	if order == nil {
		g.offerError("", transport.ActionGetOrders, apperrors.ErrOrderNotFound.Error(),
			[]core.FetchOrderParams{param}, transport.DestCore, transport.DestLogs)
		return
	}

	order.ClientOrderID = param.ClientOrderID

	// The reply correlates to the event that created the order, not to
	// this lookup command.
	eventID, _, err := g.registry.EventIDByClientOrderID(ctx, order.ClientOrderID)
	if err != nil {
		g.logger.Error("Registry lookup failed", "client_order_id", order.ClientOrderID, "error", err)
	}

	g.offer(transport.Event{
		EventID: eventID,
		Action:  transport.ActionGetOrders,
		Data:    []core.Order{*order},
	}, transport.DestCore, transport.DestLogs)
}

func (g *Gate) getBalance(ctx context.Context, cmd *transport.Command) {
	var assets []string
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, &assets); err != nil {
			g.logger.Error("Malformed get_balance payload", "error", err)
			return
		}
	}
	if len(assets) == 0 {
		assets = g.cfg.Assets
	}

	session, err := g.acquirePrivate(ctx)
	if err != nil {
		g.offerError(cmd.EventID, transport.ActionGetBalance, g.describe(err),
			assets, transport.DestCore, transport.DestLogs)
		return
	}

	balance, err := session.FetchPartialBalance(ctx, assets)
	if err != nil {
		g.offerError(cmd.EventID, transport.ActionGetBalance, g.describe(err),
			assets, transport.DestCore, transport.DestLogs)
		return
	}

	g.offer(transport.Event{
		EventID: cmd.EventID,
		Action:  transport.ActionGetBalance,
		Data:    balance,
	}, transport.DestBalance, transport.DestLogs)
}
