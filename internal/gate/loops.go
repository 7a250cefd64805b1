package gate

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"flashgate/internal/core"
	"flashgate/internal/transport"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/stats"
)

// metricsInterval is the period of the metrics event.
const metricsInterval = time.Second

// watchOrderBooks polls the books of every configured ticker over the
// public session pool. The inter-round delay enforces the public request
// budget; the per-session limiters enforce the per-IP budget.
func (g *Gate) watchOrderBooks(ctx context.Context) error {
	for {
		if err := sleepCtx(ctx, g.cfg.Delays.OrderBook); err != nil {
			return nil
		}
		g.pollOrderBooks(ctx)
	}
}

// pollOrderBooks fetches all configured books concurrently, one public
// session per ticker. The wall time of the whole round feeds the latency
// percentiles.
func (g *Gate) pollOrderBooks(ctx context.Context) {
	start := time.Now()

	books := make([]core.OrderBook, len(g.cfg.Tickers))
	group, gctx := errgroup.WithContext(ctx)
	for i, symbol := range g.cfg.Tickers {
		session, err := g.public.Acquire(ctx)
		if err != nil {
			// Pool closed or context canceled; the gateway is stopping.
			return
		}
		group.Go(func() error {
			book, err := session.FetchOrderBook(gctx, symbol, g.cfg.OrderBookDepth)
			if err != nil {
				return err
			}
			books[i] = book
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, apperrors.ErrRateLimitExceeded) {
			g.logger.Error("Insufficient ip addresses.")
		}
		g.offerError("", transport.ActionOrderBookUpdate, g.describe(err),
			g.cfg.Tickers, transport.DestCore, transport.DestLogs)
		return
	}

	latency := time.Since(start)
	g.stats.RecordOrderBook(latency.Microseconds(), len(g.cfg.Tickers))
	g.metrics.OrderBookLatency.Record(ctx, float64(latency.Milliseconds()))

	for _, book := range books {
		g.offer(transport.Event{
			Action: transport.ActionOrderBookUpdate,
			Data:   book,
		}, transport.DestOrderBook, transport.DestLogs)
	}
}

// watchBalance forwards account balance updates from the shared session's
// user stream, pausing while priority commands are in flight.
func (g *Gate) watchBalance(ctx context.Context) error {
	for {
		if err := g.priority.AwaitIdle(ctx); err != nil {
			return nil
		}

		balance, err := g.shared.WatchPartialBalance(ctx, g.cfg.Assets)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, apperrors.ErrStreamClosed) {
				return nil
			}
			g.offerError("", transport.ActionBalanceUpdate, g.describe(err),
				g.cfg.Assets, transport.DestCore, transport.DestLogs)
			if err := sleepCtx(ctx, g.cfg.Delays.Balance); err != nil {
				return nil
			}
			continue
		}

		g.offer(transport.Event{
			Action: transport.ActionBalanceUpdate,
			Data:   balance,
		}, transport.DestBalance, transport.DestLogs)
	}
}

// watchOrders forwards order execution reports from the shared session's
// user stream and keeps the registry's open set current.
func (g *Gate) watchOrders(ctx context.Context) error {
	for {
		if err := g.priority.AwaitIdle(ctx); err != nil {
			return nil
		}

		orders, err := g.shared.WatchOrders(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, apperrors.ErrStreamClosed) {
				return nil
			}
			g.offerError("", transport.ActionOrdersUpdate, g.describe(err),
				nil, transport.DestCore, transport.DestLogs)
			if err := sleepCtx(ctx, g.cfg.Delays.OrderStatus); err != nil {
				return nil
			}
			continue
		}

		for _, order := range orders {
			g.publishOrderUpdate(ctx, order)
		}
	}
}

// publishOrderUpdate correlates one stream report with the registry and
// forwards it to the core. The registry mapping wins over the venue echo
// when both exist; terminal statuses retire the order.
func (g *Gate) publishOrderUpdate(ctx context.Context, order core.Order) {
	if cid, ok, _ := g.registry.ClientOrderIDByOrderID(ctx, order.ID); ok {
		order.ClientOrderID = cid
	}

	eventID, _, err := g.registry.EventIDByClientOrderID(ctx, order.ClientOrderID)
	if err != nil {
		g.logger.Error("Registry lookup failed", "client_order_id", order.ClientOrderID, "error", err)
	}

	g.offer(transport.Event{
		EventID: eventID,
		Action:  transport.ActionOrdersUpdate,
		Data:    []core.Order{order},
	}, transport.DestCore, transport.DestLogs)

	if order.Status.Terminal() {
		g.registry.Remove(order.ClientOrderID, order.Symbol)
	}
}

// metricsLoop publishes the rolling latency and request-rate figures once
// a second. A window holding fewer than two samples is carried over to the
// next tick, not dropped.
func (g *Gate) metricsLoop(ctx context.Context) error {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		g.emitMetrics()
	}
}

func (g *Gate) emitMetrics() {
	latencies, bookRequests, privateRequests, ok := g.stats.Drain()
	if !ok {
		return
	}

	percentiles, err := stats.LatencyPercentiles(latencies)
	if err != nil {
		g.logger.Error("Failed to compute latency percentiles", "error", err)
		return
	}

	g.offer(transport.Event{
		Action: transport.ActionMetrics,
		Data: core.Metrics{
			PublicAPI: core.PublicAPIMetrics{
				OrderBook: core.OrderBookMetrics{
					LatencyPercentile: percentiles,
					RPS:               bookRequests,
				},
			},
			PrivateAPI: core.PrivateAPIMetrics{
				TotalRPS: privateRequests,
			},
		},
	}, transport.DestLogs)
}
