package registry

import (
	"context"
	"sync"

	"flashgate/internal/core"
	"flashgate/pkg/telemetry"
)

// Correlation namespaces. Each key carries its table prefix so one store
// serves all three directions.
const (
	prefixEventID       = "event_id:"
	prefixOrderID       = "order_id:"
	prefixClientOrderID = "client_order_id:"
)

// OpenOrder identifies one live order.
type OpenOrder struct {
	ClientOrderID string
	Symbol        string
}

// Registry correlates the ids an order accumulates over its life: the
// event id of the command that created it, the client order id the core
// assigned and the exchange order id. Correlations are durable; the open
// order set is in-memory only, populated by creations in this process and
// emptied by observed terminal statuses.
type Registry struct {
	store   Store
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	mu   sync.Mutex
	open map[OpenOrder]struct{}
}

func New(store Store, logger core.ILogger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger,
		metrics: telemetry.GetGlobalMetrics(),
		open:    make(map[OpenOrder]struct{}),
	}
}

// RecordCreation stores all three correlations for a freshly placed order
// and marks it open. The writes happen in one critical section so an
// exchange update racing the creation cannot observe a half-written
// identity.
func (r *Registry) RecordCreation(ctx context.Context, eventID, clientOrderID, orderID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Set(ctx, prefixEventID+clientOrderID, eventID); err != nil {
		return err
	}
	if err := r.store.Set(ctx, prefixOrderID+clientOrderID, orderID); err != nil {
		return err
	}
	if err := r.store.Set(ctx, prefixClientOrderID+orderID, clientOrderID); err != nil {
		return err
	}

	r.open[OpenOrder{ClientOrderID: clientOrderID, Symbol: symbol}] = struct{}{}
	r.metrics.SetOpenOrders(int64(len(r.open)))
	return nil
}

// EventIDByClientOrderID returns the event id of the command that created
// the order.
func (r *Registry) EventIDByClientOrderID(ctx context.Context, clientOrderID string) (string, bool, error) {
	return r.store.Get(ctx, prefixEventID+clientOrderID)
}

// OrderIDByClientOrderID returns the exchange order id.
func (r *Registry) OrderIDByClientOrderID(ctx context.Context, clientOrderID string) (string, bool, error) {
	return r.store.Get(ctx, prefixOrderID+clientOrderID)
}

// ClientOrderIDByOrderID returns the core-assigned client order id.
func (r *Registry) ClientOrderIDByOrderID(ctx context.Context, orderID string) (string, bool, error) {
	return r.store.Get(ctx, prefixClientOrderID+orderID)
}

// MarkOpen adds the order to the open set.
func (r *Registry) MarkOpen(clientOrderID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[OpenOrder{ClientOrderID: clientOrderID, Symbol: symbol}] = struct{}{}
	r.metrics.SetOpenOrders(int64(len(r.open)))
}

// Remove drops the order from the open set. Removing an order that was
// never tracked is a no-op: unsolicited exchange updates may reference
// orders placed before a restart.
func (r *Registry) Remove(clientOrderID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, OpenOrder{ClientOrderID: clientOrderID, Symbol: symbol})
	r.metrics.SetOpenOrders(int64(len(r.open)))
}

// OpenOrders returns a snapshot of the open set.
func (r *Registry) OpenOrders() []OpenOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := make([]OpenOrder, 0, len(r.open))
	for order := range r.open {
		orders = append(orders, order)
	}
	return orders
}

// OpenCount returns the size of the open set.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Close releases the backing store.
func (r *Registry) Close() error {
	return r.store.Close()
}
