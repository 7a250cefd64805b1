// Package gate is the scheduler at the center of the gateway: it
// dispatches inbound core commands to worker tasks, runs the periodic
// market-data and account loops, and enforces the priority discipline
// between the two.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"flashgate/internal/config"
	"flashgate/internal/core"
	"flashgate/internal/exchange"
	"flashgate/internal/exchange/pool"
	"flashgate/internal/registry"
	"flashgate/internal/transport"
	"flashgate/pkg/concurrency"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/telemetry"
)

// Spacing between consecutive order placements inside one command. Keeps
// venue nonces strictly ordered.
const orderSpacing = time.Millisecond

// Transmitter is the bus as the scheduler sees it.
type Transmitter interface {
	Run(ctx context.Context) error
	Offer(event transport.Event, dest transport.Destination)
	Close() error
}

// Config carries the static parameters of one gateway instance, all
// derived from the core configuration document.
type Config struct {
	Tickers        []string
	Assets         []string
	OrderBookDepth int
	Delays         config.Delays
}

// Deps are the wired components the scheduler drives.
type Deps struct {
	Transmitter Transmitter
	Registry    *registry.Registry
	PublicPool  *pool.Pool
	// PrivatePool is nil when no per-account sessions are configured; the
	// shared session then serves every private call.
	PrivatePool *pool.Pool
	Shared      *exchange.Exchange
	Logger      core.ILogger
}

// Gate owns the command pipeline and the periodic loops.
type Gate struct {
	cfg Config

	tx       Transmitter
	registry *registry.Registry
	public   *pool.Pool
	private  *pool.Pool
	shared   *exchange.Exchange

	tasks    *concurrency.WorkerPool
	priority *priorityTracker
	stats    *collector
	metrics  *telemetry.MetricsHolder
	logger   core.ILogger

	// ctx is the run context handler tasks inherit. Assigned in Run
	// before the subscriber starts delivering.
	ctx       context.Context
	closeOnce sync.Once
}

// New wires a scheduler. Run must be called before the transmitter
// delivers the first command.
func New(cfg Config, deps Deps) *Gate {
	logger := deps.Logger.WithField("component", "gate")
	return &Gate{
		cfg:      cfg,
		tx:       deps.Transmitter,
		registry: deps.Registry,
		public:   deps.PublicPool,
		private:  deps.PrivatePool,
		shared:   deps.Shared,
		tasks: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "commands",
			MaxWorkers:  32,
			MaxCapacity: 256,
		}, deps.Logger),
		priority: newPriorityTracker(),
		stats:    &collector{},
		metrics:  telemetry.GetGlobalMetrics(),
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Run starts the subscriber and the periodic loops and blocks until the
// context ends or one of them fails fatally.
func (g *Gate) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	g.ctx = ctx

	group.Go(func() error { return g.tx.Run(ctx) })
	group.Go(func() error { return g.watchOrderBooks(ctx) })
	group.Go(func() error { return g.watchBalance(ctx) })
	group.Go(func() error { return g.watchOrders(ctx) })
	group.Go(func() error { return g.metricsLoop(ctx) })

	return group.Wait()
}

// Close shuts the gateway down in dependency order: the bus first so no
// new commands arrive, then the in-flight command tasks, then the session
// pools and the shared session. Idempotent.
func (g *Gate) Close() error {
	var firstErr error
	g.closeOnce.Do(func() {
		if err := g.tx.Close(); err != nil {
			firstErr = err
		}
		g.tasks.Stop()
		if err := g.public.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if g.private != nil {
			if err := g.private.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := g.shared.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// Handle is the transmitter's inbound callback. It runs on the subscriber
// goroutine, so it only decodes, echoes and enqueues.
func (g *Gate) Handle(payload []byte) {
	g.logger.Debug("Message received", "payload", string(payload))

	cmd, err := transport.DecodeCommand(payload)
	if err != nil {
		g.logger.Error("Dropping malformed message", "error", err)
		return
	}

	g.tx.Offer(cmd.Echo(), transport.DestLogs)
	g.dispatch(cmd)
}

func (g *Gate) dispatch(cmd *transport.Command) {
	g.metrics.CommandsTotal.Add(g.ctx, 1, telemetry.ActionAttr(string(cmd.Action)))

	switch cmd.Action {
	case transport.ActionCreateOrders:
		g.submit(cmd, g.createOrders, true)
	case transport.ActionCancelOrders:
		g.submit(cmd, g.cancelOrders, true)
	case transport.ActionCancelAllOrders:
		g.submit(cmd, g.cancelAllOrders, true)
	case transport.ActionGetOrders:
		g.submit(cmd, g.getOrders, false)
	case transport.ActionGetBalance:
		g.submit(cmd, g.getBalance, false)
	default:
		g.logger.Error("Unsupported action", "action", cmd.Action)
	}
}

// submit queues one command handler. Priority commands hold a tracker
// token from submission until the handler returns, so the watch loops
// pause while a trading command is anywhere in the pipeline.
func (g *Gate) submit(cmd *transport.Command, handler func(context.Context, *transport.Command), priority bool) {
	if priority {
		g.priority.Add()
	}
	err := g.tasks.Submit(func() {
		if priority {
			defer g.priority.Done()
		}
		handler(g.ctx, cmd)
	})
	if err != nil {
		if priority {
			g.priority.Done()
		}
		g.logger.Error("Failed to queue command", "action", cmd.Action, "error", err)
	}
}

// acquirePrivate hands back a private session, drawing from the account
// pool when one exists. Every acquisition counts toward the private rate.
func (g *Gate) acquirePrivate(ctx context.Context) (*exchange.Exchange, error) {
	g.stats.RecordPrivateCall()
	g.metrics.PrivateCallsTotal.Add(ctx, 1)

	if g.private != nil {
		return g.private.Acquire(ctx)
	}
	return g.shared, nil
}

// describe turns a failure into the operator-facing message. Expected
// conditions map to fixed phrases; anything else is logged in full and
// passed through verbatim.
func (g *Gate) describe(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrTimeout):
		return "Timeout error"
	case errors.Is(err, apperrors.ErrRateLimitExceeded):
		return "Rate limit exceeded"
	default:
		g.logger.Error("Unexpected exchange error", "error", err)
		return err.Error()
	}
}

func (g *Gate) offer(event transport.Event, dests ...transport.Destination) {
	for _, dest := range dests {
		g.tx.Offer(event, dest)
	}
}

// offerError emits one error event. An empty eventID lets the formatter
// assign a fresh UUID.
func (g *Gate) offerError(eventID string, action transport.EventAction, message string, data any, dests ...transport.Destination) {
	g.metrics.CommandErrorsTotal.Add(g.ctx, 1, telemetry.ActionAttr(string(action)))
	g.offer(transport.Event{
		EventID: eventID,
		Type:    transport.EventError,
		Action:  action,
		Message: &message,
		Data:    data,
	}, dests...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
