package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/nats-io/nats.go"

	"flashgate/internal/core"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/retry"
	"flashgate/pkg/telemetry"
)

// Subscriber poll pacing: drain everything available, then sleep briefly
// when a pass read nothing.
const idlePollInterval = time.Millisecond

// inboxSize bounds the subscription channel. Commands are small and the
// handler drains quickly; this absorbs bursts without unbounded growth.
const inboxSize = 1024

// Conn is the slice of *nats.Conn the transmitter uses. Tests substitute a
// scripted fake.
type Conn interface {
	Publish(subject string, data []byte) error
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
	Drain() error
	IsConnected() bool
}

// Config holds the bus endpoints: one inbound command subject and one
// subject per outbound destination.
type Config struct {
	URL              string
	SubscribeSubject string
	PublishSubjects  map[Destination]string
}

// Transmitter is the gateway's single seat on the message bus. One
// subscription delivers core commands to the handler in arrival order;
// Offer serializes and publishes outbound events.
type Transmitter struct {
	conn      Conn
	cfg       Config
	formatter *Formatter
	logger    core.ILogger
	handler   func([]byte)

	inbox    chan *nats.Msg
	pipeline failsafe.Executor[any]
	metrics  *telemetry.MetricsHolder

	closeOnce sync.Once
}

// Connect dials the bus and builds a transmitter on the connection. The
// initial dial is retried with the startup policy; once established, the
// client reconnects on its own indefinitely.
func Connect(ctx context.Context, cfg Config, formatter *Formatter, logger core.ILogger) (*Transmitter, error) {
	var conn *nats.Conn
	err := retry.Do(ctx, retry.StartupPolicy, retry.Always, func() error {
		c, err := nats.Connect(cfg.URL,
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				telemetry.GetGlobalMetrics().SetBusConnected(false)
				logger.Warn("Message bus disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				telemetry.GetGlobalMetrics().SetBusConnected(true)
				logger.Info("Message bus reconnected", "url", c.ConnectedUrl())
			}),
			nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
				subject := ""
				if sub != nil {
					subject = sub.Subject
				}
				logger.Error("Message bus error", "subject", subject, "error", err)
			}),
		)
		if err != nil {
			logger.Warn("Message bus connect failed, retrying", "url", cfg.URL, "error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to message bus: %w", err)
	}

	telemetry.GetGlobalMetrics().SetBusConnected(true)
	logger.Info("Message bus connected", "url", cfg.URL)
	return New(conn, cfg, formatter, logger), nil
}

// New builds a transmitter over an established connection.
func New(conn Conn, cfg Config, formatter *Formatter, logger core.ILogger) *Transmitter {
	// Busy-bus retries: keep trying while the client is draining or the
	// reconnect buffer is full. The loop ends on success or when the
	// connection settles into a closed state.
	offerRetry := retrypolicy.NewBuilder[any]().
		HandleErrors(apperrors.ErrBusAdminAction).
		WithBackoff(time.Millisecond, 50*time.Millisecond).
		WithMaxRetries(-1).
		Build()

	return &Transmitter{
		conn:      conn,
		cfg:       cfg,
		formatter: formatter,
		logger:    logger,
		inbox:     make(chan *nats.Msg, inboxSize),
		pipeline:  failsafe.With[any](offerRetry),
		metrics:   telemetry.GetGlobalMetrics(),
	}
}

// SetHandler installs the inbound message callback. Must be called before
// Run.
func (t *Transmitter) SetHandler(handler func([]byte)) {
	t.handler = handler
}

// Run subscribes to the command subject and polls it until the context is
// canceled. Messages are handed to the handler one at a time, in arrival
// order. A pass that reads nothing sleeps for idlePollInterval.
func (t *Transmitter) Run(ctx context.Context) error {
	if t.handler == nil {
		return errors.New("transmitter handler is not set")
	}

	sub, err := t.conn.ChanSubscribe(t.cfg.SubscribeSubject, t.inbox)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", t.cfg.SubscribeSubject, err)
	}
	defer func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()

	t.logger.Info("Listening for commands", "subject", t.cfg.SubscribeSubject)

	for {
		read := t.poll()
		if read == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePollInterval):
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// poll drains every message currently buffered and returns how many it
// handled.
func (t *Transmitter) poll() int {
	handled := 0
	for {
		select {
		case msg := <-t.inbox:
			t.handler(msg.Data)
			handled++
		default:
			return handled
		}
	}
}

// Offer serializes the event and publishes it to the destination subject.
// Failures never propagate to the caller: a busy bus is retried until it
// accepts, a disconnected bus swallows the event, anything else is logged
// and abandoned.
func (t *Transmitter) Offer(event Event, dest Destination) {
	subject, ok := t.cfg.PublishSubjects[dest]
	if !ok || subject == "" {
		t.logger.Error("Unknown publish destination", "destination", string(dest))
		return
	}

	payload, err := t.formatter.Format(event)
	if err != nil {
		t.logger.Error("Event serialize error", "error", err, "action", string(event.Action))
		return
	}

	err = t.pipeline.Run(func() error {
		return t.publish(subject, payload)
	})

	switch {
	case err == nil:
		t.metrics.BusOffersTotal.Add(context.Background(), 1, telemetry.DestinationAttr(string(dest), "ok"))
	case errors.Is(err, apperrors.ErrBusNotConnected):
		// Nothing to deliver to; the core re-issues what matters.
		t.logger.Debug("Offer skipped, bus not connected", "destination", string(dest), "action", string(event.Action))
		t.metrics.BusOffersTotal.Add(context.Background(), 1, telemetry.DestinationAttr(string(dest), "not_connected"))
	default:
		t.logger.Error("Offer abandoned", "destination", string(dest), "action", string(event.Action), "error", err)
		t.metrics.BusOffersTotal.Add(context.Background(), 1, telemetry.DestinationAttr(string(dest), "dropped"))
	}
}

func (t *Transmitter) publish(subject string, payload []byte) error {
	err := t.conn.Publish(subject, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrInvalidConnection):
		return fmt.Errorf("%w: %v", apperrors.ErrBusNotConnected, err)
	case errors.Is(err, nats.ErrReconnectBufExceeded) || errors.Is(err, nats.ErrConnectionDraining):
		t.logger.Warn("Bus busy, retrying offer", "subject", subject, "error", err)
		return fmt.Errorf("%w: %v", apperrors.ErrBusAdminAction, err)
	default:
		return err
	}
}

// IsConnected reports the live state of the underlying connection. Feeds
// the bus health probe.
func (t *Transmitter) IsConnected() bool {
	return t.conn.IsConnected()
}

// Close drains the connection: the subscription stops, buffered publishes
// flush, then the connection shuts down. Safe to call more than once.
func (t *Transmitter) Close() error {
	var err error
	t.closeOnce.Do(func() {
		telemetry.GetGlobalMetrics().SetBusConnected(false)
		if drainErr := t.conn.Drain(); drainErr != nil && !errors.Is(drainErr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("failed to drain bus connection: %w", drainErr)
		}
		t.logger.Info("Message bus connection closed")
	})
	return err
}
