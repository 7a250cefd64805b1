package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashgate/pkg/logging"
)

type published struct {
	subject string
	data    []byte
}

// fakeConn scripts Publish outcomes and records deliveries.
type fakeConn struct {
	mu         sync.Mutex
	published  []published
	publishErr []error
	attempts   int
	inbox      chan *nats.Msg
	subscribed bool
	drained    bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.publishErr) > 0 {
		err := f.publishErr[0]
		f.publishErr = f.publishErr[1:]
		if err != nil {
			return err
		}
	}
	f.published = append(f.published, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = ch
	f.subscribed = true
	return nil, nil
}

func (f *fakeConn) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = true
	return nil
}

func (f *fakeConn) IsConnected() bool { return true }

func (f *fakeConn) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeConn) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func newTestTransmitter(conn Conn) *Transmitter {
	cfg := Config{
		SubscribeSubject: "gate.binance.core",
		PublishSubjects: map[Destination]string{
			DestOrderBook: "gate.binance.orderbooks",
			DestBalance:   "gate.binance.balances",
			DestCore:      "core.binance.gate",
			DestLogs:      "gate.binance.logs",
		},
	}
	formatter := NewFormatter("binance", NodeGate, "1", "spread_bot")
	return New(conn, cfg, formatter, logging.NewNopLogger())
}

func TestOfferPublishesToDestinationSubject(t *testing.T) {
	conn := &fakeConn{}
	tx := newTestTransmitter(conn)

	tx.Offer(Event{Action: ActionBalanceUpdate}, DestBalance)

	require.Equal(t, 1, conn.publishedCount())
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, "gate.binance.balances", conn.published[0].subject)
	assert.Contains(t, string(conn.published[0].data), `"balance_update"`)
}

func TestOfferUnknownDestination(t *testing.T) {
	conn := &fakeConn{}
	tx := newTestTransmitter(conn)

	tx.Offer(Event{Action: ActionBalanceUpdate}, Destination("nowhere"))

	assert.Equal(t, 0, conn.publishedCount())
}

func TestOfferRetriesBusyBusUntilAccepted(t *testing.T) {
	conn := &fakeConn{
		publishErr: []error{
			nats.ErrReconnectBufExceeded,
			nats.ErrConnectionDraining,
			nil,
		},
	}
	tx := newTestTransmitter(conn)

	tx.Offer(Event{Action: ActionOrdersUpdate}, DestCore)

	assert.Equal(t, 3, conn.attemptCount(), "busy-bus errors must be retried until the publish lands")
	assert.Equal(t, 1, conn.publishedCount())
}

func TestOfferSwallowsNotConnected(t *testing.T) {
	conn := &fakeConn{
		publishErr: []error{nats.ErrConnectionClosed},
	}
	tx := newTestTransmitter(conn)

	tx.Offer(Event{Action: ActionOrdersUpdate}, DestCore)

	assert.Equal(t, 1, conn.attemptCount(), "a closed connection is final, not retried")
	assert.Equal(t, 0, conn.publishedCount())
}

func TestOfferAbandonsUnexpectedErrors(t *testing.T) {
	conn := &fakeConn{
		publishErr: []error{errors.New("subject too long")},
	}
	tx := newTestTransmitter(conn)

	tx.Offer(Event{Action: ActionOrdersUpdate}, DestCore)

	assert.Equal(t, 1, conn.attemptCount())
	assert.Equal(t, 0, conn.publishedCount())
}

func TestRunDeliversMessagesInOrder(t *testing.T) {
	conn := &fakeConn{}
	tx := newTestTransmitter(conn)

	var mu sync.Mutex
	var got []string
	tx.SetHandler(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(data))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tx.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.subscribed
	}, time.Second, time.Millisecond)

	for _, payload := range []string{"one", "two", "three"} {
		conn.inbox <- &nats.Msg{Subject: "gate.binance.core", Data: []byte(payload)}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"one", "two", "three"}, got, "commands must be handled in arrival order")
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRunRequiresHandler(t *testing.T) {
	tx := newTestTransmitter(&fakeConn{})
	err := tx.Run(context.Background())
	require.Error(t, err)
}

func TestCloseDrainsOnce(t *testing.T) {
	conn := &fakeConn{}
	tx := newTestTransmitter(conn)

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.drained)
}
