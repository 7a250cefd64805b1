package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashgate/internal/config"
	"flashgate/pkg/logging"
)

func TestRecordCreationStoresAllCorrelations(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore(), logging.NewNopLogger())

	require.NoError(t, reg.RecordCreation(ctx, "evt-1", "cid-1", "oid-1", "BTC/USDT"))

	eventID, ok, err := reg.EventIDByClientOrderID(ctx, "cid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt-1", eventID)

	orderID, ok, err := reg.OrderIDByClientOrderID(ctx, "cid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "oid-1", orderID)

	clientOrderID, ok, err := reg.ClientOrderIDByOrderID(ctx, "oid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cid-1", clientOrderID)

	assert.Equal(t, []OpenOrder{{ClientOrderID: "cid-1", Symbol: "BTC/USDT"}}, reg.OpenOrders())
}

func TestLookupMissIsSoft(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore(), logging.NewNopLogger())

	_, ok, err := reg.EventIDByClientOrderID(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = reg.OrderIDByClientOrderID(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNamespacesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore(), logging.NewNopLogger())

	// The same string as client id of one order and exchange id of another.
	require.NoError(t, reg.RecordCreation(ctx, "evt-a", "shared", "oid-a", "BTC/USDT"))
	require.NoError(t, reg.RecordCreation(ctx, "evt-b", "cid-b", "shared", "ETH/USDT"))

	orderID, ok, err := reg.OrderIDByClientOrderID(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "oid-a", orderID)

	clientOrderID, ok, err := reg.ClientOrderIDByOrderID(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cid-b", clientOrderID)
}

func TestOpenSetLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore(), logging.NewNopLogger())

	require.NoError(t, reg.RecordCreation(ctx, "evt-1", "cid-1", "oid-1", "BTC/USDT"))
	require.NoError(t, reg.RecordCreation(ctx, "evt-2", "cid-2", "oid-2", "ETH/USDT"))
	assert.Equal(t, 2, reg.OpenCount())

	reg.Remove("cid-1", "BTC/USDT")
	assert.Equal(t, 1, reg.OpenCount())

	// Removing an untracked order is a no-op.
	reg.Remove("cid-1", "BTC/USDT")
	reg.Remove("ghost", "BTC/USDT")
	assert.Equal(t, 1, reg.OpenCount())

	// Correlations survive removal from the open set.
	orderID, ok, err := reg.OrderIDByClientOrderID(ctx, "cid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "oid-1", orderID)
}

func TestRecordCreationOverwrites(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore(), logging.NewNopLogger())

	require.NoError(t, reg.RecordCreation(ctx, "evt-1", "cid-1", "oid-1", "BTC/USDT"))
	require.NoError(t, reg.RecordCreation(ctx, "evt-9", "cid-1", "oid-9", "BTC/USDT"))

	eventID, ok, err := reg.EventIDByClientOrderID(ctx, "cid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt-9", eventID)

	// Re-creating with the same client id must not duplicate the open entry.
	assert.Equal(t, 1, reg.OpenCount())
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "registry.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "event_id:cid-1", "evt-1"))
	require.NoError(t, store.Set(ctx, "event_id:cid-1", "evt-2"))

	value, ok, err := store.Get(ctx, "event_id:cid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt-2", value)

	_, ok, err = store.Get(ctx, "event_id:unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "registry.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "order_id:cid-1", "oid-1"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Get(ctx, "order_id:cid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "oid-1", value)
}

func TestNewStoreSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, config.CacheConfig{Driver: config.CacheDriverMemory}, logging.NewNopLogger())
	require.NoError(t, err)
	_, isMemory := store.(*MemoryStore)
	assert.True(t, isMemory)

	dbPath := filepath.Join(t.TempDir(), "registry.db")
	store, err = NewStore(ctx, config.CacheConfig{Driver: config.CacheDriverSQLite, SQLitePath: dbPath}, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = NewStore(ctx, config.CacheConfig{Driver: "etcd"}, logging.NewNopLogger())
	require.Error(t, err)
}
