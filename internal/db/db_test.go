package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/amirphl/split-trader/internal/config"
	dbconf "github.com/amirphl/split-trader/internal/db/conf"
	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

// exerciseStorage runs the same journal and pending-store checks against
// any backend.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("journal", func(t *testing.T) {
		events := []journal.Event{
			journal.NewEvent(t0.Add(2*time.Minute), journal.TypeFill, "XYZ", "buy 10 @ 1000.00 (tranche 1)",
				map[string]any{"quantity": 10, "side": "buy"}),
			journal.NewEvent(t0, journal.TypeReconcile, "XYZ", "restore", nil),
			journal.NewEvent(t0.Add(time.Minute), journal.TypeFill, "ABC", "sell 5 @ 99.00 (stop loss)", nil),
			journal.NewEvent(t0.Add(48*time.Hour), journal.TypeFill, "XYZ", "later", nil),
		}
		for _, e := range events {
			require.NoError(t, s.LogEvent(ctx, e))
		}

		fills, err := s.GetEvents(ctx, journal.TypeFill, t0, t0.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, fills, 2)
		assert.Equal(t, "ABC", fills[0].Symbol)
		assert.Equal(t, "XYZ", fills[1].Symbol)
		assert.True(t, fills[1].Time.Equal(t0.Add(2*time.Minute)))
		assert.Equal(t, events[0].ID, fills[1].ID)
		assert.EqualValues(t, 10, fills[1].Data["quantity"])
		assert.Equal(t, "buy", fills[1].Data["side"])

		all, err := s.GetEvents(ctx, "", t0, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, journal.TypeReconcile, all[0].Type)
	})

	t.Run("pending", func(t *testing.T) {
		o := execution.PendingOrder{
			ID: "01JX0000000000000000000001", Symbol: "XYZ", Side: execution.Buy, TrancheIndex: 2,
			SubmittedAt: t0, QuantityRequested: 10, PriceLimit: 1010, PreOrderBrokerQuantity: 5,
			PreOrderAveragePrice: 1000, OrderID: "ex-1", Reason: "tranche 2 entry", Status: execution.Submitted,
		}
		require.NoError(t, s.SavePending(ctx, o))

		o.Status = execution.Pending
		require.NoError(t, s.SavePending(ctx, o))

		sell := execution.PendingOrder{ID: "01JX0000000000000000000002", Symbol: "XYZ", Side: execution.Sell,
			SubmittedAt: t0, QuantityRequested: 5, Reason: "stop loss", Status: execution.Submitted}
		require.NoError(t, s.SavePending(ctx, sell))

		got, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, execution.Pending, got[0].Status)
		assert.Equal(t, 2, got[0].TrancheIndex)
		assert.Equal(t, int64(5), got[0].PreOrderBrokerQuantity)
		assert.True(t, got[0].SubmittedAt.Equal(t0))
		assert.Equal(t, execution.Sell, got[1].Side)

		require.NoError(t, s.DeletePending(ctx, o.ID))
		require.NoError(t, s.DeletePending(ctx, "missing"))
		got, err = s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, sell.ID, got[0].ID)
	})
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemory())
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.db")
	s, err := Open(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: path})
	require.NoError(t, err)
	defer s.Close()
	exerciseStorage(t, s)

	// The schema is idempotent and the data survives a reopen.
	again, err := NewSQLite(context.Background(), path)
	require.NoError(t, err)
	defer again.Close()
	got, err := again.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPostgresStorage(t *testing.T) {
	cfg, cleanup := dbconf.NewTestConfig(t, PostgresSchema)
	require.NotNil(t, cfg)
	defer cleanup()

	p := NewPostgres(cfg.DB)
	require.NoError(t, p.Migrate(context.Background()))
	exerciseStorage(t, p)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "mongo"})
	assert.ErrorContains(t, err, "unknown storage driver")

	s, err := Open(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)
}
