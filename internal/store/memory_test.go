package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpotp2p/internal/models"
)

func seedOrder(id, maker string, status models.OrderStatus, typ models.OrderType, chain string, createdAt time.Time) *models.Order {
	return &models.Order{
		ID:           id,
		Type:         typ,
		Status:       status,
		Maker:        maker,
		PaymentChain: chain,
		TokenAmount:  decimal.NewFromInt(100),
		Price:        decimal.NewFromInt(1),
		QuoteAmount:  decimal.NewFromInt(100),
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(24 * time.Hour),
		UpdatedAt:    createdAt,
	}
}

func TestListOrdersFiltering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now().UTC()

	require.NoError(t, m.CreateOrder(ctx, seedOrder("a", "w1", models.OrderPendingEscrow, models.OrderTypeSell, "tron", base)))
	require.NoError(t, m.CreateOrder(ctx, seedOrder("b", "w1", models.OrderCompleted, models.OrderTypeSell, "tron", base.Add(time.Second))))
	require.NoError(t, m.CreateOrder(ctx, seedOrder("c", "w2", models.OrderPendingEscrow, models.OrderTypeBuy, "ethereum", base.Add(2*time.Second))))

	out, err := m.ListOrders(ctx, OrderFilter{Status: []models.OrderStatus{models.OrderPendingEscrow}})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = m.ListOrders(ctx, OrderFilter{Type: models.OrderTypeBuy})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].ID)

	out, err = m.ListOrders(ctx, OrderFilter{PaymentChain: "tron"})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = m.ListOrders(ctx, OrderFilter{Participant: "w1"})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	// Newest first.
	out, err = m.ListOrders(ctx, OrderFilter{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "a", out[2].ID)

	// Pagination.
	out, err = m.ListOrders(ctx, OrderFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)

	out, err = m.ListOrders(ctx, OrderFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	require.NoError(t, m.CreateOrder(ctx, seedOrder("a", "w1", models.OrderPendingEscrow, models.OrderTypeSell, "tron", now)))

	hash := "tx1"
	ok, err := m.CompareAndSetStatus(ctx, "a", models.OrderPendingEscrow, OrderUpdate{
		Status:       models.OrderEscrowConfirmed,
		EscrowTxHash: &hash,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale expectation loses.
	ok, err = m.CompareAndSetStatus(ctx, "a", models.OrderPendingEscrow, OrderUpdate{
		Status: models.OrderCancelled,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.GetOrder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.OrderEscrowConfirmed, got.Status)
	require.NotNil(t, got.EscrowTxHash)
	assert.Equal(t, "tx1", *got.EscrowTxHash)

	// Unknown ids behave like zero rows affected, not an error.
	ok, err = m.CompareAndSetStatus(ctx, "missing", models.OrderPendingEscrow, OrderUpdate{Status: models.OrderCancelled})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrderReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	require.NoError(t, m.CreateOrder(ctx, seedOrder("a", "w1", models.OrderPendingEscrow, models.OrderTypeSell, "tron", now)))

	first, err := m.GetOrder(ctx, "a")
	require.NoError(t, err)
	first.Status = models.OrderCompleted
	first.TokenAmount = decimal.NewFromInt(999)

	second, err := m.GetOrder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPendingEscrow, second.Status)
	assert.True(t, second.TokenAmount.Equal(decimal.NewFromInt(100)))
}

func TestUpsertPaymentAddressActiveOrdersGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	require.NoError(t, m.UpsertPaymentAddress(ctx, "w1", "tron", "AddrOne"))

	require.NoError(t, m.CreateOrder(ctx, seedOrder("a", "w1", models.OrderPendingEscrow, models.OrderTypeSell, "tron", now)))
	assert.ErrorIs(t, m.UpsertPaymentAddress(ctx, "w1", "tron", "AddrTwo"), ErrActiveOrders)

	// Terminal orders unblock the rebind.
	ok, err := m.CompareAndSetStatus(ctx, "a", models.OrderPendingEscrow, OrderUpdate{Status: models.OrderCancelled})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.UpsertPaymentAddress(ctx, "w1", "tron", "AddrTwo"))

	pa, err := m.GetPaymentAddress(ctx, "w1", "tron")
	require.NoError(t, err)
	assert.Equal(t, "AddrTwo", pa.Address)
}

func TestSpawnSubOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	parent := seedOrder("p", "w1", models.OrderEscrowConfirmed, models.OrderTypeSell, "tron", now)
	require.NoError(t, m.CreateOrder(ctx, parent))

	child := seedOrder("c", "w1", models.OrderMatched, models.OrderTypeSell, "tron", now)
	child.ParentID = &parent.ID
	child.TokenAmount = decimal.NewFromInt(40)

	ok, err := m.SpawnSubOrder(ctx, "p", models.OrderEscrowConfirmed, ParentReduction{
		TokenAmount: decimal.NewFromInt(60),
		QuoteAmount: decimal.NewFromInt(60),
		Fee:         decimal.Zero,
		NetReceived: decimal.NewFromInt(60),
		MinQuote:    decimal.NewFromInt(10),
		MaxQuote:    decimal.NewFromInt(60),
	}, child)
	require.NoError(t, err)
	require.True(t, ok)

	gotParent, err := m.GetOrder(ctx, "p")
	require.NoError(t, err)
	assert.True(t, gotParent.TokenAmount.Equal(decimal.NewFromInt(60)))

	gotChild, err := m.GetOrder(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, gotChild.ParentID)
	assert.Equal(t, "p", *gotChild.ParentID)

	// Wrong expected parent status spawns nothing.
	ok, err = m.SpawnSubOrder(ctx, "p", models.OrderPendingEscrow, ParentReduction{}, seedOrder("c2", "w1", models.OrderMatched, models.OrderTypeSell, "tron", now))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = m.GetOrder(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarketStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	done := seedOrder("a", "w1", models.OrderCompleted, models.OrderTypeSell, "tron", now)
	done.QuoteAmount = decimal.RequireFromString("5000.00")
	require.NoError(t, m.CreateOrder(ctx, done))
	require.NoError(t, m.CreateOrder(ctx, seedOrder("b", "w1", models.OrderPendingEscrow, models.OrderTypeSell, "tron", now)))

	stats, err := m.MarketStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalOrders)
	assert.Equal(t, int64(1), stats.ActiveOrders)
	assert.True(t, stats.TotalVolume.Equal(decimal.RequireFromString("5000")))
}
