package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickethub/models"
)

func TestMemoryStoreTransactionRollback(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.SeedEvent(&models.Event{ID: "evt1", CapacityTotal: 10, CapacityAvailable: 10})

	boom := errors.New("boom")
	err := st.RunInTransaction(ctx, func(tx Store) error {
		if err := tx.SetEventAvailable(ctx, "evt1", 5); err != nil {
			return err
		}
		if err := tx.AppendCapacityLog(ctx, "evt1", -5, models.CapacityReasonReserved); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	event, err := st.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 10, event.CapacityAvailable)
	assert.Empty(t, st.CapacityLog())
}

func TestMemoryStoreNestedTransactionJoins(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	st.SeedEvent(&models.Event{ID: "evt1", CapacityTotal: 10, CapacityAvailable: 10})

	err := st.RunInTransaction(ctx, func(tx Store) error {
		return tx.RunInTransaction(ctx, func(inner Store) error {
			return inner.SetEventAvailable(ctx, "evt1", 7)
		})
	})
	require.NoError(t, err)

	event, err := st.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 7, event.CapacityAvailable)
}

func TestMemoryStoreIdempotencyUniqueConstraint(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	order := func() *models.Order {
		return &models.Order{
			Status:          models.OrderPending,
			IdempotencyKey:  "k1",
			PaymentProvider: "hubpay",
			Subtotal:        decimal.NewFromInt(10),
			Total:           decimal.NewFromInt(10),
		}
	}

	require.NoError(t, st.CreateOrder(ctx, order(), nil))

	err := st.CreateOrder(ctx, order(), nil)
	assert.ErrorContains(t, err, "unique constraint")

	// Same key under another provider is fine.
	other := order()
	other.PaymentProvider = "cardnet"
	assert.NoError(t, st.CreateOrder(ctx, other, nil))
}

func TestMemoryStoreScanSignatureUniqueConstraint(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateTickets(ctx, []*models.Ticket{
		{EventID: "evt1", HolderName: "a", ScanSignature: "sig", Status: models.TicketIssued},
	}))

	err := st.CreateTickets(ctx, []*models.Ticket{
		{EventID: "evt1", HolderName: "b", ScanSignature: "sig", Status: models.TicketIssued},
	})
	assert.ErrorContains(t, err, "unique constraint")
}

func TestMemoryStoreFindOrderMissesReturnNil(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	order, err := st.FindOrderByIdempotencyKey(ctx, "nope", "hubpay")
	require.NoError(t, err)
	assert.Nil(t, order)

	order, err = st.FindOrderByPaymentReference(ctx, "hubpay", "nope")
	require.NoError(t, err)
	assert.Nil(t, order)
}
