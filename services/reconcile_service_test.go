package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/models"
)

func completedNotification(provider, reference string) *models.PaymentNotification {
	return &models.PaymentNotification{
		Provider:  provider,
		Reference: reference,
		Status:    "approved",
		Amount:    decimal.NewFromInt(50),
		Currency:  "USD",
		Timestamp: time.Now(),
	}
}

func TestApplyCompletesOrderAndIssuesTickets(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	require.NoError(t, f.reconciler.Apply(ctx, completedNotification("redirectpay", result.PaymentReference)))

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)
	require.NotNil(t, order.PaidAt)

	// Drain the queued issuance job the way a worker would.
	orderID := <-f.reconciler.issuanceJobs
	_, err = f.reconciler.tickets.IssueTickets(ctx, orderID)
	require.NoError(t, err)

	tickets, err := f.store.ListTicketsForOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketIssued, ticket.Status)
	}
}

func TestApplyIsIdempotentOnReplayedWebhook(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	notification := completedNotification("redirectpay", result.PaymentReference)
	require.NoError(t, f.reconciler.Apply(ctx, notification))
	require.NoError(t, f.reconciler.Apply(ctx, notification))

	// Only the first apply enqueued work; run issuance twice anyway.
	orderID := <-f.reconciler.issuanceJobs
	_, err = f.reconciler.tickets.IssueTickets(ctx, orderID)
	require.NoError(t, err)
	_, err = f.reconciler.tickets.IssueTickets(ctx, orderID)
	require.NoError(t, err)

	select {
	case extra := <-f.reconciler.issuanceJobs:
		t.Fatalf("unexpected second issuance job for order %s", extra)
	default:
	}

	tickets, err := f.store.ListTicketsForOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestApplyCancellationReleasesCapacity(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	notification := completedNotification("redirectpay", result.PaymentReference)
	notification.Status = "rejected"
	require.NoError(t, f.reconciler.Apply(ctx, notification))

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, order.Status)

	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 10, event.CapacityAvailable)

	log := f.store.CapacityLog()
	require.Len(t, log, 2)
	assert.Equal(t, models.CapacityReasonPaymentFailed, log[1].Reason)
}

func TestApplyIgnoresUnmappedStatusAndUnknownReference(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	// Unmapped status leaves the order untouched.
	notification := completedNotification("redirectpay", result.PaymentReference)
	notification.Status = "processing"
	require.NoError(t, f.reconciler.Apply(ctx, notification))

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)

	// Unknown reference is dropped without error.
	require.NoError(t, f.reconciler.Apply(ctx, completedNotification("redirectpay", "nope")))
}

// terminalRaceStore simulates losing the status flip to a concurrent writer:
// the store-level guard reports the order already terminal.
type terminalRaceStore struct {
	store.Store
}

func (s *terminalRaceStore) MarkOrderCompleted(context.Context, string, time.Time) error {
	return status.ErrOrderTerminal
}

func (s *terminalRaceStore) MarkOrderCancelled(context.Context, string) error {
	return status.ErrOrderTerminal
}

func TestApplyLostFlipRaceEnqueuesNothing(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	f.reconciler.store = &terminalRaceStore{Store: f.store}

	// The loser of a concurrent completion must not enqueue issuance.
	require.NoError(t, f.reconciler.Apply(ctx, completedNotification("redirectpay", result.PaymentReference)))
	select {
	case extra := <-f.reconciler.issuanceJobs:
		t.Fatalf("issuance enqueued for order %s despite losing the flip", extra)
	default:
	}

	// Nor must a losing cancellation release seats.
	rejected := completedNotification("redirectpay", result.PaymentReference)
	rejected.Status = "rejected"
	require.NoError(t, f.reconciler.Apply(ctx, rejected))

	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 8, event.CapacityAvailable)
	assert.Len(t, f.store.CapacityLog(), 1)
}

func TestApplyTerminalStatesDoNotFlip(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	require.NoError(t, f.reconciler.Apply(ctx, completedNotification("redirectpay", result.PaymentReference)))

	// A late rejection must not cancel a completed order.
	late := completedNotification("redirectpay", result.PaymentReference)
	late.Status = "rejected"
	require.NoError(t, f.reconciler.Apply(ctx, late))

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)
}

func TestTransitionTable(t *testing.T) {
	for _, s := range []string{"approved", "success", "completed"} {
		assert.Equal(t, models.OrderCompleted, statusTable[s], s)
	}
	for _, s := range []string{"rejected", "failed", "cancelled", "refunded"} {
		assert.Equal(t, models.OrderCancelled, statusTable[s], s)
	}
	_, mapped := statusTable["pending"]
	assert.False(t, mapped)
}

func TestConfirmManualSettlement(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq(PaymentMethodManual))
	require.NoError(t, err)

	order, err := f.reconciler.ConfirmManualSettlement(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)

	tickets, err := f.store.ListTicketsForOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketIssued, ticket.Status)
	}

	// Issued tickets now count toward capacity; the reconcile keeps the
	// counter where the reservation already put it.
	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 8, event.CapacityAvailable)

	// Confirming again is a no-op.
	again, err := f.reconciler.ConfirmManualSettlement(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, again.Status)
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	err := f.reconciler.HandleWebhook(ctx, "nosuch", []byte("{}"), nil)
	assert.Error(t, err)
}
