package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickethub/internal/kv"
	"tickethub/internal/notify"
	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/models"
	"tickethub/monitoring"
)

func newTicketFixture(t *testing.T) (*TicketService, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	st.SeedEvent(&models.Event{
		ID:                "evt1",
		Name:              "Launch Party",
		CapacityTotal:     10,
		CapacityAvailable: 10,
		Price:             decimal.NewFromInt(25),
		Status:            "on_sale",
	})

	lock := kv.NewEventLock(kv.NewMemoryStore(), 5*time.Second, 10*time.Second)
	capacity := NewCapacityService(st, lock, monitoring.NewMonitor())
	svc := NewTicketService(st, capacity, notify.NewLogNotifier(), monitoring.NewMonitor(), "test-secret")
	return svc, st
}

func seedOrder(t *testing.T, st *store.MemoryStore, attendees []models.Attendee) *models.Order {
	t.Helper()

	order := &models.Order{
		Status:           models.OrderPending,
		IdempotencyKey:   "key-" + attendees[0].Name,
		PaymentProvider:  "redirectpay",
		PaymentReference: "ref-" + attendees[0].Name,
		BuyerEmail:       "buyer@example.com",
		Subtotal:         decimal.NewFromInt(25 * int64(len(attendees))),
		Total:            decimal.NewFromInt(25 * int64(len(attendees))),
		Attendees:        attendees,
	}
	items := []*models.OrderLineItem{{
		EventID:   "evt1",
		Quantity:  len(attendees),
		UnitPrice: decimal.NewFromInt(25),
	}}
	require.NoError(t, st.CreateOrder(context.Background(), order, items))
	return order
}

func TestScanSignatureRoundTrip(t *testing.T) {
	svc, _ := newTicketFixture(t)

	sig := svc.SignTicket("abc123")
	assert.Len(t, sig, 64)
	assert.True(t, svc.VerifyScanSignature("abc123", sig))

	// Tampered inputs fail.
	assert.False(t, svc.VerifyScanSignature("abc124", sig))
	assert.False(t, svc.VerifyScanSignature("abc123", sig[:63]+"0"))

	// A different secret yields a different signature.
	other := NewTicketService(nil, nil, notify.NewLogNotifier(), monitoring.NewMonitor(), "other-secret")
	assert.NotEqual(t, sig, other.SignTicket("abc123"))
}

func TestIssueTicketsCreatesOnePerAttendee(t *testing.T) {
	svc, st := newTicketFixture(t)
	ctx := context.Background()

	order := seedOrder(t, st, []models.Attendee{
		{Name: "Alice", Email: "alice@example.com"},
		{Name: "Bob", Email: "bob@example.com"},
		{Name: "Cara", Email: "cara@example.com"},
	})
	require.NoError(t, st.MarkOrderCompleted(ctx, order.ID, time.Now()))

	tickets, err := svc.IssueTickets(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 3)

	holders := map[string]bool{}
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketIssued, ticket.Status)
		assert.Equal(t, "evt1", ticket.EventID)
		assert.Len(t, ticket.ID, 15)
		assert.True(t, svc.VerifyScanSignature(ticket.ID, ticket.ScanSignature))
		holders[ticket.HolderName] = true
	}
	assert.Len(t, holders, 3)

	// Issued tickets consume capacity.
	event, err := st.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 7, event.CapacityAvailable)
}

func TestIssueTicketsIsIdempotent(t *testing.T) {
	svc, st := newTicketFixture(t)
	ctx := context.Background()

	order := seedOrder(t, st, []models.Attendee{{Name: "Alice", Email: "alice@example.com"}})
	require.NoError(t, st.MarkOrderCompleted(ctx, order.ID, time.Now()))

	first, err := svc.IssueTickets(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.IssueTickets(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	count, err := st.CountTicketsForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIssueTicketsAttendeeCountMismatch(t *testing.T) {
	svc, st := newTicketFixture(t)

	order := seedOrder(t, st, []models.Attendee{
		{Name: "Alice", Email: "alice@example.com"},
		{Name: "Bob", Email: "bob@example.com"},
	})

	// Corrupt the snapshot so it no longer covers the ordered quantity.
	order.Attendees = order.Attendees[:1]
	_, err := svc.BuildTickets(order, []*models.OrderLineItem{{
		ID:       "li1",
		EventID:  "evt1",
		Quantity: 2,
	}}, models.TicketIssued)
	assert.ErrorIs(t, err, status.ErrAttendeeCountMismatch)
}

func TestBuildTicketsPendingForManualSettlement(t *testing.T) {
	svc, st := newTicketFixture(t)

	order := seedOrder(t, st, []models.Attendee{{Name: "Alice", Email: "alice@example.com"}})
	items, err := st.ListLineItems(context.Background(), order.ID)
	require.NoError(t, err)

	tickets, err := svc.BuildTickets(order, items, models.TicketPending)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, models.TicketPending, tickets[0].Status)
	assert.False(t, tickets[0].CountsTowardCapacity())
}
