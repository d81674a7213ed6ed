package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickethub/internal/gateway"
	"tickethub/internal/kv"
	"tickethub/internal/notify"
	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/models"
	"tickethub/monitoring"
)

// fakeProvider is a scriptable gateway.Provider for service tests.
type fakeProvider struct {
	name string
	mode gateway.Mode

	sessionErr   error
	chargeErr    error
	chargeStatus string

	sessions int
	charges  int
}

func (p *fakeProvider) Name() string       { return p.name }
func (p *fakeProvider) Mode() gateway.Mode { return p.mode }

func (p *fakeProvider) CreateSession(_ context.Context, req *gateway.SessionRequest) (*models.PaymentSession, error) {
	p.sessions++
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	return &models.PaymentSession{
		SessionID:  "sess-" + req.Reference,
		PaymentURL: "https://pay.example.com/" + req.Reference,
		ExpiresAt:  time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) Charge(_ context.Context, req *gateway.ChargeRequest) (*models.ChargeResult, error) {
	p.charges++
	if p.chargeErr != nil {
		return nil, p.chargeErr
	}
	return &models.ChargeResult{ChargeID: "chg-" + req.Reference, Status: p.chargeStatus}, nil
}

func (p *fakeProvider) Verify(context.Context, string) (*models.PaymentNotification, error) {
	return nil, &gateway.TransientError{Provider: p.name, Err: errors.New("not scripted")}
}

func (p *fakeProvider) VerifyWebhook([]byte, http.Header) error { return nil }

func (p *fakeProvider) ParseWebhook([]byte) (*models.PaymentNotification, error) {
	return nil, errors.New("not scripted")
}

func (p *fakeProvider) Close(context.Context) error { return nil }

type orderFixture struct {
	orders     *OrderService
	reconciler *ReconcileService
	store      *store.MemoryStore
	capacity   *CapacityService
	redirect   *fakeProvider
	charge     *fakeProvider
}

func newOrderFixture(t *testing.T, capacity int) *orderFixture {
	t.Helper()

	st := store.NewMemoryStore()
	st.SeedEvent(&models.Event{
		ID:                "evt1",
		Name:              "Launch Party",
		CapacityTotal:     capacity,
		CapacityAvailable: capacity,
		Price:             decimal.NewFromInt(25),
		Status:            "on_sale",
	})

	mem := kv.NewMemoryStore()
	lock := kv.NewEventLock(mem, 5*time.Second, 10*time.Second)
	monitor := monitoring.NewMonitor()

	redirect := &fakeProvider{name: "redirectpay", mode: gateway.ModeRedirect}
	charge := &fakeProvider{name: "cardpay", mode: gateway.ModeCharge, chargeStatus: "approved"}
	registry := gateway.NewRegistry()
	registry.Register(redirect)
	registry.Register(charge)

	capacitySvc := NewCapacityService(st, lock, monitor)
	ticketSvc := NewTicketService(st, capacitySvc, notify.NewLogNotifier(), monitor, "test-secret")
	reconciler := NewReconcileService(st, mem, capacitySvc, ticketSvc, registry, monitor,
		24*time.Hour, time.Minute, 30*time.Second)
	orders := NewOrderService(st, mem, capacitySvc, ticketSvc, reconciler, registry, monitor,
		15*time.Minute)

	return &orderFixture{
		orders:     orders,
		reconciler: reconciler,
		store:      st,
		capacity:   capacitySvc,
		redirect:   redirect,
		charge:     charge,
	}
}

func purchaseReq(method string) *PurchaseRequest {
	return &PurchaseRequest{
		EventID:       "evt1",
		BuyerID:       "buyer1",
		BuyerEmail:    "buyer@example.com",
		PaymentMethod: method,
		Attendees: []models.Attendee{
			{Name: "Alice", Email: "alice@example.com"},
			{Name: "Bob", Email: "bob@example.com"},
		},
	}
}

func TestCreatePurchaseRedirect(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, models.OrderPending, result.Status)
	assert.Contains(t, result.PaymentURL, "https://pay.example.com/")
	assert.NotEmpty(t, result.PaymentReference)

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "50", order.Total.String())
	assert.Len(t, order.Attendees, 2)

	items, err := f.store.ListLineItems(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "25", items[0].UnitPrice.String())

	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 8, event.CapacityAvailable)
}

func TestCreatePurchaseDuplicateCollapses(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	first, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	second, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, f.redirect.sessions)

	// Capacity reserved once, not twice.
	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 8, event.CapacityAvailable)
	assert.Len(t, f.store.CapacityLog(), 1)
}

func TestCreatePurchaseAfterTerminalOrderIsNew(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	first, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	require.NoError(t, f.store.MarkOrderCompleted(ctx, first.OrderID, time.Now()))

	second, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.False(t, second.Duplicate)
}

func TestRepurchaseRetryCollapsesOntoPendingOrder(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	first, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)
	require.NoError(t, f.store.MarkOrderCompleted(ctx, first.OrderID, time.Now()))

	repurchase, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)
	require.NotEqual(t, first.OrderID, repurchase.OrderID)

	// Retrying the re-purchase must collapse onto its pending order, not
	// mint a third one against the old completed order.
	retry, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	require.NoError(t, err)
	assert.Equal(t, repurchase.OrderID, retry.OrderID)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, 2, f.redirect.sessions)

	// Two orders hold seats, not three.
	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 6, event.CapacityAvailable)
}

func TestCreatePurchaseDefaultsToPrimaryProvider(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq(""))
	require.NoError(t, err)

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "redirectpay", order.PaymentProvider)
}

func TestCreatePurchaseCapacityExhausted(t *testing.T) {
	f := newOrderFixture(t, 1)
	ctx := context.Background()

	_, err := f.orders.CreatePurchase(ctx, purchaseReq("redirectpay"))
	assert.ErrorIs(t, err, status.ErrCapacityExhausted)
}

func TestCreatePurchaseGatewayFailureLeavesNothingBehind(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	f.redirect.sessionErr = &gateway.TransientError{Provider: "redirectpay", Err: errors.New("timeout")}

	req := purchaseReq("redirectpay")
	_, err := f.orders.CreatePurchase(ctx, req)
	require.Error(t, err)
	assert.True(t, gateway.IsTransient(err))

	// No order visible, capacity returned.
	existing, err := f.store.FindOrderByIdempotencyKey(ctx, fingerprint(req), "redirectpay")
	require.NoError(t, err)
	assert.Nil(t, existing)

	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 10, event.CapacityAvailable)

	log := f.store.CapacityLog()
	require.Len(t, log, 2)
	assert.Equal(t, models.CapacityReasonGatewayError, log[1].Reason)
}

func TestCreatePurchaseManualPreCreatesPendingTickets(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	result, err := f.orders.CreatePurchase(ctx, purchaseReq(PaymentMethodManual))
	require.NoError(t, err)
	assert.Empty(t, result.PaymentURL)

	tickets, err := f.store.ListTicketsForOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketPending, ticket.Status)
		assert.NotEmpty(t, ticket.ScanSignature)
	}
}

func TestCreatePurchaseChargeApprovedCompletesOrder(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	req := purchaseReq("cardpay")
	req.CardToken = "tok_visa"

	result, err := f.orders.CreatePurchase(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, models.OrderCompleted, result.Status)
	assert.Equal(t, 1, f.charge.charges)

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)
	assert.NotNil(t, order.PaidAt)
}

func TestCreatePurchaseChargeRequiresCardToken(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	_, err := f.orders.CreatePurchase(ctx, purchaseReq("cardpay"))
	require.Error(t, err)
	assert.True(t, gateway.IsFatal(err))
	assert.Equal(t, 0, f.charge.charges)

	event, err := f.store.GetEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, 10, event.CapacityAvailable)
}

func TestCreatePurchaseValidation(t *testing.T) {
	f := newOrderFixture(t, 10)
	ctx := context.Background()

	_, err := f.orders.CreatePurchase(ctx, &PurchaseRequest{PaymentMethod: "redirectpay"})
	assert.Error(t, err)

	req := purchaseReq("redirectpay")
	req.Attendees = nil
	_, err = f.orders.CreatePurchase(ctx, req)
	assert.Error(t, err)

	req = purchaseReq("nosuchprovider")
	_, err = f.orders.CreatePurchase(ctx, req)
	assert.True(t, gateway.IsFatal(err))
}

func TestFingerprintIgnoresAttendeeOrder(t *testing.T) {
	a := purchaseReq("redirectpay")
	b := purchaseReq("redirectpay")
	b.Attendees = []models.Attendee{b.Attendees[1], b.Attendees[0]}

	assert.Equal(t, fingerprint(a), fingerprint(b))

	c := purchaseReq("cardpay")
	assert.NotEqual(t, fingerprint(a), fingerprint(c))
}
