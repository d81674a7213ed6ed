package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tickethub/internal/gateway"
	"tickethub/internal/kv"
	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/models"
	"tickethub/monitoring"
	"tickethub/utils"
)

// PaymentMethodManual settles outside any gateway; an operator confirms the
// payment through the admin settlement endpoint.
const PaymentMethodManual = "manual"

type PurchaseRequest struct {
	EventID       string            `json:"event_id"`
	BuyerID       string            `json:"buyer_id"`
	BuyerEmail    string            `json:"buyer_email"`
	Attendees     []models.Attendee `json:"attendees"`
	PaymentMethod string            `json:"payment_method"`
	CardToken     string            `json:"card_token,omitempty"`
	Currency      string            `json:"currency,omitempty"`
}

type PurchaseResult struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	PaymentURL       string `json:"payment_url,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Duplicate        bool   `json:"duplicate"`
}

// OrderService turns purchase requests into orders exactly once. Retried
// requests collapse onto the original order through the idempotency key; a
// new purchase after a terminal order gets a fresh key.
type OrderService struct {
	store      store.Store
	cache      kv.KV
	capacity   *CapacityService
	tickets    *TicketService
	reconciler *ReconcileService
	registry   *gateway.Registry
	monitor    *monitoring.Monitor

	idempotencyTTL time.Duration

	breakersMu sync.Mutex
	breakers   map[string]*utils.CircuitBreaker
}

func NewOrderService(
	st store.Store,
	cache kv.KV,
	capacity *CapacityService,
	tickets *TicketService,
	reconciler *ReconcileService,
	registry *gateway.Registry,
	monitor *monitoring.Monitor,
	idempotencyTTL time.Duration,
) *OrderService {
	return &OrderService{
		store:          st,
		cache:          cache,
		capacity:       capacity,
		tickets:        tickets,
		reconciler:     reconciler,
		registry:       registry,
		monitor:        monitor,
		idempotencyTTL: idempotencyTTL,
		breakers:       make(map[string]*utils.CircuitBreaker),
	}
}

// CreatePurchase reserves capacity, creates the order with its line item and
// opens the payment leg for the chosen method. The gateway call and the order
// insert commit together: a failed gateway call leaves no order behind and
// returns the reserved seats.
func (s *OrderService) CreatePurchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	if req.PaymentMethod == "" {
		if primary, err := s.registry.Primary(); err == nil {
			req.PaymentMethod = primary.Name()
		}
	}
	if err := validatePurchase(req); err != nil {
		return nil, err
	}

	event, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	key := fingerprint(req)
	storeKey := key

	// Fast path: a recent identical request resolved to this order already.
	if result, err := s.cachedResult(ctx, key, req.PaymentMethod); err != nil {
		log.Printf("orders: idempotency cache lookup: %v", err)
	} else if result != nil {
		s.monitor.TrackPurchase(req.EventID, "duplicate")
		return result, nil
	}

	// Durable path survives cache eviction and restarts.
	existing, err := s.store.FindOrderByIdempotencyKey(ctx, key, req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.IsTerminal() {
			s.monitor.TrackPurchase(req.EventID, "duplicate")
			return resultFromOrder(existing, true), nil
		}
		// The previous identical purchase reached a terminal state. This is
		// a genuine new purchase, so salt the stored key instead of
		// colliding on the unique index. The cache stays keyed by the
		// request fingerprint so retries of this purchase still collapse.
		storeKey = saltKey(key)
	}

	qty := len(req.Attendees)
	if err := s.capacity.Reserve(ctx, req.EventID, qty, models.CapacityReasonReserved); err != nil {
		s.monitor.TrackPurchase(req.EventID, purchaseOutcome(err))
		return nil, err
	}

	order, err := s.createOrder(ctx, req, event, storeKey, qty)
	if err != nil {
		if releaseErr := s.capacity.Release(ctx, req.EventID, qty, models.CapacityReasonGatewayError); releaseErr != nil {
			log.Printf("orders: release capacity after failed create: %v", releaseErr)
		}
		s.monitor.TrackPurchase(req.EventID, purchaseOutcome(err))
		return nil, err
	}

	if err := s.cache.Set(ctx, idempotencyCacheKey(key), order.ID, s.idempotencyTTL); err != nil {
		log.Printf("orders: cache idempotency key: %v", err)
	}

	s.monitor.TrackPurchase(req.EventID, "created")
	return resultFromOrder(order, false), nil
}

func (s *OrderService) createOrder(ctx context.Context, req *PurchaseRequest, event *models.Event, key string, qty int) (*models.Order, error) {
	code, err := utils.GenerateCode(6)
	if err != nil {
		return nil, err
	}
	reference := "TH" + code
	subtotal := event.Price.Mul(decimal.NewFromInt(int64(qty)))

	order := &models.Order{
		Status:           models.OrderPending,
		IdempotencyKey:   key,
		PaymentProvider:  req.PaymentMethod,
		PaymentReference: reference,
		BuyerID:          req.BuyerID,
		BuyerEmail:       req.BuyerEmail,
		Subtotal:         subtotal,
		Discount:         decimal.Zero,
		Total:            subtotal,
		Attendees:        req.Attendees,
	}
	items := []*models.OrderLineItem{{
		EventID:   event.ID,
		Quantity:  qty,
		UnitPrice: event.Price,
	}}

	var chargeResult *models.ChargeResult

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if req.PaymentMethod == PaymentMethodManual {
			if err := tx.CreateOrder(ctx, order, items); err != nil {
				return err
			}
			pending, err := s.tickets.BuildTickets(order, items, models.TicketPending)
			if err != nil {
				return err
			}
			return tx.CreateTickets(ctx, pending)
		}

		provider, err := s.registry.Get(req.PaymentMethod)
		if err != nil {
			return &gateway.ValidationError{Provider: req.PaymentMethod, Err: err}
		}

		switch provider.Mode() {
		case gateway.ModeRedirect:
			session, err := s.openSession(ctx, provider, order, req)
			if err != nil {
				return err
			}
			order.PaymentURL = session.PaymentURL
		case gateway.ModeCharge:
			result, err := s.charge(ctx, provider, order, req)
			if err != nil {
				return err
			}
			chargeResult = result
		default:
			return &gateway.ValidationError{
				Provider: provider.Name(),
				Err:      fmt.Errorf("unsupported mode %q", provider.Mode()),
			}
		}

		return tx.CreateOrder(ctx, order, items)
	})
	if err != nil {
		return nil, err
	}

	// A provisional charge outcome enters the same reconciliation machine as
	// webhooks so completion logic lives in exactly one place.
	if chargeResult != nil && chargeResult.Status != models.PaymentStatusPending {
		notification := &models.PaymentNotification{
			Provider:  req.PaymentMethod,
			Reference: order.PaymentReference,
			Status:    chargeResult.Status,
			Amount:    order.Total,
			Currency:  req.Currency,
			Timestamp: time.Now(),
		}
		if err := s.reconciler.Apply(ctx, notification); err != nil {
			log.Printf("orders: apply provisional charge result for %s: %v", order.ID, err)
		}
		if refreshed, err := s.store.GetOrder(ctx, order.ID); err == nil {
			order = refreshed
		}
	}

	return order, nil
}

func (s *OrderService) openSession(ctx context.Context, provider gateway.Provider, order *models.Order, req *PurchaseRequest) (*models.PaymentSession, error) {
	payer := models.Attendee{}
	if len(req.Attendees) > 0 {
		payer = req.Attendees[0]
	}

	var session *models.PaymentSession
	err := s.breaker(provider.Name()).Execute(ctx, func() error {
		var err error
		session, err = provider.CreateSession(ctx, &gateway.SessionRequest{
			Reference:   order.PaymentReference,
			Amount:      order.Total,
			Currency:    req.Currency,
			Description: fmt.Sprintf("order %s", order.PaymentReference),
			PayerName:   payer.Name,
			PayerEmail:  orFallback(payer.Email, req.BuyerEmail),
			PayerPhone:  payer.Phone,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *OrderService) charge(ctx context.Context, provider gateway.Provider, order *models.Order, req *PurchaseRequest) (*models.ChargeResult, error) {
	if req.CardToken == "" {
		return nil, &gateway.ValidationError{
			Provider: provider.Name(),
			Err:      fmt.Errorf("card_token is required for %s", provider.Name()),
		}
	}

	var result *models.ChargeResult
	err := s.breaker(provider.Name()).Execute(ctx, func() error {
		var err error
		result, err = provider.Charge(ctx, &gateway.ChargeRequest{
			Reference:  order.PaymentReference,
			CardToken:  req.CardToken,
			Amount:     order.Total,
			Currency:   req.Currency,
			PayerEmail: req.BuyerEmail,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetOrderWithTickets loads an order plus its tickets for the read endpoint.
func (s *OrderService) GetOrderWithTickets(ctx context.Context, orderID string) (*models.Order, []*models.Ticket, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	tickets, err := s.store.ListTicketsForOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, tickets, nil
}

func (s *OrderService) cachedResult(ctx context.Context, key, method string) (*PurchaseResult, error) {
	orderID, err := s.cache.Get(ctx, idempotencyCacheKey(key))
	if err != nil || orderID == "" {
		return nil, err
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil
	}
	if order.IsTerminal() || order.PaymentProvider != method {
		return nil, nil
	}
	return resultFromOrder(order, true), nil
}

func (s *OrderService) breaker(provider string) *utils.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	cb, ok := s.breakers[provider]
	if !ok {
		cb = utils.NewCircuitBreaker(provider)
		s.breakers[provider] = cb
	}
	return cb
}

func validatePurchase(req *PurchaseRequest) error {
	if req.EventID == "" {
		return fmt.Errorf("orders: event_id is required")
	}
	if len(req.Attendees) == 0 {
		return fmt.Errorf("orders: at least one attendee is required")
	}
	if req.PaymentMethod == "" {
		return fmt.Errorf("orders: payment_method is required")
	}
	for i, attendee := range req.Attendees {
		if attendee.Name == "" {
			return fmt.Errorf("orders: attendee %d has no name", i)
		}
	}
	return nil
}

// fingerprint hashes the request fields that define "the same purchase".
// Attendee emails are sorted so permutations of the same group collapse.
func fingerprint(req *PurchaseRequest) string {
	buyer := req.BuyerID
	if buyer == "" {
		buyer = "anonymous"
	}

	emails := make([]string, 0, len(req.Attendees))
	for _, attendee := range req.Attendees {
		emails = append(emails, strings.ToLower(attendee.Email))
	}
	sort.Strings(emails)

	payload := strings.Join([]string{
		buyer,
		req.EventID,
		strconv.Itoa(len(req.Attendees)),
		strings.Join(emails, ","),
		req.PaymentMethod,
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func saltKey(key string) string {
	sum := sha256.Sum256([]byte(key + "|" + strconv.FormatInt(time.Now().UnixNano(), 10)))
	return hex.EncodeToString(sum[:])
}

func idempotencyCacheKey(key string) string {
	return "idem:" + key
}

func resultFromOrder(order *models.Order, duplicate bool) *PurchaseResult {
	return &PurchaseResult{
		OrderID:          order.ID,
		Status:           order.Status,
		PaymentURL:       order.PaymentURL,
		PaymentReference: order.PaymentReference,
		Duplicate:        duplicate,
	}
}

func purchaseOutcome(err error) string {
	switch {
	case errors.Is(err, status.ErrCapacityExhausted):
		return "capacity_exhausted"
	case errors.Is(err, status.ErrLockTimeout):
		return "lock_timeout"
	case gateway.IsFatal(err):
		return "gateway_rejected"
	default:
		return "gateway_error"
	}
}

func orFallback(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
