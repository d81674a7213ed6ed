package services

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"tickethub/internal/gateway"
	"tickethub/internal/kv"
	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/models"
	"tickethub/monitoring"
)

// statusTable maps every normalized provider status to the order transition
// it drives. Statuses outside the table are ignored rather than guessed.
var statusTable = map[string]string{
	"approved":  models.OrderCompleted,
	"success":   models.OrderCompleted,
	"completed": models.OrderCompleted,
	"rejected":  models.OrderCancelled,
	"failed":    models.OrderCancelled,
	"cancelled": models.OrderCancelled,
	"refunded":  models.OrderCancelled,
}

type referenceWatcher interface {
	Unwatch(reference string)
}

// ReconcileService drives pending orders to a terminal state from payment
// notifications, whichever path they arrive on: webhook, provider push feed,
// provisional charge result or the polling fallback. Completion hands the
// order to the issuance worker pool.
type ReconcileService struct {
	store    store.Store
	cache    kv.KV
	capacity *CapacityService
	tickets  *TicketService
	registry *gateway.Registry
	monitor  *monitoring.Monitor

	sessionWindow time.Duration
	pollInterval  time.Duration
	pollResultTTL time.Duration

	notifications chan *models.PaymentNotification
	issuanceJobs  chan string
	stopChan      chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

func NewReconcileService(
	st store.Store,
	cache kv.KV,
	capacity *CapacityService,
	tickets *TicketService,
	registry *gateway.Registry,
	monitor *monitoring.Monitor,
	sessionWindow time.Duration,
	pollInterval time.Duration,
	pollResultTTL time.Duration,
) *ReconcileService {
	return &ReconcileService{
		store:         st,
		cache:         cache,
		capacity:      capacity,
		tickets:       tickets,
		registry:      registry,
		monitor:       monitor,
		sessionWindow: sessionWindow,
		pollInterval:  pollInterval,
		pollResultTTL: pollResultTTL,
		notifications: make(chan *models.PaymentNotification, 100),
		issuanceJobs:  make(chan string, 100),
		stopChan:      make(chan struct{}),
	}
}

// NotificationChannel is handed to push-capable providers; everything pushed
// into it flows through Apply.
func (s *ReconcileService) NotificationChannel() chan *models.PaymentNotification {
	return s.notifications
}

// Start launches the issuance workers, the notification consumer and the
// polling fallback loop.
func (s *ReconcileService) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.issuanceWorker(ctx, i)
	}

	s.wg.Add(1)
	go s.consumeNotifications(ctx)

	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// Shutdown stops the workers and waits for in-flight jobs to finish.
func (s *ReconcileService) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	log.Println("reconcile: stopped")
}

// HandleWebhook verifies, parses and applies one provider webhook. A bad
// signature is dropped with an error; malformed but authentic payloads are
// dropped silently so the provider does not retry forever.
func (s *ReconcileService) HandleWebhook(ctx context.Context, providerName string, payload []byte, headers http.Header) error {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return err
	}

	if err := provider.VerifyWebhook(payload, headers); err != nil {
		s.monitor.TrackReconciliation(providerName, "bad_signature")
		return err
	}

	notification, err := provider.ParseWebhook(payload)
	if err != nil {
		log.Printf("reconcile: unparseable webhook from %s: %v", providerName, err)
		s.monitor.TrackReconciliation(providerName, "unparseable")
		return nil
	}
	notification.Provider = providerName

	return s.Apply(ctx, notification)
}

// Apply runs one notification through the transition table. Terminal orders
// and unmapped statuses are no-ops, so replayed notifications are harmless.
func (s *ReconcileService) Apply(ctx context.Context, n *models.PaymentNotification) error {
	target, mapped := statusTable[n.Status]
	if !mapped {
		log.Printf("reconcile: ignoring status %q for reference %s", n.Status, n.Reference)
		s.monitor.TrackReconciliation(n.Provider, "ignored")
		return nil
	}

	order, err := s.store.FindOrderByPaymentReference(ctx, n.Provider, n.Reference)
	if err != nil {
		return err
	}
	if order == nil {
		log.Printf("reconcile: no order for %s reference %s", n.Provider, n.Reference)
		s.monitor.TrackReconciliation(n.Provider, "unknown_reference")
		return nil
	}

	if order.IsTerminal() {
		log.Printf("reconcile: order %s already %s, dropping %s notification", order.ID, order.Status, n.Status)
		s.monitor.TrackReconciliation(n.Provider, "already_terminal")
		return nil
	}

	switch target {
	case models.OrderCompleted:
		paidAt := n.Timestamp
		if paidAt.IsZero() {
			paidAt = time.Now()
		}
		if err := s.store.MarkOrderCompleted(ctx, order.ID, paidAt); err != nil {
			// A concurrent delivery won the flip. Only the winner enqueues
			// issuance, so tickets stay exactly-once.
			if errors.Is(err, status.ErrOrderTerminal) {
				s.monitor.TrackReconciliation(n.Provider, "already_terminal")
				return nil
			}
			return err
		}
		s.monitor.TrackReconciliation(n.Provider, "completed")
		s.enqueueIssuance(order.ID)
	case models.OrderCancelled:
		if err := s.cancelOrder(ctx, order); err != nil {
			if errors.Is(err, status.ErrOrderTerminal) {
				s.monitor.TrackReconciliation(n.Provider, "already_terminal")
				return nil
			}
			return err
		}
		s.monitor.TrackReconciliation(n.Provider, "cancelled")
	}

	s.unwatch(n.Provider, n.Reference)
	return nil
}

// ConfirmManualSettlement completes a manual-payment order on operator
// confirmation: the order flips to completed and its pre-created pending
// tickets are promoted in the same transaction.
func (s *ReconcileService) ConfirmManualSettlement(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return order, nil
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.MarkOrderCompleted(ctx, orderID, time.Now()); err != nil {
			return err
		}
		return tx.MarkOrderTicketsIssued(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}

	items, err := s.store.ListLineItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, eventID := range eventIDs(items) {
		if err := s.capacity.ReconcileIssued(ctx, eventID); err != nil {
			log.Printf("reconcile: capacity reconcile for event %s: %v", eventID, err)
		}
	}
	s.monitor.TrackReconciliation(PaymentMethodManual, "completed")

	order, err = s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if tickets, err := s.store.ListTicketsForOrder(ctx, orderID); err == nil {
		s.tickets.notifyHolders(ctx, order, tickets)
	}
	return order, nil
}

func (s *ReconcileService) cancelOrder(ctx context.Context, order *models.Order) error {
	if err := s.store.MarkOrderCancelled(ctx, order.ID); err != nil {
		return err
	}

	items, err := s.store.ListLineItems(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.capacity.Release(ctx, item.EventID, item.Quantity, models.CapacityReasonPaymentFailed); err != nil {
			log.Printf("reconcile: release %d seats for event %s: %v", item.Quantity, item.EventID, err)
		}
	}
	return nil
}

func (s *ReconcileService) enqueueIssuance(orderID string) {
	select {
	case s.issuanceJobs <- orderID:
		s.monitor.SetIssuanceQueueDepth(len(s.issuanceJobs))
	default:
		// Queue full. The polling loop will pick the order up again since
		// issuance is idempotent.
		log.Printf("reconcile: issuance queue full, dropping job for order %s", orderID)
	}
}

func (s *ReconcileService) issuanceWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	log.Printf("reconcile: issuance worker %d started", id)

	for {
		select {
		case <-s.stopChan:
			return
		case orderID := <-s.issuanceJobs:
			s.monitor.SetIssuanceQueueDepth(len(s.issuanceJobs))
			if _, err := s.tickets.IssueTickets(ctx, orderID); err != nil {
				log.Printf("reconcile: issue tickets for order %s: %v", orderID, err)
			}
		}
	}
}

func (s *ReconcileService) consumeNotifications(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case notification := <-s.notifications:
			if err := s.Apply(ctx, notification); err != nil {
				log.Printf("reconcile: apply pushed notification for %s: %v", notification.Reference, err)
			}
		}
	}
}

func (s *ReconcileService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.pollPending(ctx)
		}
	}
}

// pollPending asks providers for the status of every pending order still
// inside its session window. Recent results are cached so repeated polls do
// not hammer the provider.
func (s *ReconcileService) pollPending(ctx context.Context) {
	orders, err := s.store.ListPendingOrders(ctx, 200)
	if err != nil {
		log.Printf("reconcile: list pending orders: %v", err)
		return
	}

	cutoff := time.Now().Add(-s.sessionWindow)
	for _, order := range orders {
		if order.PaymentProvider == PaymentMethodManual {
			continue
		}
		if order.CreatedAt.Before(cutoff) {
			continue
		}

		cacheKey := "poll:" + order.PaymentProvider + ":" + order.PaymentReference
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			continue
		}

		provider, err := s.registry.Get(order.PaymentProvider)
		if err != nil {
			log.Printf("reconcile: poll order %s: %v", order.ID, err)
			continue
		}

		notification, err := provider.Verify(ctx, order.PaymentReference)
		if err != nil {
			if !gateway.IsTransient(err) {
				log.Printf("reconcile: verify %s with %s: %v", order.PaymentReference, order.PaymentProvider, err)
			}
			continue
		}
		notification.Provider = order.PaymentProvider

		if err := s.cache.Set(ctx, cacheKey, notification.Status, s.pollResultTTL); err != nil {
			log.Printf("reconcile: cache poll result: %v", err)
		}
		if err := s.Apply(ctx, notification); err != nil {
			log.Printf("reconcile: apply polled status for order %s: %v", order.ID, err)
		}
	}
}

func (s *ReconcileService) unwatch(providerName, reference string) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return
	}
	if watcher, ok := provider.(referenceWatcher); ok {
		watcher.Unwatch(reference)
	}
}
