package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tickethub/internal/status"
	"tickethub/models"
)

// MemoryStore is an in-process Store used by tests. It enforces the same
// unique constraints as the persistent schema and supports transaction
// rollback by snapshotting state.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int

	events    map[string]*models.Event
	log       []*models.CapacityLogEntry
	orders    map[string]*models.Order
	lineItems map[string]*models.OrderLineItem
	tickets   map[string]*models.Ticket

	inTx bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string]*models.Event),
		orders:    make(map[string]*models.Order),
		lineItems: make(map[string]*models.OrderLineItem),
		tickets:   make(map[string]*models.Ticket),
	}
}

// SeedEvent registers an event for tests.
func (s *MemoryStore) SeedEvent(event *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events[event.ID] = &copied
}

// CapacityLog returns a copy of the append-only log for assertions.
func (s *MemoryStore) CapacityLog() []*models.CapacityLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.CapacityLogEntry, len(s.log))
	copy(out, s.log)
	return out
}

func (s *MemoryStore) genID() string {
	s.nextID++
	return fmt.Sprintf("mem%06d", s.nextID)
}

func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	if s.inTx {
		// Nested transaction joins the outer one.
		s.mu.Unlock()
		return fn(s)
	}
	snapshot := s.snapshotLocked()
	s.inTx = true
	s.mu.Unlock()

	err := fn(s)

	s.mu.Lock()
	s.inTx = false
	if err != nil {
		s.restoreLocked(snapshot)
	}
	s.mu.Unlock()
	return err
}

type memSnapshot struct {
	nextID    int
	events    map[string]*models.Event
	log       []*models.CapacityLogEntry
	orders    map[string]*models.Order
	lineItems map[string]*models.OrderLineItem
	tickets   map[string]*models.Ticket
}

func (s *MemoryStore) snapshotLocked() memSnapshot {
	snap := memSnapshot{
		nextID:    s.nextID,
		events:    make(map[string]*models.Event, len(s.events)),
		log:       make([]*models.CapacityLogEntry, len(s.log)),
		orders:    make(map[string]*models.Order, len(s.orders)),
		lineItems: make(map[string]*models.OrderLineItem, len(s.lineItems)),
		tickets:   make(map[string]*models.Ticket, len(s.tickets)),
	}
	for id, e := range s.events {
		copied := *e
		snap.events[id] = &copied
	}
	copy(snap.log, s.log)
	for id, o := range s.orders {
		copied := *o
		snap.orders[id] = &copied
	}
	for id, li := range s.lineItems {
		copied := *li
		snap.lineItems[id] = &copied
	}
	for id, t := range s.tickets {
		copied := *t
		snap.tickets[id] = &copied
	}
	return snap
}

func (s *MemoryStore) restoreLocked(snap memSnapshot) {
	s.nextID = snap.nextID
	s.events = snap.events
	s.log = snap.log
	s.orders = snap.orders
	s.lineItems = snap.lineItems
	s.tickets = snap.tickets
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return nil, status.ErrEventNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *MemoryStore) SetEventAvailable(_ context.Context, eventID string, available int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return status.ErrEventNotFound
	}
	event.CapacityAvailable = available
	return nil
}

func (s *MemoryStore) AppendCapacityLog(_ context.Context, eventID string, delta int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, &models.CapacityLogEntry{
		ID:        s.genID(),
		EventID:   eventID,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) SumCapacityLog(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, entry := range s.log {
		if entry.EventID == eventID {
			sum += entry.Delta
		}
	}
	return sum, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *models.Order, items []*models.OrderLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orders {
		if existing.IdempotencyKey == order.IdempotencyKey && existing.PaymentProvider == order.PaymentProvider {
			return fmt.Errorf("store: unique constraint violated on (idempotency_key, payment_provider)")
		}
	}

	order.ID = s.genID()
	order.CreatedAt = time.Now()
	copied := *order
	s.orders[order.ID] = &copied

	for _, item := range items {
		item.ID = s.genID()
		item.OrderID = order.ID
		copiedItem := *item
		s.lineItems[item.ID] = &copiedItem
	}
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, status.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *MemoryStore) FindOrderByIdempotencyKey(_ context.Context, key, provider string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.IdempotencyKey == key && order.PaymentProvider == provider {
			copied := *order
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindOrderByPaymentReference(_ context.Context, provider, reference string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.PaymentProvider == provider && order.PaymentReference == reference {
			copied := *order
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListPendingOrders(_ context.Context, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.Order
	for _, order := range s.orders {
		if order.Status == models.OrderPending {
			copied := *order
			pending = append(pending, &copied)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryStore) MarkOrderCompleted(_ context.Context, id string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return status.ErrOrderNotFound
	}
	if order.IsTerminal() {
		return status.ErrOrderTerminal
	}
	order.Status = models.OrderCompleted
	order.PaidAt = &paidAt
	return nil
}

func (s *MemoryStore) MarkOrderCancelled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return status.ErrOrderNotFound
	}
	if order.IsTerminal() {
		return status.ErrOrderTerminal
	}
	order.Status = models.OrderCancelled
	return nil
}

func (s *MemoryStore) ListLineItems(_ context.Context, orderID string) ([]*models.OrderLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*models.OrderLineItem
	for _, item := range s.lineItems {
		if item.OrderID == orderID {
			copied := *item
			items = append(items, &copied)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) CreateTickets(_ context.Context, tickets []*models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ticket := range tickets {
		for _, existing := range s.tickets {
			if existing.ScanSignature == ticket.ScanSignature {
				return fmt.Errorf("store: unique constraint violated on scan_signature")
			}
		}
		if ticket.ID == "" {
			ticket.ID = s.genID()
		}
		ticket.CreatedAt = time.Now()
		copied := *ticket
		s.tickets[ticket.ID] = &copied
	}
	return nil
}

func (s *MemoryStore) ListTicketsForOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	items, err := s.ListLineItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var tickets []*models.Ticket
	for _, item := range items {
		for _, ticket := range s.tickets {
			if ticket.LineItemID == item.ID {
				copied := *ticket
				tickets = append(tickets, &copied)
			}
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	return tickets, nil
}

func (s *MemoryStore) CountTicketsForOrder(ctx context.Context, orderID string) (int, error) {
	tickets, err := s.ListTicketsForOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return len(tickets), nil
}

func (s *MemoryStore) CountCapacityTickets(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ticket := range s.tickets {
		if ticket.EventID == eventID && ticket.CountsTowardCapacity() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkOrderTicketsIssued(ctx context.Context, orderID string) error {
	tickets, err := s.ListTicketsForOrder(ctx, orderID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ticket := range tickets {
		if stored, ok := s.tickets[ticket.ID]; ok && stored.Status == models.TicketPending {
			stored.Status = models.TicketIssued
		}
	}
	return nil
}
