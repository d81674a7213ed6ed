// Package store is the persistence boundary of the orchestration engine:
// transactional CRUD over events, orders, line items, tickets and the
// capacity log. The PocketBase implementation is the production path; a
// memory implementation backs tests.
package store

import (
	"context"
	"time"

	"tickethub/models"
)

type Store interface {
	// RunInTransaction executes fn atomically. Every write fn performs
	// through the passed Store is rolled back when fn returns an error.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Events and capacity ledger.
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	SetEventAvailable(ctx context.Context, eventID string, available int) error
	AppendCapacityLog(ctx context.Context, eventID string, delta int, reason string) error
	SumCapacityLog(ctx context.Context, eventID string) (int, error)

	// Orders. CreateOrder persists the order, its line items and the
	// attendee snapshot; the unique (idempotency_key, payment_provider)
	// constraint rejects duplicates that race past the fast-path lookup.
	CreateOrder(ctx context.Context, order *models.Order, items []*models.OrderLineItem) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, key, provider string) (*models.Order, error)
	FindOrderByPaymentReference(ctx context.Context, provider, reference string) (*models.Order, error)
	ListPendingOrders(ctx context.Context, limit int) ([]*models.Order, error)

	// MarkOrderCompleted and MarkOrderCancelled move a pending order to a
	// terminal state. Both return status.ErrOrderTerminal when a concurrent
	// writer got there first.
	MarkOrderCompleted(ctx context.Context, id string, paidAt time.Time) error
	MarkOrderCancelled(ctx context.Context, id string) error

	ListLineItems(ctx context.Context, orderID string) ([]*models.OrderLineItem, error)

	// Tickets.
	CreateTickets(ctx context.Context, tickets []*models.Ticket) error
	ListTicketsForOrder(ctx context.Context, orderID string) ([]*models.Ticket, error)
	CountTicketsForOrder(ctx context.Context, orderID string) (int, error)
	CountCapacityTickets(ctx context.Context, eventID string) (int, error)
	MarkOrderTicketsIssued(ctx context.Context, orderID string) error
}
