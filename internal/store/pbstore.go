package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"tickethub/internal/status"
	"tickethub/models"
)

// PBStore persists aggregates as PocketBase records. All lookups go through
// the app's record APIs so collection rules and hooks keep applying when the
// admin UI touches the same data.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

func (s *PBStore) RunInTransaction(_ context.Context, fn func(tx Store) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&PBStore{app: txApp})
	})
}

// --- events / capacity ledger ---

func (s *PBStore) GetEvent(_ context.Context, id string) (*models.Event, error) {
	record, err := s.app.FindRecordById("events", id)
	if err != nil {
		return nil, status.ErrEventNotFound
	}
	return eventFromRecord(record), nil
}

func (s *PBStore) SetEventAvailable(_ context.Context, eventID string, available int) error {
	record, err := s.app.FindRecordById("events", eventID)
	if err != nil {
		return status.ErrEventNotFound
	}
	record.Set("capacity_available", available)
	return s.app.Save(record)
}

func (s *PBStore) AppendCapacityLog(_ context.Context, eventID string, delta int, reason string) error {
	collection, err := s.app.FindCollectionByNameOrId("capacity_log")
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("event_id", eventID)
	record.Set("delta", delta)
	record.Set("reason", reason)
	return s.app.Save(record)
}

func (s *PBStore) SumCapacityLog(_ context.Context, eventID string) (int, error) {
	var sum int
	err := s.app.DB().
		Select("COALESCE(SUM(delta), 0)").
		From("capacity_log").
		Where(dbx.HashExp{"event_id": eventID}).
		Row(&sum)
	if err != nil {
		return 0, fmt.Errorf("store: sum capacity log for %s: %w", eventID, err)
	}
	return sum, nil
}

// --- orders ---

func (s *PBStore) CreateOrder(_ context.Context, order *models.Order, items []*models.OrderLineItem) error {
	ordersCol, err := s.app.FindCollectionByNameOrId("orders")
	if err != nil {
		return err
	}
	itemsCol, err := s.app.FindCollectionByNameOrId("order_line_items")
	if err != nil {
		return err
	}

	record := core.NewRecord(ordersCol)
	record.Set("status", order.Status)
	record.Set("idempotency_key", order.IdempotencyKey)
	record.Set("payment_provider", order.PaymentProvider)
	record.Set("payment_reference", order.PaymentReference)
	record.Set("payment_url", order.PaymentURL)
	record.Set("buyer_id", order.BuyerID)
	record.Set("buyer_email", order.BuyerEmail)
	record.Set("subtotal", order.Subtotal.String())
	record.Set("discount", order.Discount.String())
	record.Set("total", order.Total.String())
	record.Set("attendees_snapshot", order.Attendees)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("store: create order: %w", err)
	}
	order.ID = record.Id
	order.CreatedAt = record.GetDateTime("created").Time()

	for _, item := range items {
		itemRecord := core.NewRecord(itemsCol)
		itemRecord.Set("order_id", order.ID)
		itemRecord.Set("event_id", item.EventID)
		itemRecord.Set("quantity", item.Quantity)
		itemRecord.Set("unit_price", item.UnitPrice.String())
		if err := s.app.Save(itemRecord); err != nil {
			return fmt.Errorf("store: create line item: %w", err)
		}
		item.ID = itemRecord.Id
		item.OrderID = order.ID
	}

	return nil
}

func (s *PBStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	record, err := s.app.FindRecordById("orders", id)
	if err != nil {
		return nil, status.ErrOrderNotFound
	}
	return orderFromRecord(record)
}

func (s *PBStore) FindOrderByIdempotencyKey(_ context.Context, key, provider string) (*models.Order, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"orders",
		"idempotency_key = {:key} && payment_provider = {:provider}",
		dbx.Params{"key": key, "provider": provider},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find order by idempotency key: %w", err)
	}
	return orderFromRecord(record)
}

func (s *PBStore) FindOrderByPaymentReference(_ context.Context, provider, reference string) (*models.Order, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"orders",
		"payment_provider = {:provider} && payment_reference = {:reference}",
		dbx.Params{"provider": provider, "reference": reference},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find order by payment reference: %w", err)
	}
	return orderFromRecord(record)
}

func (s *PBStore) ListPendingOrders(_ context.Context, limit int) ([]*models.Order, error) {
	records, err := s.app.FindRecordsByFilter(
		"orders",
		"status = 'pending'",
		"created",
		limit,
		0,
	)
	if err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(records))
	for _, record := range records {
		order, err := orderFromRecord(record)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// The check-then-save below runs inside a transaction so two concurrent
// deliveries of the same notification cannot both observe pending: the
// loser re-reads the terminal status and gets ErrOrderTerminal.
func (s *PBStore) MarkOrderCompleted(_ context.Context, id string, paidAt time.Time) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		record, err := txApp.FindRecordById("orders", id)
		if err != nil {
			return status.ErrOrderNotFound
		}
		if record.GetString("status") != models.OrderPending {
			return status.ErrOrderTerminal
		}
		record.Set("status", models.OrderCompleted)
		record.Set("paid_at", paidAt)
		return txApp.Save(record)
	})
}

func (s *PBStore) MarkOrderCancelled(_ context.Context, id string) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		record, err := txApp.FindRecordById("orders", id)
		if err != nil {
			return status.ErrOrderNotFound
		}
		if record.GetString("status") != models.OrderPending {
			return status.ErrOrderTerminal
		}
		record.Set("status", models.OrderCancelled)
		return txApp.Save(record)
	})
}

func (s *PBStore) ListLineItems(_ context.Context, orderID string) ([]*models.OrderLineItem, error) {
	records, err := s.app.FindRecordsByFilter(
		"order_line_items",
		"order_id = {:order}",
		"created",
		0,
		0,
		dbx.Params{"order": orderID},
	)
	if err != nil {
		return nil, err
	}

	items := make([]*models.OrderLineItem, 0, len(records))
	for _, record := range records {
		price, err := decimal.NewFromString(record.GetString("unit_price"))
		if err != nil {
			return nil, fmt.Errorf("store: line item %s unit_price: %w", record.Id, err)
		}
		items = append(items, &models.OrderLineItem{
			ID:        record.Id,
			OrderID:   record.GetString("order_id"),
			EventID:   record.GetString("event_id"),
			Quantity:  record.GetInt("quantity"),
			UnitPrice: price,
		})
	}
	return items, nil
}

// --- tickets ---

func (s *PBStore) CreateTickets(_ context.Context, tickets []*models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return err
	}

	for _, ticket := range tickets {
		record := core.NewRecord(collection)
		if ticket.ID != "" {
			record.Id = ticket.ID
		}
		record.Set("line_item_id", ticket.LineItemID)
		record.Set("event_id", ticket.EventID)
		record.Set("holder_name", ticket.HolderName)
		record.Set("holder_email", ticket.HolderEmail)
		record.Set("scan_signature", ticket.ScanSignature)
		record.Set("status", ticket.Status)
		if err := s.app.Save(record); err != nil {
			return fmt.Errorf("store: create ticket: %w", err)
		}
		ticket.ID = record.Id
		ticket.CreatedAt = record.GetDateTime("created").Time()
	}
	return nil
}

func (s *PBStore) ListTicketsForOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	itemIDs, err := s.lineItemIDs(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		return nil, nil
	}

	records := []*core.Record{}
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return nil, err
	}
	err = s.app.RecordQuery(collection).
		AndWhere(dbx.In("line_item_id", itemIDs...)).
		OrderBy("created ASC").
		All(&records)
	if err != nil {
		return nil, err
	}

	tickets := make([]*models.Ticket, 0, len(records))
	for _, record := range records {
		tickets = append(tickets, ticketFromRecord(record))
	}
	return tickets, nil
}

func (s *PBStore) CountTicketsForOrder(ctx context.Context, orderID string) (int, error) {
	itemIDs, err := s.lineItemIDs(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if len(itemIDs) == 0 {
		return 0, nil
	}

	count, err := s.app.CountRecords("tickets", dbx.In("line_item_id", itemIDs...))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *PBStore) CountCapacityTickets(_ context.Context, eventID string) (int, error) {
	count, err := s.app.CountRecords("tickets",
		dbx.HashExp{"event_id": eventID},
		dbx.In("status", models.TicketIssued, models.TicketValidated, models.TicketUsed),
	)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *PBStore) MarkOrderTicketsIssued(ctx context.Context, orderID string) error {
	tickets, err := s.ListTicketsForOrder(ctx, orderID)
	if err != nil {
		return err
	}

	for _, ticket := range tickets {
		if ticket.Status != models.TicketPending {
			continue
		}
		record, err := s.app.FindRecordById("tickets", ticket.ID)
		if err != nil {
			return err
		}
		record.Set("status", models.TicketIssued)
		if err := s.app.Save(record); err != nil {
			return err
		}
	}
	return nil
}

func (s *PBStore) lineItemIDs(ctx context.Context, orderID string) ([]any, error) {
	items, err := s.ListLineItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// --- record mapping ---

func eventFromRecord(record *core.Record) *models.Event {
	price, err := decimal.NewFromString(record.GetString("price"))
	if err != nil {
		price = decimal.Zero
	}
	return &models.Event{
		ID:                record.Id,
		Name:              record.GetString("name"),
		Venue:             record.GetString("venue"),
		StartTime:         record.GetDateTime("starts_at").Time(),
		CapacityTotal:     record.GetInt("capacity_total"),
		CapacityAvailable: record.GetInt("capacity_available"),
		Price:             price,
		Status:            record.GetString("status"),
	}
}

func orderFromRecord(record *core.Record) (*models.Order, error) {
	order := &models.Order{
		ID:               record.Id,
		Status:           record.GetString("status"),
		IdempotencyKey:   record.GetString("idempotency_key"),
		PaymentProvider:  record.GetString("payment_provider"),
		PaymentReference: record.GetString("payment_reference"),
		PaymentURL:       record.GetString("payment_url"),
		BuyerID:          record.GetString("buyer_id"),
		BuyerEmail:       record.GetString("buyer_email"),
		CreatedAt:        record.GetDateTime("created").Time(),
	}

	for _, field := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"subtotal", &order.Subtotal},
		{"discount", &order.Discount},
		{"total", &order.Total},
	} {
		value, err := decimal.NewFromString(record.GetString(field.name))
		if err != nil {
			return nil, fmt.Errorf("store: order %s %s: %w", record.Id, field.name, err)
		}
		*field.dst = value
	}

	if err := record.UnmarshalJSONField("attendees_snapshot", &order.Attendees); err != nil {
		return nil, fmt.Errorf("store: order %s attendees: %w", record.Id, err)
	}

	if paidAt := record.GetDateTime("paid_at"); !paidAt.IsZero() {
		t := paidAt.Time()
		order.PaidAt = &t
	}

	return order, nil
}

func ticketFromRecord(record *core.Record) *models.Ticket {
	ticket := &models.Ticket{
		ID:            record.Id,
		LineItemID:    record.GetString("line_item_id"),
		EventID:       record.GetString("event_id"),
		HolderName:    record.GetString("holder_name"),
		HolderEmail:   record.GetString("holder_email"),
		ScanSignature: record.GetString("scan_signature"),
		Status:        record.GetString("status"),
		CreatedAt:     record.GetDateTime("created").Time(),
	}
	if scanned := record.GetDateTime("scanned_at"); !scanned.IsZero() {
		t := scanned.Time()
		ticket.ScannedAt = &t
	}
	return ticket
}
