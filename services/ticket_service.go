package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"

	"tickethub/internal/notify"
	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/models"
	"tickethub/monitoring"
)

const ticketIDLength = 15

const ticketIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// TicketService issues tickets for paid orders. Issuance is idempotent: an
// order already holding tickets gets its pending ones promoted and nothing
// else, no matter how many times completion is signalled.
type TicketService struct {
	store    store.Store
	capacity *CapacityService
	notifier notify.Notifier
	monitor  *monitoring.Monitor

	scanSecret []byte
}

func NewTicketService(st store.Store, capacity *CapacityService, notifier notify.Notifier, monitor *monitoring.Monitor, scanSecret string) *TicketService {
	return &TicketService{
		store:      st,
		capacity:   capacity,
		notifier:   notifier,
		monitor:    monitor,
		scanSecret: []byte(scanSecret),
	}
}

// SignTicket derives the scan signature bound to a ticket ID. Forging a
// scannable ticket requires the server-side secret.
func (s *TicketService) SignTicket(ticketID string) string {
	mac := hmac.New(sha256.New, s.scanSecret)
	mac.Write([]byte("ticket:" + ticketID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyScanSignature checks a presented signature in constant time.
func (s *TicketService) VerifyScanSignature(ticketID, signature string) bool {
	expected := s.SignTicket(ticketID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// IssueTickets creates one ticket per attendee for a completed order. When
// tickets already exist (a replayed completion signal, or pending tickets
// pre-created for manual settlement) it promotes pending ones and returns the
// existing set.
func (s *TicketService) IssueTickets(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.CountTicketsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		if err := s.store.MarkOrderTicketsIssued(ctx, orderID); err != nil {
			return nil, err
		}
		log.Printf("tickets: order %s already has %d tickets, skipping issuance", orderID, existing)
		return s.store.ListTicketsForOrder(ctx, orderID)
	}

	items, err := s.store.ListLineItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	tickets, err := s.BuildTickets(order, items, models.TicketIssued)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.CreateTickets(ctx, tickets)
	})
	if err != nil {
		return nil, err
	}

	for _, eventID := range eventIDs(items) {
		if err := s.capacity.ReconcileIssued(ctx, eventID); err != nil {
			log.Printf("tickets: capacity reconcile for event %s: %v", eventID, err)
		}
		s.monitor.TrackTicketsIssued(eventID, countForEvent(tickets, eventID))
	}

	s.notifyHolders(ctx, order, tickets)
	return tickets, nil
}

// BuildTickets materializes one ticket per attendee across the order's line
// items, in snapshot order. Returns status.ErrAttendeeCountMismatch when the
// snapshot does not cover the ordered quantity exactly.
func (s *TicketService) BuildTickets(order *models.Order, items []*models.OrderLineItem, ticketStatus string) ([]*models.Ticket, error) {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	if total != len(order.Attendees) {
		return nil, fmt.Errorf("%w: %d attendees for %d seats on order %s",
			status.ErrAttendeeCountMismatch, len(order.Attendees), total, order.ID)
	}

	tickets := make([]*models.Ticket, 0, total)
	cursor := 0
	for _, item := range items {
		for i := 0; i < item.Quantity; i++ {
			attendee := order.Attendees[cursor]
			cursor++

			id, err := generateTicketID()
			if err != nil {
				return nil, err
			}
			tickets = append(tickets, &models.Ticket{
				ID:            id,
				LineItemID:    item.ID,
				EventID:       item.EventID,
				HolderName:    attendee.Name,
				HolderEmail:   attendee.Email,
				ScanSignature: s.SignTicket(id),
				Status:        ticketStatus,
			})
		}
	}
	return tickets, nil
}

func (s *TicketService) notifyHolders(ctx context.Context, order *models.Order, tickets []*models.Ticket) {
	for _, ticket := range tickets {
		event, err := s.store.GetEvent(ctx, ticket.EventID)
		if err != nil {
			log.Printf("tickets: notify lookup event %s: %v", ticket.EventID, err)
			continue
		}
		recipient := ticket.HolderEmail
		if recipient == "" {
			recipient = order.BuyerEmail
		}
		if ok := s.notifier.SendTicketNotification(ctx, recipient, ticket, event); !ok {
			log.Printf("tickets: notification for ticket %s not delivered", ticket.ID)
		}
	}
}

func generateTicketID() (string, error) {
	id := make([]byte, ticketIDLength)
	max := big.NewInt(int64(len(ticketIDAlphabet)))
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("tickets: generate id: %w", err)
		}
		id[i] = ticketIDAlphabet[n.Int64()]
	}
	return string(id), nil
}

func eventIDs(items []*models.OrderLineItem) []string {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item.EventID] {
			seen[item.EventID] = true
			ids = append(ids, item.EventID)
		}
	}
	return ids
}

func countForEvent(tickets []*models.Ticket, eventID string) int {
	count := 0
	for _, ticket := range tickets {
		if ticket.EventID == eventID {
			count++
		}
	}
	return count
}
