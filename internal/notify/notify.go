// Package notify is the fire-and-forget notification sink. Failures are
// logged, never retried by the engine.
package notify

import (
	"context"
	"log"

	pubnub "github.com/pubnub/go/v7"

	"tickethub/models"
)

type Notifier interface {
	SendTicketNotification(ctx context.Context, recipient string, ticket *models.Ticket, event *models.Event) bool
}

// PubNubNotifier publishes per-recipient ticket notifications on the
// "user-<email>" channel.
type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(publishKey, subscribeKey, userID string) *PubNubNotifier {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey

	return &PubNubNotifier{pn: pubnub.NewPubNub(cfg)}
}

func (n *PubNubNotifier) SendTicketNotification(_ context.Context, recipient string, ticket *models.Ticket, event *models.Event) bool {
	channel := "user-" + recipient
	_, st, err := n.pn.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":       "ticket_issued",
			"ticket_id":  ticket.ID,
			"event_id":   ticket.EventID,
			"event_name": event.Name,
			"holder":     ticket.HolderName,
		}).
		Execute()
	if err != nil {
		log.Printf("notify: publish to %s: %v", channel, err)
		return false
	}
	if st.Error != nil {
		log.Printf("notify: publish to %s: status %d", channel, st.StatusCode)
		return false
	}
	return true
}

// LogNotifier is the development sink: it only logs.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendTicketNotification(_ context.Context, recipient string, ticket *models.Ticket, event *models.Event) bool {
	log.Printf("notify: ticket %s for %s (%s) issued to %s", ticket.ID, event.Name, ticket.EventID, recipient)
	return true
}
