package services

import (
	"fmt"
	"log"
	"time"

	pubnub "github.com/pubnub/go"

	"ticket-admission/utils"
)

// Notifier pushes admission state changes to users. Notification
// failures are logged, never propagated: the engine's transitions do
// not depend on the push transport.
type Notifier interface {
	OfferGranted(userID, eventID string, expiresAt time.Time)
	OfferExpired(userID, eventID string)
	EntryCancelled(userID, eventID string)
	TicketPurchased(userID, eventID, reference string)
	QueuePosition(userID, eventID string, position int)
}

// PubNubNotifier publishes to the per-user channel the storefront
// subscribes to. A circuit breaker keeps a PubNub outage from slowing
// the hot path down.
type PubNubNotifier struct {
	pubnub  *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{
		pubnub:  pn,
		breaker: utils.NewCircuitBreaker("pubnub"),
	}
}

func (n *PubNubNotifier) OfferGranted(userID, eventID string, expiresAt time.Time) {
	n.publish(userID, map[string]any{
		"type":             "offer_granted",
		"event_id":         eventID,
		"offer_expires_at": expiresAt.UnixMilli(),
		"message":          "A ticket is being held for you. Complete your purchase before the timer expires!",
	})
}

func (n *PubNubNotifier) OfferExpired(userID, eventID string) {
	n.publish(userID, map[string]any{
		"type":     "offer_expired",
		"event_id": eventID,
		"message":  "Your ticket offer has expired. Please rejoin the waiting list.",
	})
}

func (n *PubNubNotifier) EntryCancelled(userID, eventID string) {
	n.publish(userID, map[string]any{
		"type":     "entry_cancelled",
		"event_id": eventID,
	})
}

func (n *PubNubNotifier) TicketPurchased(userID, eventID, reference string) {
	n.publish(userID, map[string]any{
		"type":      "ticket_purchased",
		"event_id":  eventID,
		"reference": reference,
	})
}

func (n *PubNubNotifier) QueuePosition(userID, eventID string, position int) {
	message := fmt.Sprintf("You are #%d in line", position)
	if position == 1 {
		message = "You're next!"
	}

	n.publish(userID, map[string]any{
		"type":     "queue_position",
		"event_id": eventID,
		"position": position,
		"message":  message,
	})
}

func (n *PubNubNotifier) publish(userID string, payload map[string]any) {
	channel := fmt.Sprintf("user-%s", userID)

	err := n.breaker.Execute(func() error {
		_, _, err := n.pubnub.Publish().
			Channel(channel).
			Message(payload).
			Execute()
		return err
	})
	if err != nil {
		log.Printf("Notify %s failed: %v", channel, err)
	}
}

// NoopNotifier is used when no PubNub keys are configured.
type NoopNotifier struct{}

func (NoopNotifier) OfferGranted(string, string, time.Time) {}
func (NoopNotifier) OfferExpired(string, string)            {}
func (NoopNotifier) EntryCancelled(string, string)          {}
func (NoopNotifier) TicketPurchased(string, string, string) {}
func (NoopNotifier) QueuePosition(string, string, int)      {}
