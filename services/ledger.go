package services

import (
	"context"

	"ticket-admission/internal/clock"
	"ticket-admission/models"
)

// Ledger derives availability. It owns no state of its own: totals
// come from event metadata, purchased counts from the ticket store and
// active offer counts from the waiting list, filtered by expiry time
// so a lapsed offer stops counting the instant its clock passes, even
// before a sweep finalizes it.
type Ledger struct {
	store   WaitingListStore
	tickets TicketStore
	clock   clock.Clock
}

func NewLedger(store WaitingListStore, tickets TicketStore, clk clock.Clock) *Ledger {
	return &Ledger{
		store:   store,
		tickets: tickets,
		clock:   clk,
	}
}

// Availability computes the full derived snapshot for an event.
func (l *Ledger) Availability(ctx context.Context, event *models.Event) (*models.Availability, error) {
	purchased, err := l.tickets.PurchasedCount(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	activeOffers, err := l.store.ActiveOfferCount(ctx, event.ID, l.clock.Now())
	if err != nil {
		return nil, err
	}

	waiting, err := l.store.WaitingCount(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	remaining := event.TotalTickets - purchased - activeOffers
	if remaining < 0 {
		// Must never happen while the per-event serialization holds.
		remaining = 0
	}

	return &models.Availability{
		EventID:        event.ID,
		TotalTickets:   event.TotalTickets,
		PurchasedCount: purchased,
		ActiveOffers:   activeOffers,
		Remaining:      remaining,
		WaitingCount:   waiting,
	}, nil
}

// Remaining is the slot count availability check used on the join and
// promotion paths.
func (l *Ledger) Remaining(ctx context.Context, event *models.Event) (int, error) {
	availability, err := l.Availability(ctx, event)
	if err != nil {
		return 0, err
	}
	return availability.Remaining, nil
}
