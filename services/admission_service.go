package services

import (
	"context"
	"fmt"
	"log"

	"ticket-admission/internal/clock"
	"ticket-admission/internal/status"
	"ticket-admission/models"
	"ticket-admission/monitoring"
	"ticket-admission/utils"
)

// JoinLimiter guards join against queue abuse. Purely a gate: it knows
// nothing about event or queue state.
type JoinLimiter interface {
	Allow(ctx context.Context, eventID, userID string) (bool, error)
}

// AdmissionService is the single entry point for admission control:
// join, release, purchase commit and the read-side queries. It is the
// sole writer of entry status transitions and enforces the engine's
// invariants by serializing all writes per event.
type AdmissionService struct {
	store     WaitingListStore
	tickets   TicketStore
	events    EventProvider
	ledger    *Ledger
	scheduler *OfferScheduler
	limiter   JoinLimiter
	notifier  Notifier
	monitor   *monitoring.Monitor
	locks     *EventLocks
	clock     clock.Clock
}

func NewAdmissionService(
	store WaitingListStore,
	tickets TicketStore,
	events EventProvider,
	ledger *Ledger,
	scheduler *OfferScheduler,
	limiter JoinLimiter,
	notifier Notifier,
	monitor *monitoring.Monitor,
	locks *EventLocks,
	clk clock.Clock,
) *AdmissionService {
	return &AdmissionService{
		store:     store,
		tickets:   tickets,
		events:    events,
		ledger:    ledger,
		scheduler: scheduler,
		limiter:   limiter,
		notifier:  notifier,
		monitor:   monitor,
		locks:     locks,
		clock:     clk,
	}
}

// Join places the user in the admission flow for an event: an
// immediate offer when capacity is free, a waiting-list spot
// otherwise. Joining while already waiting or holding an offer returns
// the existing state instead of creating a duplicate entry.
func (s *AdmissionService) Join(ctx context.Context, eventID, userID string) (*models.JoinResult, error) {
	allowed, err := s.limiter.Allow(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.monitor.TrackOperation("join", eventID, "rate_limited")
		return nil, status.ErrRateLimited
	}

	event, err := s.events.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OwnerID == userID {
		s.monitor.TrackOperation("join", eventID, "owner_rejected")
		return nil, status.ErrNotEventOwner
	}
	if event.Status == models.EventStatusEnded {
		return nil, status.ErrEventEnded
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	existing, err := s.store.ActiveEntry(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.OfferLapsed(s.clock.Now()) {
			// Duplicate join: report the current state, no new row.
			s.monitor.TrackOperation("join", eventID, "already_active")
			return s.joinResultFor(ctx, existing)
		}
		// The user's own offer lapsed; reclaim it and fall through to
		// a fresh join.
		if _, err := s.scheduler.ExpireDueLocked(ctx, event); err != nil {
			return nil, err
		}
	}

	// One ticket per user per event.
	ticket, err := s.tickets.UserTicket(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if ticket != nil {
		return nil, status.ErrAlreadyPurchased
	}

	// Reclaim any lapsed offers so the availability read below is
	// exact; freed slots go to the queue head first, not this joiner.
	if _, err := s.scheduler.ExpireDueLocked(ctx, event); err != nil {
		return nil, err
	}

	remaining, err := s.ledger.Remaining(ctx, event)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry := &models.WaitingListEntry{
		ID:         utils.MustGenerateCode(8),
		EventID:    eventID,
		UserID:     userID,
		EnqueuedAt: now,
	}

	if remaining > 0 {
		entry.Status = models.EntryStatusOffered
		entry.OfferExpiresAt = now.Add(s.scheduler.OfferTTL())

		if err := s.store.Create(ctx, entry); err != nil {
			return nil, err
		}

		s.monitor.TrackOperation("join", eventID, "offered")
		s.notifier.OfferGranted(userID, eventID, entry.OfferExpiresAt)
		log.Printf("User %s joined event %s: offered until %s", userID, eventID, entry.OfferExpiresAt)

		return &models.JoinResult{
			Entry:   entry,
			Message: "Ticket offered - you have a limited time to complete your purchase",
		}, nil
	}

	entry.Status = models.EntryStatusWaiting
	if err := s.store.Create(ctx, entry); err != nil {
		return nil, err
	}

	position, err := s.store.WaitingRank(ctx, eventID, entry.EnqueuedAt)
	if err != nil {
		return nil, err
	}

	s.monitor.TrackOperation("join", eventID, "waiting")
	log.Printf("User %s joined waiting list for event %s at position %d", userID, eventID, position)

	return &models.JoinResult{
		Entry:    entry,
		Position: position,
		Message:  fmt.Sprintf("Added to waiting list at position %d", position),
	}, nil
}

// Release cancels the user's own waiting or offered entry. Cancelling
// a live offer frees its slot and promotes the next waiting entry.
// Terminal entries are reported, not re-transitioned: the first
// transition wins and replays are no-ops.
func (s *AdmissionService) Release(ctx context.Context, eventID, entryID, userID string) (*models.WaitingListEntry, error) {
	event, err := s.events.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	entry, err := s.ownedEntry(ctx, eventID, entryID, userID)
	if err != nil {
		return nil, err
	}

	if entry.Terminal() {
		s.monitor.TrackOperation("release", eventID, "already_terminal")
		return entry, status.ErrAlreadyTerminal
	}

	now := s.clock.Now()
	if entry.OfferLapsed(now) {
		// Expiry beat the release; finalize it as expired and let the
		// freed slot promote the queue head.
		if _, err := s.scheduler.ExpireDueLocked(ctx, event); err != nil {
			return nil, err
		}
		entry.Status = models.EntryStatusExpired
		return entry, status.ErrAlreadyTerminal
	}

	wasOffered := entry.Status == models.EntryStatusOffered

	if err := s.store.Finalize(ctx, entry, models.EntryStatusCancelled); err != nil {
		return nil, err
	}

	s.monitor.TrackOperation("release", eventID, "cancelled")
	s.notifier.EntryCancelled(userID, eventID)
	log.Printf("User %s released entry %s for event %s", userID, entryID, eventID)

	if wasOffered {
		s.monitor.TrackOfferHold(eventID, "cancelled", now.Sub(entry.EnqueuedAt))
		if err := s.scheduler.PromoteLocked(ctx, event); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

// CommitPurchase redeems a live offer into a ticket, exactly once per
// entry: concurrent double commits have one winner and the loser gets
// ErrAlreadyPurchased. The slot was committed at offer time, so no
// promotion happens here.
func (s *AdmissionService) CommitPurchase(ctx context.Context, eventID, entryID, userID string) (*models.Ticket, error) {
	event, err := s.events.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	entry, err := s.ownedEntry(ctx, eventID, entryID, userID)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case models.EntryStatusPurchased:
		s.monitor.TrackOperation("purchase", eventID, "already_purchased")
		return nil, status.ErrAlreadyPurchased
	case models.EntryStatusExpired:
		return nil, status.ErrExpired
	case models.EntryStatusCancelled:
		return nil, status.ErrAlreadyTerminal
	case models.EntryStatusWaiting:
		return nil, status.ErrNoActiveOffer
	}

	now := s.clock.Now()
	if entry.OfferLapsed(now) {
		// Once the TTL passed the entry can only become expired; the
		// slot is reclaimed exactly once, here or by the sweep.
		if _, err := s.scheduler.ExpireDueLocked(ctx, event); err != nil {
			return nil, err
		}
		s.monitor.TrackOperation("purchase", eventID, "expired")
		return nil, status.ErrExpired
	}

	ticket := &models.Ticket{
		EventID:     eventID,
		UserID:      userID,
		EntryID:     entry.ID,
		Reference:   utils.MustGenerateCode(6),
		Price:       event.Price,
		PurchasedAt: now,
	}
	if err := s.tickets.CreateTicket(ctx, ticket); err != nil {
		// Entry stays offered; the caller may retry until the TTL.
		s.monitor.TrackOperation("purchase", eventID, "error")
		return nil, err
	}

	if err := s.store.Finalize(ctx, entry, models.EntryStatusPurchased); err != nil {
		return nil, err
	}

	s.monitor.TrackOperation("purchase", eventID, "purchased")
	s.monitor.TrackOfferHold(eventID, "purchased", now.Sub(entry.EnqueuedAt))
	s.notifier.TicketPurchased(userID, eventID, ticket.Reference)
	log.Printf("User %s purchased ticket %s for event %s (entry %s)", userID, ticket.Reference, eventID, entry.ID)

	return ticket, nil
}

// GetPosition returns the user's latest entry for the event: the
// non-terminal one when it exists, otherwise the most recent terminal
// one for UI messaging. Lapsed offers are presented as expired even
// before the sweep persists the transition.
func (s *AdmissionService) GetPosition(ctx context.Context, eventID, userID string) (*models.PositionSnapshot, error) {
	entry, err := s.store.ActiveEntry(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry, err = s.store.LatestEntry(ctx, eventID, userID)
		if err != nil {
			return nil, err
		}
	}
	if entry == nil {
		return nil, nil
	}

	if entry.OfferLapsed(s.clock.Now()) {
		view := *entry
		view.Status = models.EntryStatusExpired
		entry = &view
	}

	snapshot := &models.PositionSnapshot{Entry: entry}
	if entry.Status == models.EntryStatusWaiting {
		position, err := s.store.WaitingRank(ctx, eventID, entry.EnqueuedAt)
		if err != nil {
			return nil, err
		}
		snapshot.Position = position
	}
	return snapshot, nil
}

// GetAvailability returns the derived availability snapshot.
func (s *AdmissionService) GetAvailability(ctx context.Context, eventID string) (*models.Availability, error) {
	event, err := s.events.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Availability(ctx, event)
}

// ownedEntry loads an entry and checks it belongs to the event and
// user. Foreign entries are indistinguishable from missing ones.
func (s *AdmissionService) ownedEntry(ctx context.Context, eventID, entryID, userID string) (*models.WaitingListEntry, error) {
	entry, err := s.store.Entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.EventID != eventID || entry.UserID != userID {
		return nil, status.ErrNotFound
	}
	return entry, nil
}

// joinResultFor rebuilds the join response for an existing entry.
func (s *AdmissionService) joinResultFor(ctx context.Context, entry *models.WaitingListEntry) (*models.JoinResult, error) {
	result := &models.JoinResult{Entry: entry}

	switch entry.Status {
	case models.EntryStatusOffered:
		result.Message = "You already have a ticket offer for this event"
	case models.EntryStatusWaiting:
		position, err := s.store.WaitingRank(ctx, entry.EventID, entry.EnqueuedAt)
		if err != nil {
			return nil, err
		}
		result.Position = position
		result.Message = fmt.Sprintf("Already in the waiting list at position %d", position)
	}
	return result, nil
}
