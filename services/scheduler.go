package services

import (
	"context"
	"log"
	"sync"
	"time"

	"ticket-admission/internal/clock"
	"ticket-admission/models"
	"ticket-admission/monitoring"
)

// OfferScheduler turns freed capacity into time-limited offers in FIFO
// order and reclaims offers whose TTL lapsed without a purchase. It
// runs one centralized sweep loop for all events plus a periodic
// queue-position broadcast; both shut down through stopChan.
type OfferScheduler struct {
	store    WaitingListStore
	ledger   *Ledger
	events   EventProvider
	notifier Notifier
	monitor  *monitoring.Monitor
	locks    *EventLocks
	clock    clock.Clock

	offerTTL         time.Duration
	sweepInterval    time.Duration
	positionInterval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewOfferScheduler(
	store WaitingListStore,
	ledger *Ledger,
	events EventProvider,
	notifier Notifier,
	monitor *monitoring.Monitor,
	locks *EventLocks,
	clk clock.Clock,
	offerTTL, sweepInterval, positionInterval time.Duration,
) *OfferScheduler {
	return &OfferScheduler{
		store:            store,
		ledger:           ledger,
		events:           events,
		notifier:         notifier,
		monitor:          monitor,
		locks:            locks,
		clock:            clk,
		offerTTL:         offerTTL,
		sweepInterval:    sweepInterval,
		positionInterval: positionInterval,
		stopChan:         make(chan struct{}),
	}
}

// Start launches the sweep and position-broadcast loops.
func (s *OfferScheduler) Start() {
	s.wg.Add(1)
	go s.sweepLoop()

	s.wg.Add(1)
	go s.positionLoop()

	log.Println("Offer scheduler started")
}

func (s *OfferScheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopChan:
			log.Println("Sweep loop stopping")
			return
		}
	}
}

// Sweep finalizes every lapsed offer across all events and promotes
// waiting entries into the freed slots. Safe to call concurrently with
// user operations: each event is processed under its mutex.
func (s *OfferScheduler) Sweep(ctx context.Context) {
	eventIDs, err := s.store.OfferedEventIDs(ctx)
	if err != nil {
		log.Printf("Sweep: listing offered events: %v", err)
		return
	}

	expiredTotal := 0
	for _, eventID := range eventIDs {
		event, err := s.events.Event(ctx, eventID)
		if err != nil {
			log.Printf("Sweep: event %s lookup: %v", eventID, err)
			continue
		}

		unlock := s.locks.Lock(eventID)
		expired, err := s.ExpireDueLocked(ctx, event)
		unlock()

		if err != nil {
			log.Printf("Sweep: event %s: %v", eventID, err)
			continue
		}
		expiredTotal += expired
	}

	if expiredTotal > 0 {
		log.Printf("Sweep reclaimed %d lapsed offers across %d events", expiredTotal, len(eventIDs))
	}
}

// ExpireDueLocked finalizes the event's lapsed offers as expired and
// promotes waiting entries into whatever capacity is now free. The
// caller must hold the event's lock. Expiring is idempotent: an entry
// already finalized by a concurrent path is skipped, so exactly one
// sweep triggers the resulting promotion.
func (s *OfferScheduler) ExpireDueLocked(ctx context.Context, event *models.Event) (int, error) {
	now := s.clock.Now()
	due, err := s.store.DueOffers(ctx, event.ID, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, entry := range due {
		if entry.Terminal() {
			continue
		}

		held := now.Sub(entry.EnqueuedAt)
		if err := s.store.Finalize(ctx, entry, models.EntryStatusExpired); err != nil {
			return expired, err
		}
		expired++

		s.monitor.TrackOfferExpired(event.ID)
		s.monitor.TrackOfferHold(event.ID, "expired", held)
		s.notifier.OfferExpired(entry.UserID, event.ID)
	}

	if err := s.PromoteLocked(ctx, event); err != nil {
		return expired, err
	}
	return expired, nil
}

// PromoteLocked offers freed capacity to the longest-waiting entries,
// earliest enqueue time first. The caller must hold the event's lock.
// If the queue is empty the slots simply remain free.
func (s *OfferScheduler) PromoteLocked(ctx context.Context, event *models.Event) error {
	for {
		remaining, err := s.ledger.Remaining(ctx, event)
		if err != nil {
			return err
		}
		if remaining <= 0 {
			return nil
		}

		next, err := s.store.NextWaiting(ctx, event.ID)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		expiresAt := s.clock.Now().Add(s.offerTTL)
		if err := s.store.PromoteToOffered(ctx, next, expiresAt); err != nil {
			return err
		}

		s.monitor.TrackPromotion(event.ID)
		s.notifier.OfferGranted(next.UserID, event.ID, expiresAt)
		log.Printf("Promoted entry %s (user %s) for event %s, offer expires %s",
			next.ID, next.UserID, event.ID, expiresAt.Format(time.RFC3339))
	}
}

// OfferTTL is the fixed offer lifetime; a scheduler property, not a
// per-entry one.
func (s *OfferScheduler) OfferTTL() time.Duration {
	return s.offerTTL
}

func (s *OfferScheduler) positionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.positionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.broadcastPositions(context.Background())
		case <-s.stopChan:
			log.Println("Position broadcast stopping")
			return
		}
	}
}

func (s *OfferScheduler) broadcastPositions(ctx context.Context) {
	eventIDs, err := s.store.WaitingEventIDs(ctx)
	if err != nil {
		log.Printf("Position broadcast: listing waiting events: %v", err)
		return
	}

	for _, eventID := range eventIDs {
		entries, err := s.store.WaitingEntries(ctx, eventID)
		if err != nil {
			continue
		}

		for i, entry := range entries {
			position := i + 1
			if shouldNotifyPosition(position) {
				s.notifier.QueuePosition(entry.UserID, eventID, position)
			}
		}
	}
}

// shouldNotifyPosition throttles broadcasts: users near the front hear
// every tick, the back of a long queue only on round positions.
func shouldNotifyPosition(position int) bool {
	switch {
	case position <= 5:
		return true
	case position <= 20:
		return position%2 == 0
	case position <= 100:
		return position%10 == 0
	}
	return position%50 == 0
}

// Shutdown stops both loops and waits for them, bounded.
func (s *OfferScheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Offer scheduler stopped")
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for scheduler loops to stop")
	}
}
