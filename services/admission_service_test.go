package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-admission/internal/clock"
	"ticket-admission/internal/status"
	"ticket-admission/models"
	"ticket-admission/monitoring"
)

// memStore is an in-memory WaitingListStore mirroring the Redis
// implementation's semantics, including lexicographic tie-breaks on
// equal enqueue times.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*models.WaitingListEntry
	active  map[string]string
	latest  map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[string]*models.WaitingListEntry),
		active:  make(map[string]string),
		latest:  make(map[string]string),
	}
}

func userKey(eventID, userID string) string {
	return eventID + "|" + userID
}

func (s *memStore) Create(_ context.Context, entry *models.WaitingListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.entries[entry.ID] = &cp
	s.active[userKey(entry.EventID, entry.UserID)] = entry.ID
	s.latest[userKey(entry.EventID, entry.UserID)] = entry.ID
	return nil
}

func (s *memStore) Entry(_ context.Context, entryID string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *memStore) ActiveEntry(ctx context.Context, eventID, userID string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	entryID, ok := s.active[userKey(eventID, userID)]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	entry, err := s.Entry(ctx, entryID)
	if err != nil {
		return nil, nil
	}
	if entry.Terminal() {
		return nil, nil
	}
	return entry, nil
}

func (s *memStore) LatestEntry(ctx context.Context, eventID, userID string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	entryID, ok := s.latest[userKey(eventID, userID)]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.Entry(ctx, entryID)
}

func (s *memStore) PromoteToOffered(_ context.Context, entry *models.WaitingListEntry, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ID]
	if !ok {
		return status.ErrNotFound
	}
	stored.Status = models.EntryStatusOffered
	stored.OfferExpiresAt = expiresAt
	entry.Status = models.EntryStatusOffered
	entry.OfferExpiresAt = expiresAt
	return nil
}

func (s *memStore) Finalize(_ context.Context, entry *models.WaitingListEntry, terminalStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ID]
	if !ok {
		return status.ErrNotFound
	}
	stored.Status = terminalStatus
	entry.Status = terminalStatus
	if s.active[userKey(entry.EventID, entry.UserID)] == entry.ID {
		delete(s.active, userKey(entry.EventID, entry.UserID))
	}
	return nil
}

func (s *memStore) byStatus(eventID, entryStatus string) []*models.WaitingListEntry {
	var out []*models.WaitingListEntry
	for _, entry := range s.entries {
		if entry.EventID == eventID && entry.Status == entryStatus {
			cp := *entry
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

func (s *memStore) NextWaiting(_ context.Context, eventID string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiting := s.byStatus(eventID, models.EntryStatusWaiting)
	if len(waiting) == 0 {
		return nil, nil
	}
	return waiting[0], nil
}

func (s *memStore) DueOffers(_ context.Context, eventID string, now time.Time) ([]*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.WaitingListEntry
	for _, entry := range s.byStatus(eventID, models.EntryStatusOffered) {
		if !entry.OfferExpiresAt.After(now) {
			due = append(due, entry)
		}
	}
	return due, nil
}

func (s *memStore) WaitingRank(_ context.Context, eventID string, enqueuedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	earlier := 0
	for _, entry := range s.byStatus(eventID, models.EntryStatusWaiting) {
		if entry.EnqueuedAt.Before(enqueuedAt) {
			earlier++
		}
	}
	return earlier + 1, nil
}

func (s *memStore) WaitingCount(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byStatus(eventID, models.EntryStatusWaiting)), nil
}

func (s *memStore) ActiveOfferCount(_ context.Context, eventID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.byStatus(eventID, models.EntryStatusOffered) {
		if entry.OfferExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) WaitingEntries(_ context.Context, eventID string) ([]*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byStatus(eventID, models.EntryStatusWaiting), nil
}

func (s *memStore) OfferedEventIDs(_ context.Context) ([]string, error) {
	return s.eventIDsWithStatus(models.EntryStatusOffered), nil
}

func (s *memStore) WaitingEventIDs(_ context.Context) ([]string, error) {
	return s.eventIDsWithStatus(models.EntryStatusWaiting), nil
}

func (s *memStore) eventIDsWithStatus(entryStatus string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var out []string
	for _, entry := range s.entries {
		if entry.Status == entryStatus && !seen[entry.EventID] {
			seen[entry.EventID] = true
			out = append(out, entry.EventID)
		}
	}
	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events map[string]*models.Event
}

func (f *fakeEvents) Event(_ context.Context, eventID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventID]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *event
	return &cp, nil
}

type fakeTickets struct {
	mu         sync.Mutex
	tickets    []*models.Ticket
	nextID     int
	failCreate error
}

func (f *fakeTickets) CreateTicket(_ context.Context, ticket *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	f.nextID++
	ticket.ID = fmt.Sprintf("ticket-%d", f.nextID)
	cp := *ticket
	f.tickets = append(f.tickets, &cp)
	return nil
}

func (f *fakeTickets) PurchasedCount(_ context.Context, eventID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, ticket := range f.tickets {
		if ticket.EventID == eventID {
			count++
		}
	}
	return count, nil
}

func (f *fakeTickets) UserTicket(_ context.Context, eventID, userID string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ticket := range f.tickets {
		if ticket.EventID == eventID && ticket.UserID == userID {
			cp := *ticket
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	offers   []string // userIDs granted offers, in order
	expired  []string
	messages int
}

func (f *fakeNotifier) OfferGranted(userID, _ string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, userID)
	f.messages++
}

func (f *fakeNotifier) OfferExpired(userID, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, userID)
	f.messages++
}

func (f *fakeNotifier) EntryCancelled(string, string)          { f.bump() }
func (f *fakeNotifier) TicketPurchased(string, string, string) { f.bump() }
func (f *fakeNotifier) QueuePosition(string, string, int)      { f.bump() }

func (f *fakeNotifier) bump() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages++
}

type fakeLimiter struct {
	mu       sync.Mutex
	attempts map[string]int
	limit    int
}

func (f *fakeLimiter) Allow(_ context.Context, eventID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit == 0 {
		return true, nil
	}
	key := eventID + "|" + userID
	f.attempts[key]++
	return f.attempts[key] <= f.limit, nil
}

type testEngine struct {
	admission *AdmissionService
	scheduler *OfferScheduler
	store     *memStore
	tickets   *fakeTickets
	events    *fakeEvents
	notifier  *fakeNotifier
	limiter   *fakeLimiter
	clock     *clock.Fixed
}

const testOfferTTL = 15 * time.Minute

func newTestEngine(t *testing.T, events ...*models.Event) *testEngine {
	t.Helper()

	store := newMemStore()
	tickets := &fakeTickets{}
	provider := &fakeEvents{events: map[string]*models.Event{}}
	for _, event := range events {
		provider.events[event.ID] = event
	}
	notifier := &fakeNotifier{}
	limiter := &fakeLimiter{attempts: map[string]int{}}
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	monitor := &monitoring.Monitor{}
	locks := NewEventLocks()

	ledger := NewLedger(store, tickets, clk)
	scheduler := NewOfferScheduler(
		store, ledger, provider, notifier, monitor, locks, clk,
		testOfferTTL, time.Second, time.Second,
	)
	admission := NewAdmissionService(
		store, tickets, provider, ledger, scheduler,
		limiter, notifier, monitor, locks, clk,
	)

	return &testEngine{
		admission: admission,
		scheduler: scheduler,
		store:     store,
		tickets:   tickets,
		events:    provider,
		notifier:  notifier,
		limiter:   limiter,
		clock:     clk,
	}
}

func testEvent(id string, total int) *models.Event {
	return &models.Event{
		ID:           id,
		OwnerID:      "owner-1",
		Name:         "Test Concert",
		TotalTickets: total,
		Price:        decimal.NewFromInt(50),
		Status:       models.EventStatusPublished,
	}
}

func TestJoin_OfferedWhenCapacityFree(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 2))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	assert.Equal(t, models.EntryStatusOffered, result.Entry.Status)
	assert.Zero(t, result.Position)
	assert.Equal(t, eng.clock.Now().Add(testOfferTTL), result.Entry.OfferExpiresAt)
	assert.Equal(t, []string{"alice"}, eng.notifier.offers)
}

func TestJoin_WaitingWhenSoldOut(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	_, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	eng.clock.Advance(time.Second)
	result, err := eng.admission.Join(ctx, "evt-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusWaiting, result.Entry.Status)
	assert.Equal(t, 1, result.Position)

	eng.clock.Advance(time.Second)
	result, err = eng.admission.Join(ctx, "evt-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusWaiting, result.Entry.Status)
	assert.Equal(t, 2, result.Position)
}

func TestJoin_OwnerRejected(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 10))

	_, err := eng.admission.Join(context.Background(), "evt-1", "owner-1")
	assert.ErrorIs(t, err, status.ErrNotEventOwner)
}

func TestJoin_UnknownEvent(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.admission.Join(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestJoin_EndedEvent(t *testing.T) {
	event := testEvent("evt-1", 10)
	event.Status = models.EventStatusEnded
	eng := newTestEngine(t, event)

	_, err := eng.admission.Join(context.Background(), "evt-1", "alice")
	assert.ErrorIs(t, err, status.ErrEventEnded)
}

func TestJoin_RateLimited(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 0))
	eng.limiter.limit = 2
	ctx := context.Background()

	_, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)
	eng.admission.Release(ctx, "evt-1", mustActiveID(t, eng, "evt-1", "alice"), "alice")

	_, err = eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)
	eng.admission.Release(ctx, "evt-1", mustActiveID(t, eng, "evt-1", "alice"), "alice")

	_, err = eng.admission.Join(ctx, "evt-1", "alice")
	assert.ErrorIs(t, err, status.ErrRateLimited)
}

func TestJoin_IdempotentWhileActive(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	first, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	second, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Len(t, eng.store.entries, 1)
}

func TestJoin_AtMostOneActiveEntryPerUser(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := eng.admission.Join(ctx, "evt-1", "alice")
		require.NoError(t, err)
		eng.clock.Advance(time.Second)
	}

	nonTerminal := 0
	for _, entry := range eng.store.entries {
		if !entry.Terminal() {
			nonTerminal++
		}
	}
	assert.Equal(t, 1, nonTerminal)
}

func TestJoin_RejoinAfterOwnOfferLapsed(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	first, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	eng.clock.Advance(testOfferTTL + time.Minute)

	second, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, models.EntryStatusOffered, second.Entry.Status)

	old, err := eng.store.Entry(ctx, first.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusExpired, old.Status)
}

func TestJoin_RejectedAfterPurchase(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 2))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)
	_, err = eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
	require.NoError(t, err)

	_, err = eng.admission.Join(ctx, "evt-1", "alice")
	assert.ErrorIs(t, err, status.ErrAlreadyPurchased)
}

func TestRelease_OfferedFreesSlotAndPromotesFIFO(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	offered, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	eng.clock.Advance(time.Second)
	_, err = eng.admission.Join(ctx, "evt-1", "bob")
	require.NoError(t, err)
	eng.clock.Advance(time.Second)
	_, err = eng.admission.Join(ctx, "evt-1", "carol")
	require.NoError(t, err)

	_, err = eng.admission.Release(ctx, "evt-1", offered.Entry.ID, "alice")
	require.NoError(t, err)

	// Bob joined first, so the freed slot is his.
	bob, err := eng.store.ActiveEntry(ctx, "evt-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusOffered, bob.Status)

	carol, err := eng.store.ActiveEntry(ctx, "evt-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusWaiting, carol.Status)
}

func TestRelease_Idempotent(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 0))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	first, err := eng.admission.Release(ctx, "evt-1", result.Entry.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusCancelled, first.Status)

	second, err := eng.admission.Release(ctx, "evt-1", result.Entry.ID, "alice")
	assert.ErrorIs(t, err, status.ErrAlreadyTerminal)
	assert.Equal(t, models.EntryStatusCancelled, second.Status)
}

func TestRelease_AfterExpiryReportsExpired(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	eng.clock.Advance(testOfferTTL + time.Second)

	entry, err := eng.admission.Release(ctx, "evt-1", result.Entry.ID, "alice")
	assert.ErrorIs(t, err, status.ErrAlreadyTerminal)
	assert.Equal(t, models.EntryStatusExpired, entry.Status)
}

func TestRelease_ForeignEntryNotFound(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	_, err = eng.admission.Release(ctx, "evt-1", result.Entry.ID, "mallory")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestCommitPurchase_CreatesTicketExactlyOnce(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	ticket, err := eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ticket.EventID)
	assert.Equal(t, result.Entry.ID, ticket.EntryID)
	assert.NotEmpty(t, ticket.Reference)
	assert.True(t, ticket.Price.Equal(decimal.NewFromInt(50)))

	_, err = eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
	assert.ErrorIs(t, err, status.ErrAlreadyPurchased)
	assert.Len(t, eng.tickets.tickets, 1)
}

func TestCommitPurchase_ConcurrentDoubleCommitHasOneWinner(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, status.ErrAlreadyPurchased)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, eng.tickets.tickets, 1)
}

func TestCommitPurchase_ExpiredOffer(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	eng.clock.Advance(time.Second)
	_, err = eng.admission.Join(ctx, "evt-1", "bob")
	require.NoError(t, err)

	eng.clock.Advance(testOfferTTL)

	_, err = eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
	assert.ErrorIs(t, err, status.ErrExpired)

	// The reclaimed slot went to the queue head.
	bob, err := eng.store.ActiveEntry(ctx, "evt-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusOffered, bob.Status)
	assert.Empty(t, eng.tickets.tickets)
}

func TestCommitPurchase_WaitingEntry(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 0))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	_, err = eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
	assert.ErrorIs(t, err, status.ErrNoActiveOffer)
}

func TestCommitPurchase_TicketStoreFailureKeepsOffer(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	result, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	eng.tickets.failCreate = errors.New("storage down")
	_, err = eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
	require.Error(t, err)

	entry, err := eng.store.Entry(ctx, result.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusOffered, entry.Status)

	eng.tickets.failCreate = nil
	_, err = eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, "alice")
	assert.NoError(t, err)
}

func TestNoOverselling_ConcurrentJoins(t *testing.T) {
	const total = 3
	eng := newTestEngine(t, testEvent("evt-1", total))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.admission.Join(ctx, "evt-1", fmt.Sprintf("user-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	offered := eng.store.byStatus("evt-1", models.EntryStatusOffered)
	waiting := eng.store.byStatus("evt-1", models.EntryStatusWaiting)
	assert.Len(t, offered, total)
	assert.Len(t, waiting, 20-total)
}

func TestNoOverselling_PurchasesNeverExceedCapacity(t *testing.T) {
	const total = 2
	eng := newTestEngine(t, testEvent("evt-1", total))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			result, err := eng.admission.Join(ctx, "evt-1", user)
			if err != nil {
				return
			}
			if result.Entry.Status == models.EntryStatusOffered {
				_, err := eng.admission.CommitPurchase(ctx, "evt-1", result.Entry.ID, user)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(eng.tickets.tickets), total)
	assert.Len(t, eng.tickets.tickets, total)
}

func TestGetPosition_WaitingRank(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	_, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)
	eng.clock.Advance(time.Second)
	_, err = eng.admission.Join(ctx, "evt-1", "bob")
	require.NoError(t, err)
	eng.clock.Advance(time.Second)
	_, err = eng.admission.Join(ctx, "evt-1", "carol")
	require.NoError(t, err)

	snapshot, err := eng.admission.GetPosition(ctx, "evt-1", "carol")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, models.EntryStatusWaiting, snapshot.Entry.Status)
	assert.Equal(t, 2, snapshot.Position)
}

func TestGetPosition_LapsedOfferShownExpired(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	_, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	eng.clock.Advance(testOfferTTL + time.Second)

	snapshot, err := eng.admission.GetPosition(ctx, "evt-1", "alice")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, models.EntryStatusExpired, snapshot.Entry.Status)
}

func TestGetPosition_NoEntry(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))

	snapshot, err := eng.admission.GetPosition(context.Background(), "evt-1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestGetAvailability_LazilyIgnoresLapsedOffers(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	_, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)

	availability, err := eng.admission.GetAvailability(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 0, availability.Remaining)
	assert.Equal(t, 1, availability.ActiveOffers)

	// Past the TTL the offer stops counting even before a sweep runs.
	eng.clock.Advance(testOfferTTL + time.Second)

	availability, err = eng.admission.GetAvailability(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, availability.Remaining)
	assert.Equal(t, 0, availability.ActiveOffers)
}

// Full lifecycle for a one-ticket event: an offer released, the
// promoted offer left to lapse, then a fresh joiner offered
// immediately.
func TestSingleTicketLifecycle(t *testing.T) {
	eng := newTestEngine(t, testEvent("evt-1", 1))
	ctx := context.Background()

	alice, err := eng.admission.Join(ctx, "evt-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusOffered, alice.Entry.Status)

	eng.clock.Advance(time.Second)
	bob, err := eng.admission.Join(ctx, "evt-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusWaiting, bob.Entry.Status)
	assert.Equal(t, 1, bob.Position)

	_, err = eng.admission.Release(ctx, "evt-1", alice.Entry.ID, "alice")
	require.NoError(t, err)

	promoted, err := eng.store.ActiveEntry(ctx, "evt-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusOffered, promoted.Status)

	// Bob never commits; his offer lapses and the sweep reclaims it.
	eng.clock.Advance(testOfferTTL + time.Second)
	eng.scheduler.Sweep(ctx)

	lapsed, err := eng.store.Entry(ctx, promoted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusExpired, lapsed.Status)

	waiting, err := eng.store.WaitingCount(ctx, "evt-1")
	require.NoError(t, err)
	assert.Zero(t, waiting)

	availability, err := eng.admission.GetAvailability(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, availability.Remaining)

	carol, err := eng.admission.Join(ctx, "evt-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusOffered, carol.Entry.Status)
}

func mustActiveID(t *testing.T, eng *testEngine, eventID, userID string) string {
	t.Helper()
	entry, err := eng.store.ActiveEntry(context.Background(), eventID, userID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry.ID
}
