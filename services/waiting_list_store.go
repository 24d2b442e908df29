package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-admission/internal/status"
	"ticket-admission/models"
)

// WaitingListStore is the durable, ordered record of admission
// requests. Implementations do not need to be atomic across calls:
// the admission controller serializes every mutation per event.
type WaitingListStore interface {
	// Create persists a fresh entry in waiting or offered state and
	// records it as the user's active entry for the event.
	Create(ctx context.Context, entry *models.WaitingListEntry) error

	// Entry loads one entry by ID. Returns status.ErrNotFound for
	// unknown IDs.
	Entry(ctx context.Context, entryID string) (*models.WaitingListEntry, error)

	// ActiveEntry returns the user's non-terminal entry for the event,
	// or nil when there is none.
	ActiveEntry(ctx context.Context, eventID, userID string) (*models.WaitingListEntry, error)

	// LatestEntry returns the most recent entry for the event and
	// user, terminal or not, or nil when the user never joined.
	LatestEntry(ctx context.Context, eventID, userID string) (*models.WaitingListEntry, error)

	// PromoteToOffered moves a waiting entry into offered state with
	// the given expiry.
	PromoteToOffered(ctx context.Context, entry *models.WaitingListEntry, expiresAt time.Time) error

	// Finalize moves an entry into a terminal state, drops it from the
	// live queues and clears the user's active pointer.
	Finalize(ctx context.Context, entry *models.WaitingListEntry, terminalStatus string) error

	// NextWaiting returns the waiting entry with the earliest enqueue
	// time, or nil when the queue is empty.
	NextWaiting(ctx context.Context, eventID string) (*models.WaitingListEntry, error)

	// DueOffers returns offered entries whose expiry is at or before
	// now, oldest first.
	DueOffers(ctx context.Context, eventID string, now time.Time) ([]*models.WaitingListEntry, error)

	// WaitingRank returns the 1-based queue position for an entry
	// enqueued at the given instant.
	WaitingRank(ctx context.Context, eventID string, enqueuedAt time.Time) (int, error)

	// WaitingCount returns the number of waiting entries for the event.
	WaitingCount(ctx context.Context, eventID string) (int, error)

	// ActiveOfferCount counts offered entries whose expiry is strictly
	// after now. Lapsed offers never count against availability, even
	// before a sweep finalizes them.
	ActiveOfferCount(ctx context.Context, eventID string, now time.Time) (int, error)

	// WaitingEntries returns all waiting entries in FIFO order.
	WaitingEntries(ctx context.Context, eventID string) ([]*models.WaitingListEntry, error)

	// OfferedEventIDs lists events that currently have offered
	// entries, for the expiry sweep.
	OfferedEventIDs(ctx context.Context) ([]string, error)

	// WaitingEventIDs lists events that currently have waiting
	// entries, for the position broadcast.
	WaitingEventIDs(ctx context.Context) ([]string, error)
}

const (
	entryKeyFmt   = "admission:entry:%s"
	waitingKeyFmt = "admission:waiting:%s"
	offeredKeyFmt = "admission:offered:%s"
	activeKeyFmt  = "admission:active:%s:%s"
	latestKeyFmt  = "admission:latest:%s:%s"

	offeredKeyPrefix = "admission:offered:"
	waitingKeyPrefix = "admission:waiting:"
)

// RedisWaitingListStore keeps entries as hashes with two sorted sets
// per event: waiting scored by enqueue time (FIFO order) and offered
// scored by offer expiry (cheap due-offer scans).
type RedisWaitingListStore struct {
	Redis    *redis.Client
	auditTTL time.Duration
}

func NewRedisWaitingListStore(redisClient *redis.Client, auditTTL time.Duration) *RedisWaitingListStore {
	return &RedisWaitingListStore{
		Redis:    redisClient,
		auditTTL: auditTTL,
	}
}

func (s *RedisWaitingListStore) Create(ctx context.Context, entry *models.WaitingListEntry) error {
	entryKey := fmt.Sprintf(entryKeyFmt, entry.ID)

	if err := s.writeEntry(ctx, entryKey, entry); err != nil {
		return err
	}

	switch entry.Status {
	case models.EntryStatusWaiting:
		if err := s.Redis.ZAdd(ctx, fmt.Sprintf(waitingKeyFmt, entry.EventID), redis.Z{
			Score:  float64(entry.EnqueuedAt.UnixNano()),
			Member: entry.ID,
		}).Err(); err != nil {
			return err
		}
	case models.EntryStatusOffered:
		if err := s.Redis.ZAdd(ctx, fmt.Sprintf(offeredKeyFmt, entry.EventID), redis.Z{
			Score:  float64(entry.OfferExpiresAt.UnixNano()),
			Member: entry.ID,
		}).Err(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("create entry %s: unexpected status %q", entry.ID, entry.Status)
	}

	if err := s.Redis.Set(ctx, fmt.Sprintf(activeKeyFmt, entry.EventID, entry.UserID), entry.ID, 0).Err(); err != nil {
		return err
	}
	return s.Redis.Set(ctx, fmt.Sprintf(latestKeyFmt, entry.EventID, entry.UserID), entry.ID, 0).Err()
}

func (s *RedisWaitingListStore) Entry(ctx context.Context, entryID string) (*models.WaitingListEntry, error) {
	fields, err := s.Redis.HGetAll(ctx, fmt.Sprintf(entryKeyFmt, entryID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, status.ErrNotFound
	}
	return entryFromFields(fields)
}

func (s *RedisWaitingListStore) ActiveEntry(ctx context.Context, eventID, userID string) (*models.WaitingListEntry, error) {
	entry, err := s.pointedEntry(ctx, fmt.Sprintf(activeKeyFmt, eventID, userID))
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Terminal() {
		// Stale pointer from an interrupted finalize; self-heal.
		s.Redis.Del(ctx, fmt.Sprintf(activeKeyFmt, eventID, userID))
		return nil, nil
	}
	return entry, nil
}

func (s *RedisWaitingListStore) LatestEntry(ctx context.Context, eventID, userID string) (*models.WaitingListEntry, error) {
	return s.pointedEntry(ctx, fmt.Sprintf(latestKeyFmt, eventID, userID))
}

func (s *RedisWaitingListStore) pointedEntry(ctx context.Context, pointerKey string) (*models.WaitingListEntry, error) {
	entryID, err := s.Redis.Get(ctx, pointerKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry, err := s.Entry(ctx, entryID)
	if err == status.ErrNotFound {
		// Entry aged out of the audit window.
		return nil, nil
	}
	return entry, err
}

func (s *RedisWaitingListStore) PromoteToOffered(ctx context.Context, entry *models.WaitingListEntry, expiresAt time.Time) error {
	entry.Status = models.EntryStatusOffered
	entry.OfferExpiresAt = expiresAt

	entryKey := fmt.Sprintf(entryKeyFmt, entry.ID)
	if err := s.writeEntry(ctx, entryKey, entry); err != nil {
		return err
	}
	if err := s.Redis.ZRem(ctx, fmt.Sprintf(waitingKeyFmt, entry.EventID), entry.ID).Err(); err != nil {
		return err
	}
	return s.Redis.ZAdd(ctx, fmt.Sprintf(offeredKeyFmt, entry.EventID), redis.Z{
		Score:  float64(expiresAt.UnixNano()),
		Member: entry.ID,
	}).Err()
}

func (s *RedisWaitingListStore) Finalize(ctx context.Context, entry *models.WaitingListEntry, terminalStatus string) error {
	entry.Status = terminalStatus

	entryKey := fmt.Sprintf(entryKeyFmt, entry.ID)
	if err := s.Redis.HSet(ctx, entryKey, "status", terminalStatus).Err(); err != nil {
		return err
	}

	s.Redis.ZRem(ctx, fmt.Sprintf(waitingKeyFmt, entry.EventID), entry.ID)
	s.Redis.ZRem(ctx, fmt.Sprintf(offeredKeyFmt, entry.EventID), entry.ID)
	s.Redis.Del(ctx, fmt.Sprintf(activeKeyFmt, entry.EventID, entry.UserID))

	// Terminal entries stick around for audit and idempotent replays.
	if s.auditTTL > 0 {
		s.Redis.Expire(ctx, entryKey, s.auditTTL)
		s.Redis.Expire(ctx, fmt.Sprintf(latestKeyFmt, entry.EventID, entry.UserID), s.auditTTL)
	}
	return nil
}

func (s *RedisWaitingListStore) NextWaiting(ctx context.Context, eventID string) (*models.WaitingListEntry, error) {
	ids, err := s.Redis.ZRange(ctx, fmt.Sprintf(waitingKeyFmt, eventID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.Entry(ctx, ids[0])
}

func (s *RedisWaitingListStore) DueOffers(ctx context.Context, eventID string, now time.Time) ([]*models.WaitingListEntry, error) {
	ids, err := s.Redis.ZRangeByScore(ctx, fmt.Sprintf(offeredKeyFmt, eventID), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]*models.WaitingListEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.Entry(ctx, id)
		if err == status.ErrNotFound {
			// Orphaned set member; drop it.
			s.Redis.ZRem(ctx, fmt.Sprintf(offeredKeyFmt, eventID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisWaitingListStore) WaitingRank(ctx context.Context, eventID string, enqueuedAt time.Time) (int, error) {
	earlier, err := s.Redis.ZCount(ctx, fmt.Sprintf(waitingKeyFmt, eventID),
		"-inf", "("+strconv.FormatInt(enqueuedAt.UnixNano(), 10)).Result()
	if err != nil {
		return 0, err
	}
	return int(earlier) + 1, nil
}

func (s *RedisWaitingListStore) WaitingCount(ctx context.Context, eventID string) (int, error) {
	n, err := s.Redis.ZCard(ctx, fmt.Sprintf(waitingKeyFmt, eventID)).Result()
	return int(n), err
}

func (s *RedisWaitingListStore) ActiveOfferCount(ctx context.Context, eventID string, now time.Time) (int, error) {
	n, err := s.Redis.ZCount(ctx, fmt.Sprintf(offeredKeyFmt, eventID),
		"("+strconv.FormatInt(now.UnixNano(), 10), "+inf").Result()
	return int(n), err
}

func (s *RedisWaitingListStore) WaitingEntries(ctx context.Context, eventID string) ([]*models.WaitingListEntry, error) {
	ids, err := s.Redis.ZRange(ctx, fmt.Sprintf(waitingKeyFmt, eventID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]*models.WaitingListEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.Entry(ctx, id)
		if err == status.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisWaitingListStore) OfferedEventIDs(ctx context.Context) ([]string, error) {
	keys, err := s.Redis.Keys(ctx, offeredKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}

	eventIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		eventIDs = append(eventIDs, key[len(offeredKeyPrefix):])
	}
	return eventIDs, nil
}

func (s *RedisWaitingListStore) WaitingEventIDs(ctx context.Context) ([]string, error) {
	keys, err := s.Redis.Keys(ctx, waitingKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}

	eventIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		eventIDs = append(eventIDs, key[len(waitingKeyPrefix):])
	}
	return eventIDs, nil
}

func (s *RedisWaitingListStore) writeEntry(ctx context.Context, entryKey string, entry *models.WaitingListEntry) error {
	var offerExpires int64
	if !entry.OfferExpiresAt.IsZero() {
		offerExpires = entry.OfferExpiresAt.UnixNano()
	}

	return s.Redis.HSet(ctx, entryKey, map[string]any{
		"id":               entry.ID,
		"event_id":         entry.EventID,
		"user_id":          entry.UserID,
		"status":           entry.Status,
		"enqueued_at":      entry.EnqueuedAt.UnixNano(),
		"offer_expires_at": offerExpires,
	}).Err()
}

func entryFromFields(fields map[string]string) (*models.WaitingListEntry, error) {
	enqueued, err := strconv.ParseInt(fields["enqueued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse enqueued_at: %w", err)
	}
	offerExpires, err := strconv.ParseInt(fields["offer_expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse offer_expires_at: %w", err)
	}

	entry := &models.WaitingListEntry{
		ID:         fields["id"],
		EventID:    fields["event_id"],
		UserID:     fields["user_id"],
		Status:     fields["status"],
		EnqueuedAt: time.Unix(0, enqueued).UTC(),
	}
	if offerExpires != 0 {
		entry.OfferExpiresAt = time.Unix(0, offerExpires).UTC()
	}
	return entry, nil
}
