package models

import (
	"time"
)

const (
	EntryStatusWaiting   = "waiting"
	EntryStatusOffered   = "offered"
	EntryStatusPurchased = "purchased"
	EntryStatusExpired   = "expired"
	EntryStatusCancelled = "cancelled"
)

// WaitingListEntry is one admission request. At most one entry per
// (event, user) may be non-terminal at a time; terminal entries are
// retained for audit and idempotent replay.
type WaitingListEntry struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"` // waiting, offered, purchased, expired, cancelled
	EnqueuedAt     time.Time `json:"enqueued_at"`
	OfferExpiresAt time.Time `json:"offer_expires_at,omitzero"`
}

// Terminal reports whether the entry can no longer transition.
func (e *WaitingListEntry) Terminal() bool {
	switch e.Status {
	case EntryStatusPurchased, EntryStatusExpired, EntryStatusCancelled:
		return true
	}
	return false
}

// OfferLapsed reports whether an offered entry's TTL has passed at
// the given instant. Entries in other states never lapse.
func (e *WaitingListEntry) OfferLapsed(now time.Time) bool {
	return e.Status == EntryStatusOffered && !e.OfferExpiresAt.After(now)
}

// JoinResult is returned by the admission controller's join operation.
type JoinResult struct {
	Entry    *WaitingListEntry `json:"entry"`
	Position int               `json:"position,omitempty"` // 1-based rank among waiting entries, 0 when offered
	Message  string            `json:"message"`
}

// PositionSnapshot is the read-only view served by getPosition.
type PositionSnapshot struct {
	Entry    *WaitingListEntry `json:"entry"`
	Position int               `json:"position,omitempty"`
}
