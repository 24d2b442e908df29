package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket is created exactly once per successful purchase commit and
// is immutable afterwards. EntryID links back to the offer it was
// redeemed from.
type Ticket struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id"`
	UserID      string          `json:"user_id"`
	EntryID     string          `json:"entry_id"`
	Reference   string          `json:"reference"`
	Price       decimal.Decimal `json:"price"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

// Availability is derived, never stored: Remaining = TotalTickets −
// PurchasedCount − ActiveOffers, where ActiveOffers only counts offers
// whose TTL has not passed yet.
type Availability struct {
	EventID        string `json:"event_id"`
	TotalTickets   int    `json:"total_tickets"`
	PurchasedCount int    `json:"purchased_count"`
	ActiveOffers   int    `json:"active_offers"`
	Remaining      int    `json:"remaining"`
	WaitingCount   int    `json:"waiting_count"`
}
