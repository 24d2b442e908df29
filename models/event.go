package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventStatusDraft     = "draft"
	EventStatusPublished = "published"
	EventStatusEnded     = "ended"
)

// Event is external metadata referenced by the engine, never written
// by it. TotalTickets is immutable once tickets exist.
type Event struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Name         string          `json:"name"`
	TotalTickets int             `json:"total_tickets"`
	Price        decimal.Decimal `json:"price"`
	Status       string          `json:"status"` // draft, published, ended
	StartTime    time.Time       `json:"start_time"`
}
