package services

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"ticket-admission/models"
)

// TicketStore persists redeemed tickets and answers the purchased
// counts the ledger derives availability from.
type TicketStore interface {
	// CreateTicket persists the ticket and assigns its ID.
	CreateTicket(ctx context.Context, ticket *models.Ticket) error

	// PurchasedCount returns the number of tickets sold for the event.
	PurchasedCount(ctx context.Context, eventID string) (int, error)

	// UserTicket returns the user's ticket for the event, or nil.
	UserTicket(ctx context.Context, eventID, userID string) (*models.Ticket, error)
}

// PocketBaseTicketStore keeps tickets in the PocketBase `tickets`
// collection.
type PocketBaseTicketStore struct {
	app core.App
}

func NewPocketBaseTicketStore(app core.App) *PocketBaseTicketStore {
	return &PocketBaseTicketStore{app: app}
}

func (s *PocketBaseTicketStore) CreateTicket(_ context.Context, ticket *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return fmt.Errorf("find tickets collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("event", ticket.EventID)
	record.Set("user", ticket.UserID)
	record.Set("entry_id", ticket.EntryID)
	record.Set("reference", ticket.Reference)
	record.Set("price", ticket.Price.InexactFloat64())
	record.Set("purchased_at", ticket.PurchasedAt)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}

	ticket.ID = record.Id
	return nil
}

func (s *PocketBaseTicketStore) PurchasedCount(_ context.Context, eventID string) (int, error) {
	count, err := s.app.CountRecords("tickets", dbx.HashExp{"event": eventID})
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return int(count), nil
}

func (s *PocketBaseTicketStore) UserTicket(_ context.Context, eventID, userID string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"tickets",
		"event = {:event} && user = {:user}",
		dbx.Params{"event": eventID, "user": userID},
	)
	if err != nil {
		return nil, nil
	}

	return &models.Ticket{
		ID:          record.Id,
		EventID:     record.GetString("event"),
		UserID:      record.GetString("user"),
		EntryID:     record.GetString("entry_id"),
		Reference:   record.GetString("reference"),
		Price:       decimal.NewFromFloat(record.GetFloat("price")),
		PurchasedAt: record.GetDateTime("purchased_at").Time(),
	}, nil
}
