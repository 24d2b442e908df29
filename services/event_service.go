package services

import (
	"context"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"ticket-admission/internal/status"
	"ticket-admission/models"
)

// EventProvider is the outbound event-metadata lookup. The engine
// only reads events; it never writes them.
type EventProvider interface {
	Event(ctx context.Context, eventID string) (*models.Event, error)
}

// PocketBaseEventProvider reads events from the PocketBase `events`
// collection.
type PocketBaseEventProvider struct {
	app core.App
}

func NewPocketBaseEventProvider(app core.App) *PocketBaseEventProvider {
	return &PocketBaseEventProvider{app: app}
}

func (p *PocketBaseEventProvider) Event(_ context.Context, eventID string) (*models.Event, error) {
	record, err := p.app.FindRecordById("events", eventID)
	if err != nil {
		return nil, status.ErrNotFound
	}

	return &models.Event{
		ID:           record.Id,
		OwnerID:      record.GetString("owner"),
		Name:         record.GetString("name"),
		TotalTickets: record.GetInt("total_tickets"),
		Price:        decimal.NewFromFloat(record.GetFloat("price")),
		Status:       record.GetString("status"),
		StartTime:    record.GetDateTime("start_time").Time(),
	}, nil
}
