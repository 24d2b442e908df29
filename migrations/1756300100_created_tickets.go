package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(
			&core.RelationField{
				Name:         "event",
				Required:     true,
				CollectionId: events.Id,
				MaxSelect:    1,
			},
			&core.RelationField{
				Name:         "user",
				Required:     true,
				CollectionId: "_pb_users_auth_",
				MaxSelect:    1,
			},
			&core.TextField{Name: "entry_id", Required: true},
			&core.TextField{Name: "reference", Required: true},
			&core.NumberField{
				Name: "price",
				Min:  types.Pointer(0.0),
			},
			&core.DateField{Name: "purchased_at", Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		// One ticket per user per event, and exactly one per offer.
		collection.AddIndex("idx_tickets_event_user", true, "`event`, `user`", "")
		collection.AddIndex("idx_tickets_entry", true, "`entry_id`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
