package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		items, err := app.FindCollectionByNameOrId("order_line_items")
		if err != nil {
			return err
		}
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(
			&core.RelationField{Name: "line_item_id", Required: true, CollectionId: items.Id, MaxSelect: 1},
			&core.RelationField{Name: "event_id", Required: true, CollectionId: events.Id, MaxSelect: 1},
			&core.TextField{Name: "holder_name", Required: true},
			&core.TextField{Name: "holder_email"},
			&core.TextField{Name: "scan_signature", Required: true},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				Values:    []string{"pending", "issued", "validated", "used", "cancelled"},
				MaxSelect: 1,
			},
			&core.DateField{Name: "scanned_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_tickets_signature", true, "scan_signature", "")
		collection.AddIndex("idx_tickets_line_item", false, "line_item_id", "")
		collection.AddIndex("idx_tickets_event_status", false, "event_id, status", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
