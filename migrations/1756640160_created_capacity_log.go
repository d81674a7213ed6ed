package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("capacity_log")

		collection.Fields.Add(
			&core.RelationField{Name: "event_id", Required: true, CollectionId: events.Id, MaxSelect: 1},
			&core.NumberField{Name: "delta", Required: true, OnlyInt: true},
			&core.SelectField{
				Name: "reason",
				Values: []string{
					"reserved",
					"payment_failed",
					"gateway_error",
					"issuance_reconciled",
					"admin_adjustment",
				},
				MaxSelect: 1,
			},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		collection.AddIndex("idx_capacity_log_event", false, "event_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("capacity_log")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
