package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("orders")

		collection.Fields.Add(
			&core.SelectField{
				Name:      "status",
				Required:  true,
				Values:    []string{"pending", "completed", "cancelled"},
				MaxSelect: 1,
			},
			&core.TextField{Name: "idempotency_key", Required: true},
			&core.TextField{Name: "payment_provider", Required: true},
			&core.TextField{Name: "payment_reference"},
			&core.TextField{Name: "payment_url"},
			&core.TextField{Name: "buyer_id"},
			&core.TextField{Name: "buyer_email"},
			&core.TextField{Name: "subtotal", Required: true},
			&core.TextField{Name: "discount"},
			&core.TextField{Name: "total", Required: true},
			&core.JSONField{Name: "attendees_snapshot"},
			&core.DateField{Name: "paid_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		// One order per (request fingerprint, provider). Retries collide here
		// when two writers race past the application-level check.
		collection.AddIndex("idx_orders_idempotency", true, "idempotency_key, payment_provider", "")
		collection.AddIndex("idx_orders_reference", false, "payment_provider, payment_reference", "")
		collection.AddIndex("idx_orders_status", false, "status", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("orders")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
