package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("events")

		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true},
			&core.TextField{Name: "venue"},
			&core.DateField{Name: "starts_at"},
			&core.NumberField{Name: "capacity_total", Required: true, OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "capacity_available", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.TextField{Name: "price", Required: true},
			&core.SelectField{Name: "status", Values: []string{"draft", "on_sale", "closed"}, MaxSelect: 1},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
