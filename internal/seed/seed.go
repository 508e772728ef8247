// Package seed populates a store with a small demo catalog so a fresh
// install has something to search and list.
package seed

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thillai/mandi/internal/indexer"
	"github.com/thillai/mandi/internal/storage"
)

type demoEntity struct {
	entity storage.Entity
	people []demoLink
	tasks  []storage.Task
}

type demoLink struct {
	personID string
	role     storage.Role
}

// Run inserts the demo data set. Individual failures are logged and
// skipped so a partial seed never aborts startup.
func Run(store *storage.Store) {
	logger := slog.Default()

	seller := "person-ravi"
	buyer := "person-meena"
	driver := "person-arul"

	now := time.Now().UTC()

	demo := []demoEntity{
		{
			entity: entity(storage.TypeProduct, "Ceylon cinnamon sticks", "Whole bark cinnamon from the highlands, sold in 250g bundles.",
				[]string{"spice", "pantry"}, 4.50, 40, "shelf A3"),
			people: []demoLink{{seller, storage.RoleSeller}},
		},
		{
			entity: entity(storage.TypeProduct, "Cold-pressed sesame oil", "Single-origin gingelly oil, 1 litre tins, batch pressed weekly.",
				[]string{"oil", "pantry"}, 9.00, 18, "shelf B1"),
			people: []demoLink{{seller, storage.RoleSeller}},
			tasks: []storage.Task{
				{PersonID: seller, Type: storage.TaskConfirm, Title: "Reorder sesame oil tins", Priority: 2, Due: now.Add(72 * time.Hour)},
			},
		},
		{
			entity: entity(storage.TypeFood, "Weekly pantry order", "Standing order of cinnamon, sesame oil, and rice flour for the cafe kitchen.",
				[]string{"recurring"}, 86.20, 1, ""),
			people: []demoLink{{buyer, storage.RoleBuyer}, {driver, storage.RoleDriver}},
			tasks: []storage.Task{
				{PersonID: seller, Type: storage.TaskPrepare, Title: "Pack weekly pantry order", Priority: 2, Due: now.Add(24 * time.Hour)},
				{PersonID: driver, Type: storage.TaskDeliver, Title: "Deliver to cafe kitchen", Priority: 2, Due: now.Add(48 * time.Hour)},
			},
		},
		{
			entity: entity(storage.TypeService, "August account settlement", "Net 30 settlement for the cafe account, covers four weekly orders.",
				[]string{"net30"}, 312.75, 1, ""),
			people: []demoLink{{buyer, storage.RoleBuyer}},
			tasks: []storage.Task{
				{PersonID: buyer, Type: storage.TaskPay, Title: "Collect August settlement", Priority: 1, Due: now.Add(7 * 24 * time.Hour)},
			},
		},
		{
			entity: entity(storage.TypeEvent, "Monsoon stock planning", "Shift slow movers off the ground shelf before the rains; delivery routes change in October.",
				[]string{"planning"}, 0, 1, ""),
		},
	}

	for _, d := range demo {
		id, err := store.CreateEntity(d.entity)
		if err != nil {
			logger.Warn("seeding entity failed", "title", d.entity.Title, "error", err)
			continue
		}

		for _, link := range d.people {
			pl := storage.PersonLink{EntityID: id, PersonID: link.personID, Role: link.role}
			if err := store.AddPersonLink(pl); err != nil {
				logger.Warn("seeding person link failed", "entity_id", id, "person_id", pl.PersonID, "error", err)
			}
		}

		for _, t := range d.tasks {
			t.EntityID = id
			if _, err := store.CreateTask(t); err != nil {
				logger.Warn("seeding task failed", "entity_id", id, "title", t.Title, "error", err)
			}
		}

		if err := indexer.EnqueueReindex(store, uuid.New().String(), id); err != nil {
			logger.Warn("seeding reindex enqueue failed", "entity_id", id, "error", err)
		}
	}

	logger.Info("demo data seeded", "entities", len(demo))
}

func entity(typ storage.EntityType, title, description string, tags []string, value float64, quantity int, location string) storage.Entity {
	e := storage.Entity{
		Type:     typ,
		Title:    title,
		Value:    value,
		Quantity: quantity,
		Location: location,
	}
	e.Payload.Description = description
	e.Payload.Tags = tags
	return e
}
