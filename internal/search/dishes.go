package search

import (
	"context"
	"database/sql"

	"github.com/kalambet/dishdex/internal/storage"
)

// DishConfig maps dishes onto the dishes_fts table created by the storage
// migrations.
var DishConfig = Config{
	Table:          "dishes_fts",
	Columns:        []string{"name", "description", "dish_type", "pairing_text"},
	Primary:        "dishes",
	QueryCacheSize: 512,
}

// DishIndexer is the search index over dishes.
type DishIndexer = Indexer[storage.Dish]

// NewDishIndexer returns an indexer over the dishes table in db.
func NewDishIndexer(db *sql.DB) (*DishIndexer, error) {
	return NewIndexer[storage.Dish](db, DishConfig)
}

// DishSource reads dishes in id order for RebuildAll.
func DishSource(store *storage.Store) Source[storage.Dish] {
	return SourceFunc[storage.Dish](func(_ context.Context, afterID int64, limit int) ([]storage.Dish, error) {
		return store.DishesAfter(afterID, limit)
	})
}
