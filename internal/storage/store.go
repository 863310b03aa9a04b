// Package storage persists date/state partitions and the derived documents
// (meta index, popular commodities) behind one interface.
package storage

import (
	"context"
	"fmt"

	"mandi-prices/internal/config"
	"mandi-prices/internal/models"

	"gorm.io/gorm"
)

// Store is implemented by the file and SQL backends. Reads of absent
// partitions or documents return an error wrapping models.ErrNotFound.
// Failed writes wrap models.ErrPersistence.
type Store interface {
	WritePartition(ctx context.Context, p *models.DailyStatePartition) error
	ReadPartition(ctx context.Context, date, state string) (*models.DailyStatePartition, error)
	// ListAvailableDates returns every date with at least one partition,
	// ascending.
	ListAvailableDates(ctx context.Context) ([]string, error)
	// ListAvailableStates returns the states partitioned under date, sorted.
	ListAvailableStates(ctx context.Context, date string) ([]string, error)

	WriteMeta(ctx context.Context, meta *models.MetaIndex) error
	ReadMeta(ctx context.Context) (*models.MetaIndex, error)
	WritePopular(ctx context.Context, pc *models.PopularCommodities) error
	ReadPopular(ctx context.Context, state string) (*models.PopularCommodities, error)
}

// Open builds the backend selected by cfg.StorageBackend. db is only used by
// the mysql backend.
func Open(cfg *config.Config, db *gorm.DB) (Store, error) {
	switch cfg.StorageBackend {
	case "", "file":
		return NewFileStore(cfg.DataDir)
	case "mysql":
		if db == nil {
			return nil, fmt.Errorf("mysql storage backend requires a database connection")
		}
		return NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistence, err)
}
