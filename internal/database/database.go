package database

import (
	"fmt"
	"time"

	"mandi-prices/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize opens the MySQL database behind the SQL storage backend and
// brings its schema up to date.
func Initialize(dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("Database initialized successfully")

	if err := ensureFetchStatusIndex(db, log); err != nil {
		log.WithError(err).Warn("Migration warning")
	}
	return db, nil
}

// Migrate creates the partition and document tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.PartitionRow{}, &models.DocumentRow{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// ensureFetchStatusIndex adds an index on price_partitions.fetch_status for
// operators looking for partial partitions.
func ensureFetchStatusIndex(db *gorm.DB, log logrus.FieldLogger) error {
	const name = "idx_partition_fetch_status"
	if db.Migrator().HasIndex(&models.PartitionRow{}, name) {
		return nil
	}
	if err := db.Exec("CREATE INDEX " + name + " ON price_partitions (fetch_status)").Error; err != nil {
		return fmt.Errorf("failed adding %s: %w", name, err)
	}
	log.WithField("index", name).Info("Added index to price_partitions")
	return nil
}
