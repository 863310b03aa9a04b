package models

import "time"

// PartitionRow is the SQL form of a DailyStatePartition. Records are kept as
// one JSON document so a partition is replaced in a single statement.
type PartitionRow struct {
	ID           uint      `gorm:"primaryKey"`
	Date         string    `gorm:"size:10;not null;uniqueIndex:idx_partition_date_state"`
	State        string    `gorm:"size:64;not null;uniqueIndex:idx_partition_date_state"`
	TotalRecords int       `gorm:"not null;default:0"`
	FetchStatus  string    `gorm:"size:16;not null"`
	LastUpdated  string    `gorm:"size:40"`
	Records      string    `gorm:"type:longtext"`
	UpdatedAt    time.Time
}

func (PartitionRow) TableName() string { return "price_partitions" }

// DocumentRow stores whole JSON documents (meta index, popular commodities)
// under a string key.
type DocumentRow struct {
	Key       string    `gorm:"primaryKey;size:128"`
	Body      string    `gorm:"type:longtext"`
	UpdatedAt time.Time
}

func (DocumentRow) TableName() string { return "price_documents" }
