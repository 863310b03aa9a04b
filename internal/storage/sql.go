package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"mandi-prices/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	metaDocKey       = "meta"
	popularKeyPrefix = "popular:"
)

// SQLStore keeps partitions in price_partitions (records as one JSON
// column) and the meta/popular documents in price_documents.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) WritePartition(ctx context.Context, p *models.DailyStatePartition) error {
	records, err := json.Marshal(p.Records)
	if err != nil {
		return persistErr("encode partition", err)
	}
	row := models.PartitionRow{
		Date:         p.Date,
		State:        p.State,
		TotalRecords: p.TotalRecords,
		FetchStatus:  string(p.FetchStatus),
		LastUpdated:  p.LastUpdatedISO,
		Records:      string(records),
		UpdatedAt:    time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "state"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_records", "fetch_status", "last_updated", "records", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return persistErr(fmt.Sprintf("write partition %s/%s", p.Date, p.State), err)
	}
	return nil
}

func (s *SQLStore) ReadPartition(ctx context.Context, date, state string) (*models.DailyStatePartition, error) {
	var row models.PartitionRow
	err := s.db.WithContext(ctx).Where("date = ? AND state = ?", date, state).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("read partition %s/%s: %w", date, state, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read partition %s/%s: %w", date, state, err)
	}

	p := &models.DailyStatePartition{
		Date:           row.Date,
		State:          row.State,
		TotalRecords:   row.TotalRecords,
		LastUpdatedISO: row.LastUpdated,
		FetchStatus:    models.FetchStatus(row.FetchStatus),
		Records:        []models.PriceRecord{},
	}
	if row.Records != "" {
		if err := json.Unmarshal([]byte(row.Records), &p.Records); err != nil {
			return nil, fmt.Errorf("decode partition %s/%s: %w", date, state, err)
		}
	}
	return p, nil
}

func (s *SQLStore) ListAvailableDates(ctx context.Context) ([]string, error) {
	var dates []string
	err := s.db.WithContext(ctx).Model(&models.PartitionRow{}).
		Distinct("date").Order("date ASC").Pluck("date", &dates).Error
	if err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	if dates == nil {
		dates = []string{}
	}
	return dates, nil
}

func (s *SQLStore) ListAvailableStates(ctx context.Context, date string) ([]string, error) {
	var states []string
	err := s.db.WithContext(ctx).Model(&models.PartitionRow{}).
		Where("date = ?", date).Pluck("state", &states).Error
	if err != nil {
		return nil, fmt.Errorf("list states for %s: %w", date, err)
	}
	if states == nil {
		states = []string{}
	}
	sort.Strings(states)
	return states, nil
}

func (s *SQLStore) WriteMeta(ctx context.Context, meta *models.MetaIndex) error {
	if err := s.putDocument(ctx, metaDocKey, meta); err != nil {
		return persistErr("write meta", err)
	}
	return nil
}

func (s *SQLStore) ReadMeta(ctx context.Context) (*models.MetaIndex, error) {
	var m models.MetaIndex
	if err := s.getDocument(ctx, metaDocKey, &m); err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	return &m, nil
}

func (s *SQLStore) WritePopular(ctx context.Context, pc *models.PopularCommodities) error {
	if err := s.putDocument(ctx, popularKeyPrefix+pc.State, pc); err != nil {
		return persistErr("write popular "+pc.State, err)
	}
	return nil
}

func (s *SQLStore) ReadPopular(ctx context.Context, state string) (*models.PopularCommodities, error) {
	var pc models.PopularCommodities
	if err := s.getDocument(ctx, popularKeyPrefix+state, &pc); err != nil {
		return nil, fmt.Errorf("read popular %s: %w", state, err)
	}
	return &pc, nil
}

func (s *SQLStore) putDocument(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	row := models.DocumentRow{Key: key, Body: string(body), UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&row).Error
}

func (s *SQLStore) getDocument(ctx context.Context, key string, v any) error {
	var row models.DocumentRow
	err := s.db.WithContext(ctx).Where("`key` = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(row.Body), v)
}
