package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// StateSlotModel is the GORM row backing one state slot.
type StateSlotModel struct {
	Slot      string         `gorm:"primaryKey"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// GormStore persists slots in Postgres, one row per slot.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migration for the slot table.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&StateSlotModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Load unmarshals the slot row into v.
func (s *GormStore) Load(ctx context.Context, slot string, v any) (bool, error) {
	var row StateSlotModel
	err := s.db.WithContext(ctx).First(&row, "slot = ?", slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load slot %s: %w", slot, err)
	}
	if err := json.Unmarshal(row.Data, v); err != nil {
		return false, nil
	}
	return true, nil
}

// Save upserts the slot row.
func (s *GormStore) Save(ctx context.Context, slot string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", slot, err)
	}
	row := StateSlotModel{Slot: slot, Data: data, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save slot %s: %w", slot, err)
	}
	return nil
}

// Delete removes the slot row.
func (s *GormStore) Delete(ctx context.Context, slot string) error {
	err := s.db.WithContext(ctx).Delete(&StateSlotModel{}, "slot = ?", slot).Error
	if err != nil {
		return fmt.Errorf("delete slot %s: %w", slot, err)
	}
	return nil
}
