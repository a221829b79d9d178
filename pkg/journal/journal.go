// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package journal keeps a local record of every resolved vend in SQLite.
// The Venditt API is the authoritative audit trail; the journal survives
// network outages and gives field technicians something to read on the
// device itself.
package journal

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// VendRecord is one resolved vend attempt.
type VendRecord struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	EventType string `gorm:"size:64;index"`
	Price     string `gorm:"size:16"`
	Product   *int
	Reason    string `gorm:"size:64"`
	CompMode  bool
}

// Store is the vend journal.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the journal database at path. The special path
// ":memory:" opens an in-memory database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.AutoMigrate(&VendRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one vend record.
func (s *Store) Record(rec *VendRecord) error {
	return s.db.Create(rec).Error
}

// Recent returns the newest limit records, newest first.
func (s *Store) Recent(limit int) ([]VendRecord, error) {
	var recs []VendRecord
	err := s.db.Order("id desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// Counts returns the lifetime approved and denied totals.
func (s *Store) Counts() (approved, denied int64, err error) {
	if err = s.db.Model(&VendRecord{}).
		Where("event_type = ?", "nayax_payment.approved").Count(&approved).Error; err != nil {
		return 0, 0, err
	}
	err = s.db.Model(&VendRecord{}).
		Where("event_type = ?", "nayax_payment.denied").Count(&denied).Error
	return approved, denied, err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
