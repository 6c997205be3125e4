package model

import (
	"time"

	"gorm.io/gorm"
)

// UpdateRecord is one row of the append-only update log. ID is assigned by
// the database on insert and gives the total order of the log.
type UpdateRecord struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	Created time.Time `gorm:"not null;index"`
	Version int16     `gorm:"type:smallint;not null"`
	Tag     string    `gorm:"type:text;not null;index"`
	Body    string    `gorm:"type:json;not null"`
}

func (UpdateRecord) TableName() string { return "updates" }

// ProcessedBlock records how far the ethereum scanner got and which hash it
// saw, for reorg detection.
type ProcessedBlock struct {
	ID          uint   `gorm:"primaryKey"`
	Chain       string `gorm:"size:32;index:idx_chain_block,unique"`
	BlockNumber int64  `gorm:"index:idx_chain_block,unique"`
	BlockHash   string `gorm:"size:128"`
	CreatedAt   time.Time
}

// helper: create tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&UpdateRecord{}, &ProcessedBlock{})
}
