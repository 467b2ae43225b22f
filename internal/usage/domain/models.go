// Package domain contains persistence models for the consumption log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageRecord stores one successful consumption. CreditsSpent equals the
// cost charged, independent of how many grants the debit touched. Records
// are append-only and never mutated.
type UsageRecord struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID      `gorm:"not null;index" json:"user_id"`
	Feature      string            `gorm:"type:text;not null" json:"feature"`
	CreditsSpent int64             `gorm:"not null" json:"credits_spent"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
