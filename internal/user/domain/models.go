package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// User owns a cached credit balance kept in sync with its grants.
// CreditsBalance is mutated only inside the same transaction as the
// grants backing it; everything else reads it as a projection.
type User struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	Email          string            `gorm:"not null;uniqueIndex" json:"email"`
	Name           string            `gorm:"not null" json:"name"`
	CreditsBalance int64             `gorm:"not null;default:0" json:"credits_balance"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
