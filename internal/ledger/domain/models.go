package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// GrantSourceType classifies where a batch of credits came from.
// Kinds are closed by Valid(); adding one is a constant plus a case.
type GrantSourceType string

const (
	// SourceTypeMonthly is a subscription renewal batch. It expires one
	// calendar month after issue so it never collides with the next cycle.
	SourceTypeMonthly GrantSourceType = "monthly"
	// SourceTypePurchased is a one-time top-up. It never expires.
	SourceTypePurchased GrantSourceType = "purchased"
)

func (t GrantSourceType) Valid() bool {
	switch t {
	case SourceTypeMonthly, SourceTypePurchased:
		return true
	default:
		return false
	}
}

// CreditGrant is one ledger entry recording a batch of credits issued to
// a user. Amount is immutable once written; RemainingAmount only ever
// decreases, either by consumption or by forced zeroing on expiry. Grants
// are never deleted: a zeroed grant stays as an audit record.
type CreditGrant struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID          snowflake.ID    `gorm:"not null;index" json:"user_id"`
	Amount          int64           `gorm:"not null" json:"amount"`
	RemainingAmount int64           `gorm:"not null" json:"remaining_amount"`
	SourceType      GrantSourceType `gorm:"type:text;not null" json:"source_type"`
	Description     string          `gorm:"type:text;not null" json:"description"`
	ExpiresAt       *time.Time      `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditGrant) TableName() string { return "credit_grants" }

// Live reports whether the grant still holds spendable credits.
func (g CreditGrant) Live() bool { return g.RemainingAmount > 0 }
