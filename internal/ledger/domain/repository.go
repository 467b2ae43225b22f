package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/creditledger/internal/user/domain"
	"gorm.io/gorm"
)

// Repository is the durable ledger store. Every method that takes a tx
// handle is expected to run inside the caller's transaction; the user row
// lock taken by LockUser is the per-user serialization point for Grant,
// Consume, and the per-user step of the expiry sweep.
type Repository interface {
	// LockUser reads the user row FOR UPDATE (where the dialect supports
	// it) and returns nil when the user does not exist.
	LockUser(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*userdomain.User, error)

	InsertGrant(ctx context.Context, tx *gorm.DB, grant *CreditGrant) error

	// LiveGrants returns the user's grants with remaining credits,
	// row-locked, in id order (the app sorts for spend priority).
	LiveGrants(ctx context.Context, tx *gorm.DB, userID snowflake.ID) ([]CreditGrant, error)

	UpdateGrantRemaining(ctx context.Context, tx *gorm.DB, grantID snowflake.ID, remaining int64) error

	AddToBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID, delta int64) error
	SetBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID, balance int64) error

	// ExpiredGrantUserIDs lists users holding live grants whose expiry
	// precedes now, oldest users first, bounded by limit.
	ExpiredGrantUserIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)

	// ExpiredGrants returns the user's live, expired grants row-locked.
	ExpiredGrants(ctx context.Context, tx *gorm.DB, userID snowflake.ID, now time.Time) ([]CreditGrant, error)

	// SumRemaining recomputes ledger truth by full scan. Audit path only.
	SumRemaining(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}
