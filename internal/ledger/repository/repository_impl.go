package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/ledger/domain"
	userdomain "github.com/smallbiznis/creditledger/internal/user/domain"
	"github.com/smallbiznis/creditledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func lockClause(tx *gorm.DB) string {
	if db.SupportsRowLocking(tx) {
		return " FOR UPDATE"
	}
	return ""
}

func (r *repo) LockUser(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*userdomain.User, error) {
	var user userdomain.User
	err := tx.WithContext(ctx).Raw(
		`SELECT id, email, name, credits_balance, metadata, created_at, updated_at
		 FROM users WHERE id = ?`+lockClause(tx),
		userID,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) InsertGrant(ctx context.Context, tx *gorm.DB, grant *domain.CreditGrant) error {
	var expiresAt any
	if grant.ExpiresAt != nil {
		expiresAt = grant.ExpiresAt.UTC()
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO credit_grants (id, user_id, amount, remaining_amount, source_type, description, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		grant.ID,
		grant.UserID,
		grant.Amount,
		grant.RemainingAmount,
		string(grant.SourceType),
		grant.Description,
		expiresAt,
		grant.CreatedAt,
	).Error
}

func (r *repo) LiveGrants(ctx context.Context, tx *gorm.DB, userID snowflake.ID) ([]domain.CreditGrant, error) {
	var grants []domain.CreditGrant
	// id order keeps lock acquisition deterministic across concurrent
	// transactions; spend priority is sorted in application code.
	err := tx.WithContext(ctx).Raw(
		`SELECT id, user_id, amount, remaining_amount, source_type, description, expires_at, created_at
		 FROM credit_grants
		 WHERE user_id = ? AND remaining_amount > 0
		 ORDER BY id`+lockClause(tx),
		userID,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) UpdateGrantRemaining(ctx context.Context, tx *gorm.DB, grantID snowflake.ID, remaining int64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE credit_grants SET remaining_amount = ? WHERE id = ?`,
		remaining,
		grantID,
	).Error
}

func (r *repo) AddToBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID, delta int64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE users SET credits_balance = credits_balance + ?, updated_at = ? WHERE id = ?`,
		delta,
		time.Now().UTC(),
		userID,
	).Error
}

func (r *repo) SetBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID, balance int64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE users SET credits_balance = ?, updated_at = ? WHERE id = ?`,
		balance,
		time.Now().UTC(),
		userID,
	).Error
}

func (r *repo) ExpiredGrantUserIDs(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT DISTINCT user_id
		 FROM credit_grants
		 WHERE remaining_amount > 0 AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY user_id
		 LIMIT ?`,
		now.UTC(),
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ExpiredGrants(ctx context.Context, tx *gorm.DB, userID snowflake.ID, now time.Time) ([]domain.CreditGrant, error) {
	var grants []domain.CreditGrant
	err := tx.WithContext(ctx).Raw(
		`SELECT id, user_id, amount, remaining_amount, source_type, description, expires_at, created_at
		 FROM credit_grants
		 WHERE user_id = ? AND remaining_amount > 0 AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY id`+lockClause(tx),
		userID,
		now.UTC(),
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) SumRemaining(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (int64, error) {
	var sum int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(remaining_amount), 0) FROM credit_grants WHERE user_id = ?`,
		userID,
	).Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}
