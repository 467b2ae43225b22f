package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, user_id, feature, credits_spent, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.Feature,
		record.CreditsSpent,
		record.Metadata,
		record.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.UsageRecord, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("user_id = ?", userID)
	if filter.Feature != "" {
		stmt = stmt.Where("feature = ?", filter.Feature)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		if cursor.CreatedAt != "" {
			createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			if err != nil {
				return nil, err
			}
			if cursor.ID != "" {
				lastID, err := snowflake.ParseString(cursor.ID)
				if err != nil {
					return nil, err
				}
				// Keyset over (created_at, id) so rows sharing the boundary
				// timestamp are not skipped between pages.
				stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
					createdAt, createdAt, lastID)
			} else {
				stmt = stmt.Where("created_at < ?", createdAt)
			}
		}
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 50
	}

	var records []*domain.UsageRecord
	err := stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
