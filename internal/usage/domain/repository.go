package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Feature string
}

// Repository is the durable consumption log. Insert runs inside the
// consuming transaction so the record commits atomically with the debit.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*UsageRecord, error)
}
