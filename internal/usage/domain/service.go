package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/creditledger/pkg/db/pagination"
)

type ListUsageRequest struct {
	UserID    string `json:"user_id"`
	Feature   string `json:"feature"`
	PageToken string `json:"page_token"`
	PageSize  int    `json:"page_size"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

type Service interface {
	List(context.Context, ListUsageRequest) (ListUsageResponse, error)
}

var (
	ErrInvalidUser = errors.New("invalid_user")
)
