package domain

import (
	"context"
	"errors"
)

type CreateUserRequest struct {
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

type GetUserRequest struct {
	ID string `json:"id"`
}

type BalanceResponse struct {
	UserID         string `json:"user_id"`
	CreditsBalance int64  `json:"credits_balance"`
}

type Service interface {
	Create(context.Context, CreateUserRequest) (User, error)
	GetByID(context.Context, GetUserRequest) (User, error)
	GetBalance(context.Context, GetUserRequest) (BalanceResponse, error)
}

var (
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidID    = errors.New("invalid_id")
	ErrEmailTaken   = errors.New("email_taken")
	ErrUserNotFound = errors.New("user_not_found")
)
