package domain

import (
	"context"
	"errors"
	"time"
)

type GrantRequest struct {
	UserID      string          `json:"user_id"`
	Amount      int64           `json:"amount"`
	SourceType  GrantSourceType `json:"source_type"`
	Description string          `json:"description"`
}

type ConsumeRequest struct {
	UserID   string         `json:"user_id"`
	Cost     int64          `json:"cost"`
	Feature  string         `json:"feature"`
	Metadata map[string]any `json:"metadata"`
}

type BalanceResponse struct {
	UserID         string `json:"user_id"`
	CreditsBalance int64  `json:"credits_balance"`
}

// ExpiredSummary reports one expiry sweep for observability. A run that
// expired nothing is the common case, not an alert.
type ExpiredSummary struct {
	GrantsExpired    int   `json:"grants_expired"`
	CreditsForfeited int64 `json:"credits_forfeited"`
	UsersAffected    int   `json:"users_affected"`
}

// ReconcileReport compares the cached balance against ledger truth.
// It reports drift; it never corrects it.
type ReconcileReport struct {
	UserID         string `json:"user_id"`
	CreditsBalance int64  `json:"credits_balance"`
	LedgerSum      int64  `json:"ledger_sum"`
	Drift          int64  `json:"drift"`
	Consistent     bool   `json:"consistent"`
}

type Service interface {
	// Grant issues a batch of credits to an existing user and bumps the
	// cached balance in the same transaction. Not idempotent: callers
	// that may retry dedupe upstream by description/correlation key.
	Grant(context.Context, GrantRequest) (*BalanceResponse, error)

	// Consume charges a cost against the user's live grants, spending
	// expiring credits first. A cost <= 0 is a no-op success so free
	// tiers do not have to guard the call.
	Consume(context.Context, ConsumeRequest) (*BalanceResponse, error)

	// ExpireStaleGrants zeroes grants whose expiry has passed and still
	// hold credits, one atomic unit per user, draining the backlog in
	// batches until no expired grants remain. Safe to re-run: forfeiting
	// an already-zeroed grant is a no-op.
	ExpireStaleGrants(ctx context.Context, now time.Time) (*ExpiredSummary, error)

	// Reconcile recomputes the grant sum for a user and reports drift
	// against the cached balance.
	Reconcile(ctx context.Context, userID string) (*ReconcileReport, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrUserNotFound        = errors.New("user_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidSourceType   = errors.New("invalid_source_type")
	ErrInvalidFeature      = errors.New("invalid_feature")
	ErrInsufficientCredits = errors.New("insufficient_credits")

	// ErrLedgerDesync means the cached balance promised credits the live
	// grants do not hold. It is surfaced to operators, never absorbed.
	ErrLedgerDesync = errors.New("ledger_desync")
)
