package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	userdomain "github.com/smallbiznis/creditledger/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	Users      userdomain.Repository
	UsageRepo  usagedomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	users      userdomain.Repository
	usagerepo  usagedomain.Repository
	obsMetrics *obsmetrics.Metrics

	sweepUserBatch int
}

func New(p Params) domain.Service {
	batch := p.Config.SweepBatchSize
	if batch <= 0 {
		batch = 200
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("ledger.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		users:          p.Users,
		usagerepo:      p.UsageRepo,
		obsMetrics:     p.ObsMetrics,
		sweepUserBatch: batch,
	}
}

func (s *Service) Grant(ctx context.Context, req domain.GrantRequest) (*domain.BalanceResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !req.SourceType.Valid() {
		return nil, domain.ErrInvalidSourceType
	}

	now := s.clock.Now()
	grant := domain.CreditGrant{
		ID:              s.genID.Generate(),
		UserID:          userID,
		Amount:          req.Amount,
		RemainingAmount: req.Amount,
		SourceType:      req.SourceType,
		Description:     strings.TrimSpace(req.Description),
		ExpiresAt:       expiryFor(req.SourceType, now),
		CreatedAt:       now,
	}

	var resp *domain.BalanceResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			// A missing user is a caller bug; granting would conjure a
			// balance out of nothing.
			return domain.ErrUserNotFound
		}

		if err := s.repo.InsertGrant(ctx, tx, &grant); err != nil {
			return err
		}
		if err := s.repo.AddToBalance(ctx, tx, userID, req.Amount); err != nil {
			return err
		}

		resp = &domain.BalanceResponse{
			UserID:         userID.String(),
			CreditsBalance: user.CreditsBalance + req.Amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordGrant(ctx, string(req.SourceType), req.Amount)
	}
	s.log.Info("credits granted",
		zap.String("user_id", userID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("source_type", string(req.SourceType)),
	)

	return resp, nil
}

func (s *Service) Consume(ctx context.Context, req domain.ConsumeRequest) (*domain.BalanceResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	feature := strings.TrimSpace(req.Feature)
	if feature == "" {
		return nil, domain.ErrInvalidFeature
	}

	// Free-tier calls come through with a zero cost; succeed without
	// touching the ledger so callers need no conditional guard.
	if req.Cost <= 0 {
		user, err := s.users.FindByID(ctx, s.db, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, domain.ErrUserNotFound
		}
		return &domain.BalanceResponse{
			UserID:         userID.String(),
			CreditsBalance: user.CreditsBalance,
		}, nil
	}

	var resp *domain.BalanceResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrUserNotFound
		}

		// Cheap rejection on the cached balance before any grant is read.
		if user.CreditsBalance < req.Cost {
			return domain.ErrInsufficientCredits
		}

		grants, err := s.repo.LiveGrants(ctx, tx, userID)
		if err != nil {
			return err
		}
		sortForConsumption(grants)

		owed := req.Cost
		for i := range grants {
			if owed == 0 {
				break
			}
			debit := grants[i].RemainingAmount
			if debit > owed {
				debit = owed
			}
			remaining := grants[i].RemainingAmount - debit
			if err := s.repo.UpdateGrantRemaining(ctx, tx, grants[i].ID, remaining); err != nil {
				return err
			}
			owed -= debit
		}

		if owed > 0 {
			// The cached balance promised credits the live grants do not
			// hold. Roll back and surface; never absorb locally.
			s.log.Error("ledger desync detected",
				zap.String("user_id", userID.String()),
				zap.Int64("cached_balance", user.CreditsBalance),
				zap.Int64("cost", req.Cost),
				zap.Int64("uncovered", owed),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordLedgerDesync(ctx)
			}
			return domain.ErrLedgerDesync
		}

		record := usagedomain.UsageRecord{
			ID:           s.genID.Generate(),
			UserID:       userID,
			Feature:      feature,
			CreditsSpent: req.Cost,
			CreatedAt:    s.clock.Now(),
		}
		if req.Metadata != nil {
			record.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if err := s.usagerepo.Insert(ctx, tx, &record); err != nil {
			return err
		}

		if err := s.repo.AddToBalance(ctx, tx, userID, -req.Cost); err != nil {
			return err
		}

		resp = &domain.BalanceResponse{
			UserID:         userID.String(),
			CreditsBalance: user.CreditsBalance - req.Cost,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) && s.obsMetrics != nil {
			s.obsMetrics.RecordConsumeRejected(ctx, feature, "insufficient_credits")
		}
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordConsume(ctx, feature, req.Cost)
	}

	return resp, nil
}

func (s *Service) ExpireStaleGrants(ctx context.Context, now time.Time) (*domain.ExpiredSummary, error) {
	summary := &domain.ExpiredSummary{}
	var sweepErr error
	for {
		userIDs, err := s.repo.ExpiredGrantUserIDs(ctx, s.db, now, s.sweepUserBatch)
		if err != nil {
			if summary.UsersAffected == 0 && sweepErr == nil {
				return nil, err
			}
			sweepErr = errors.Join(sweepErr, err)
			break
		}
		if len(userIDs) == 0 {
			break
		}

		for _, userID := range userIDs {
			expired, forfeited, err := s.expireForUser(ctx, userID, now)
			if err != nil {
				// Each user is its own atomic unit: keep the progress made
				// so far and let the next run pick up the rest.
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			if expired == 0 {
				continue
			}
			summary.GrantsExpired += expired
			summary.CreditsForfeited += forfeited
			summary.UsersAffected++
		}

		// Stop once the backlog is drained. A batch with failures also
		// stops here: refetching would hand back the same users.
		if sweepErr != nil || len(userIDs) < s.sweepUserBatch {
			break
		}
	}

	if summary.CreditsForfeited > 0 {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordForfeiture(ctx, summary.CreditsForfeited)
		}
		s.log.Info("expired stale grants",
			zap.Int("grants_expired", summary.GrantsExpired),
			zap.Int64("credits_forfeited", summary.CreditsForfeited),
			zap.Int("users_affected", summary.UsersAffected),
		)
	}

	return summary, sweepErr
}

func (s *Service) expireForUser(ctx context.Context, userID snowflake.ID, now time.Time) (int, int64, error) {
	var expired int
	var forfeited int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return nil
		}

		grants, err := s.repo.ExpiredGrants(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if len(grants) == 0 {
			return nil
		}

		for i := range grants {
			forfeited += grants[i].RemainingAmount
			if err := s.repo.UpdateGrantRemaining(ctx, tx, grants[i].ID, 0); err != nil {
				return err
			}
		}
		expired = len(grants)

		// Floor at zero only as a guard against pre-existing drift; a
		// consistent ledger never engages it.
		newBalance := user.CreditsBalance - forfeited
		if newBalance < 0 {
			s.log.Warn("expiry floor engaged, balance drifted below forfeiture",
				zap.String("user_id", userID.String()),
				zap.Int64("cached_balance", user.CreditsBalance),
				zap.Int64("forfeited", forfeited),
			)
			newBalance = 0
		}
		return s.repo.SetBalance(ctx, tx, userID, newBalance)
	})
	if err != nil {
		return 0, 0, err
	}
	return expired, forfeited, nil
}

func (s *Service) Reconcile(ctx context.Context, rawUserID string) (*domain.ReconcileReport, error) {
	userID, err := parseUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}

	sum, err := s.repo.SumRemaining(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	report := &domain.ReconcileReport{
		UserID:         userID.String(),
		CreditsBalance: user.CreditsBalance,
		LedgerSum:      sum,
		Drift:          user.CreditsBalance - sum,
		Consistent:     user.CreditsBalance == sum,
	}
	if !report.Consistent {
		s.log.Error("balance drift detected during reconciliation",
			zap.String("user_id", report.UserID),
			zap.Int64("cached_balance", report.CreditsBalance),
			zap.Int64("ledger_sum", report.LedgerSum),
			zap.Int64("drift", report.Drift),
		)
	}

	return report, nil
}

// expiryFor computes the expiration policy for a new grant. Monthly
// batches last exactly one calendar month, landing on the same
// day-of-month so a renewal never expires on the day it is re-granted.
func expiryFor(sourceType domain.GrantSourceType, grantedAt time.Time) *time.Time {
	if sourceType != domain.SourceTypeMonthly {
		return nil
	}
	expiresAt := grantedAt.AddDate(0, 1, 0)
	return &expiresAt
}

func parseUserID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidUser
	}
	return id, nil
}
