package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/creditledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobExpireGrants = "expire_grants"

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	Clock     clock.Clock
	Config    Config `optional:"true"`
}

// Sweeper periodically retires grants whose expiration has passed.
type Sweeper struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
}

func New(p Params) (*Sweeper, error) {
	if p.Log == nil || p.LedgerSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		log:       p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
	}, nil
}

// RunOnce executes one expiry sweep with the configured deadline.
func (s *Sweeper) RunOnce(parent context.Context) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	sweepMetrics := obsmetrics.Sweeper()
	sweepMetrics.IncJobRun(jobExpireGrants)

	summary, err := s.ledgerSvc.ExpireStaleGrants(ctx, s.clock.Now())
	sweepMetrics.ObserveJobDuration(jobExpireGrants, time.Since(start))

	if summary != nil {
		sweepMetrics.ObserveSweep(
			int64(summary.GrantsExpired),
			summary.CreditsForfeited,
			int64(summary.UsersAffected),
		)
	}
	if err == nil {
		return nil
	}

	// Partial progress is durable; a late deadline is a soft failure the
	// next run resumes from.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		sweepMetrics.IncJobTimeout(jobExpireGrants)
		s.log.Warn("sweep timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	sweepMetrics.IncJobError(jobExpireGrants, "db")
	return fmt.Errorf("%s: %w", jobExpireGrants, err)
}

// RunForever runs sweeps on the configured interval until ctx is done.
func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	sweepMetrics := obsmetrics.Sweeper()

	for {
		// Lag is measured on the injected clock so it stays meaningful
		// under test clocks and host clock skew.
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			sweepMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
