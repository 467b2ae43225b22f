package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/creditledger/internal/ledger/repository"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	usagerepo "github.com/smallbiznis/creditledger/internal/usage/repository"
	userdomain "github.com/smallbiznis/creditledger/internal/user/domain"
	userrepo "github.com/smallbiznis/creditledger/internal/user/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestGrantMonthlySetsExpiry(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 0)

	resp, err := svc.Grant(context.Background(), domain.GrantRequest{
		UserID:     userID.String(),
		Amount:     100,
		SourceType: domain.SourceTypeMonthly,
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if resp.CreditsBalance != 100 {
		t.Fatalf("expected balance 100, got %d", resp.CreditsBalance)
	}

	grant := singleGrant(t, db, userID)
	if grant.ExpiresAt == nil {
		t.Fatalf("expected monthly grant to carry an expiry")
	}
	want := fake.Now().AddDate(0, 1, 0)
	if !grant.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, grant.ExpiresAt)
	}
	if grant.RemainingAmount != grant.Amount {
		t.Fatalf("expected remaining == amount on a fresh grant")
	}
}

func TestGrantPurchasedNeverExpires(t *testing.T) {
	svc, db, _ := setupLedgerService(t)
	userID := seedUser(t, db, 0)

	if _, err := svc.Grant(context.Background(), domain.GrantRequest{
		UserID:     userID.String(),
		Amount:     250,
		SourceType: domain.SourceTypePurchased,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	grant := singleGrant(t, db, userID)
	if grant.ExpiresAt != nil {
		t.Fatalf("expected purchased grant without expiry, got %v", grant.ExpiresAt)
	}
}

func TestGrantValidation(t *testing.T) {
	svc, db, _ := setupLedgerService(t)
	userID := seedUser(t, db, 0)

	cases := []struct {
		name string
		req  domain.GrantRequest
		want error
	}{
		{
			name: "zero amount",
			req:  domain.GrantRequest{UserID: userID.String(), Amount: 0, SourceType: domain.SourceTypeMonthly},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "negative amount",
			req:  domain.GrantRequest{UserID: userID.String(), Amount: -5, SourceType: domain.SourceTypeMonthly},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "bad source type",
			req:  domain.GrantRequest{UserID: userID.String(), Amount: 10, SourceType: "bonus"},
			want: domain.ErrInvalidSourceType,
		},
		{
			name: "bad user id",
			req:  domain.GrantRequest{UserID: "not-a-number", Amount: 10, SourceType: domain.SourceTypeMonthly},
			want: domain.ErrInvalidUser,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Grant(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	unknown := snowflake.ID(987654321)
	if _, err := svc.Grant(context.Background(), domain.GrantRequest{
		UserID:     unknown.String(),
		Amount:     10,
		SourceType: domain.SourceTypeMonthly,
	}); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user_not_found, got %v", err)
	}
}

func TestConsumeSpendsExpiringFirst(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 150)
	now := fake.Now()

	purchased := seedGrant(t, db, userID, 100, 100, domain.SourceTypePurchased, nil, now.Add(-3*time.Hour))
	soon := seedGrant(t, db, userID, 30, 30, domain.SourceTypeMonthly, ptrTime(now.Add(5*24*time.Hour)), now.Add(-2*time.Hour))
	later := seedGrant(t, db, userID, 20, 20, domain.SourceTypeMonthly, ptrTime(now.Add(20*24*time.Hour)), now.Add(-1*time.Hour))

	resp, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    40,
		Feature: "image_generation",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if resp.CreditsBalance != 110 {
		t.Fatalf("expected balance 110, got %d", resp.CreditsBalance)
	}

	if got := grantRemaining(t, db, soon); got != 0 {
		t.Fatalf("expected soonest-expiring grant drained, got %d", got)
	}
	if got := grantRemaining(t, db, later); got != 10 {
		t.Fatalf("expected 10 left on later grant, got %d", got)
	}
	if got := grantRemaining(t, db, purchased); got != 100 {
		t.Fatalf("expected purchased grant untouched, got %d", got)
	}
}

func TestConsumeMonthlyBeforePurchased(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 80)
	now := fake.Now()

	// The purchased grant expires sooner, but monthly credits still go first.
	purchased := seedGrant(t, db, userID, 50, 50, domain.SourceTypePurchased, ptrTime(now.Add(24*time.Hour)), now.Add(-2*time.Hour))
	monthly := seedGrant(t, db, userID, 30, 30, domain.SourceTypeMonthly, ptrTime(now.Add(48*time.Hour)), now.Add(-1*time.Hour))

	if _, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    40,
		Feature: "chat",
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if got := grantRemaining(t, db, monthly); got != 0 {
		t.Fatalf("expected monthly grant drained first, got %d", got)
	}
	if got := grantRemaining(t, db, purchased); got != 40 {
		t.Fatalf("expected 40 left on purchased grant, got %d", got)
	}
}

func TestConsumeFIFOWithinTie(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 20)
	now := fake.Now()

	older := seedGrant(t, db, userID, 10, 10, domain.SourceTypePurchased, nil, now.Add(-2*time.Hour))
	newer := seedGrant(t, db, userID, 10, 10, domain.SourceTypePurchased, nil, now.Add(-1*time.Hour))

	if _, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    5,
		Feature: "chat",
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if got := grantRemaining(t, db, older); got != 5 {
		t.Fatalf("expected oldest grant debited, got %d", got)
	}
	if got := grantRemaining(t, db, newer); got != 10 {
		t.Fatalf("expected newer grant untouched, got %d", got)
	}
}

func TestConsumeInsufficientCredits(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 5)
	grant := seedGrant(t, db, userID, 5, 5, domain.SourceTypePurchased, nil, fake.Now())

	_, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    6,
		Feature: "chat",
	})
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient_credits, got %v", err)
	}

	if got := userBalance(t, db, userID); got != 5 {
		t.Fatalf("expected balance untouched, got %d", got)
	}
	if got := grantRemaining(t, db, grant); got != 5 {
		t.Fatalf("expected grant untouched, got %d", got)
	}
	if got := countUsageRecords(t, db, userID); got != 0 {
		t.Fatalf("expected no usage record on rejection, got %d", got)
	}
}

func TestConsumeExactBalance(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 5)
	seedGrant(t, db, userID, 5, 5, domain.SourceTypePurchased, nil, fake.Now())

	resp, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    5,
		Feature: "chat",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if resp.CreditsBalance != 0 {
		t.Fatalf("expected balance 0, got %d", resp.CreditsBalance)
	}
}

func TestConsumeZeroCostIsNoOp(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 50)
	grant := seedGrant(t, db, userID, 50, 50, domain.SourceTypeMonthly, nil, fake.Now())

	resp, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    0,
		Feature: "free_tier",
	})
	if err != nil {
		t.Fatalf("consume zero cost: %v", err)
	}
	if resp.CreditsBalance != 50 {
		t.Fatalf("expected balance 50, got %d", resp.CreditsBalance)
	}
	if got := grantRemaining(t, db, grant); got != 50 {
		t.Fatalf("expected grant untouched, got %d", got)
	}
	if got := countUsageRecords(t, db, userID); got != 0 {
		t.Fatalf("expected no usage record for zero cost, got %d", got)
	}
}

func TestConsumeRequiresFeature(t *testing.T) {
	svc, db, _ := setupLedgerService(t)
	userID := seedUser(t, db, 50)

	if _, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    1,
		Feature: "  ",
	}); !errors.Is(err, domain.ErrInvalidFeature) {
		t.Fatalf("expected invalid_feature, got %v", err)
	}
}

func TestConsumeWritesUsageRecord(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 100)
	seedGrant(t, db, userID, 100, 100, domain.SourceTypePurchased, nil, fake.Now())

	if _, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:   userID.String(),
		Cost:     7,
		Feature:  "embedding",
		Metadata: map[string]any{"model": "small"},
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	var record usagedomain.UsageRecord
	if err := db.Where("user_id = ?", userID).First(&record).Error; err != nil {
		t.Fatalf("load usage record: %v", err)
	}
	if record.Feature != "embedding" {
		t.Fatalf("expected feature embedding, got %s", record.Feature)
	}
	if record.CreditsSpent != 7 {
		t.Fatalf("expected credits_spent 7, got %d", record.CreditsSpent)
	}
}

func TestConsumeLedgerDesyncRollsBack(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	// Cached balance promises 100 but grants only hold 10.
	userID := seedUser(t, db, 100)
	grant := seedGrant(t, db, userID, 10, 10, domain.SourceTypePurchased, nil, fake.Now())

	_, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    40,
		Feature: "chat",
	})
	if !errors.Is(err, domain.ErrLedgerDesync) {
		t.Fatalf("expected ledger_desync, got %v", err)
	}

	if got := userBalance(t, db, userID); got != 100 {
		t.Fatalf("expected balance untouched after rollback, got %d", got)
	}
	if got := grantRemaining(t, db, grant); got != 10 {
		t.Fatalf("expected grant untouched after rollback, got %d", got)
	}
	if got := countUsageRecords(t, db, userID); got != 0 {
		t.Fatalf("expected no usage record after rollback, got %d", got)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 5)
	seedGrant(t, db, userID, 5, 5, domain.SourceTypePurchased, nil, fake.Now())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(context.Background(), domain.ConsumeRequest{
				UserID:  userID.String(),
				Cost:    5,
				Feature: "chat",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, rejections int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInsufficientCredits):
			rejections++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if wins != 1 || rejections != 1 {
		t.Fatalf("expected exactly one winner, got %d wins %d rejections", wins, rejections)
	}
	if got := userBalance(t, db, userID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
	if got := countUsageRecords(t, db, userID); got != 1 {
		t.Fatalf("expected exactly one usage record, got %d", got)
	}
}

func TestExpireStaleGrants(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 70)
	now := fake.Now()

	stale := seedGrant(t, db, userID, 50, 40, domain.SourceTypeMonthly, ptrTime(now.Add(-time.Hour)), now.Add(-48*time.Hour))
	drained := seedGrant(t, db, userID, 20, 0, domain.SourceTypeMonthly, ptrTime(now.Add(-time.Hour)), now.Add(-48*time.Hour))
	atBoundary := seedGrant(t, db, userID, 30, 30, domain.SourceTypeMonthly, ptrTime(now), now.Add(-24*time.Hour))

	summary, err := svc.ExpireStaleGrants(context.Background(), now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if summary.GrantsExpired != 1 {
		t.Fatalf("expected 1 grant expired, got %d", summary.GrantsExpired)
	}
	if summary.CreditsForfeited != 40 {
		t.Fatalf("expected 40 credits forfeited, got %d", summary.CreditsForfeited)
	}
	if summary.UsersAffected != 1 {
		t.Fatalf("expected 1 user affected, got %d", summary.UsersAffected)
	}

	if got := grantRemaining(t, db, stale); got != 0 {
		t.Fatalf("expected stale grant zeroed, got %d", got)
	}
	if got := grantRemaining(t, db, drained); got != 0 {
		t.Fatalf("expected drained grant left at zero, got %d", got)
	}
	// Deadline boundary: a grant expiring exactly now is still live.
	if got := grantRemaining(t, db, atBoundary); got != 30 {
		t.Fatalf("expected boundary grant untouched, got %d", got)
	}
	if got := userBalance(t, db, userID); got != 30 {
		t.Fatalf("expected balance 30 after forfeiture, got %d", got)
	}

	// Re-running the sweep must be a no-op.
	again, err := svc.ExpireStaleGrants(context.Background(), now)
	if err != nil {
		t.Fatalf("expire again: %v", err)
	}
	if again.GrantsExpired != 0 || again.CreditsForfeited != 0 {
		t.Fatalf("expected idempotent sweep, got %+v", again)
	}
	if got := userBalance(t, db, userID); got != 30 {
		t.Fatalf("expected balance unchanged on re-run, got %d", got)
	}
}

func TestExpireStaleGrantsDrainsBacklogBeyondOneBatch(t *testing.T) {
	svc, db, fake := setupLedgerServiceWithBatch(t, 1)
	now := fake.Now()

	users := make([]snowflake.ID, 0, 3)
	for i := 0; i < 3; i++ {
		userID := seedUser(t, db, 25)
		seedGrant(t, db, userID, 25, 25, domain.SourceTypeMonthly, ptrTime(now.Add(-time.Hour)), now.Add(-48*time.Hour))
		users = append(users, userID)
	}

	summary, err := svc.ExpireStaleGrants(context.Background(), now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if summary.UsersAffected != 3 {
		t.Fatalf("expected all 3 users swept in one call, got %d", summary.UsersAffected)
	}
	if summary.CreditsForfeited != 75 {
		t.Fatalf("expected 75 credits forfeited, got %d", summary.CreditsForfeited)
	}
	for _, userID := range users {
		if got := userBalance(t, db, userID); got != 0 {
			t.Fatalf("expected user %d balance 0 after sweep, got %d", userID, got)
		}
	}
}

func TestExpireFloorsBalanceAtZero(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	now := fake.Now()
	// Drifted state: cached balance is below what the grants still hold.
	userID := seedUser(t, db, 10)
	seedGrant(t, db, userID, 50, 50, domain.SourceTypeMonthly, ptrTime(now.Add(-time.Hour)), now.Add(-48*time.Hour))

	if _, err := svc.ExpireStaleGrants(context.Background(), now); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got := userBalance(t, db, userID); got != 0 {
		t.Fatalf("expected balance floored at 0, got %d", got)
	}
}

func TestReconcile(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 30)
	seedGrant(t, db, userID, 30, 30, domain.SourceTypeMonthly, nil, fake.Now())

	report, err := svc.Reconcile(context.Background(), userID.String())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Consistent || report.Drift != 0 {
		t.Fatalf("expected consistent report, got %+v", report)
	}

	if err := db.Exec(`UPDATE users SET credits_balance = 45 WHERE id = ?`, userID).Error; err != nil {
		t.Fatalf("inject drift: %v", err)
	}
	report, err = svc.Reconcile(context.Background(), userID.String())
	if err != nil {
		t.Fatalf("reconcile drifted: %v", err)
	}
	if report.Consistent {
		t.Fatalf("expected drift to be reported")
	}
	if report.Drift != 15 {
		t.Fatalf("expected drift 15, got %d", report.Drift)
	}
	if report.LedgerSum != 30 {
		t.Fatalf("expected ledger sum 30, got %d", report.LedgerSum)
	}
}

func TestMonthlyLifecycleScenario(t *testing.T) {
	svc, db, fake := setupLedgerService(t)
	userID := seedUser(t, db, 0)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, domain.GrantRequest{
		UserID:     userID.String(),
		Amount:     100,
		SourceType: domain.SourceTypeMonthly,
	}); err != nil {
		t.Fatalf("grant monthly: %v", err)
	}

	resp, err := svc.Consume(ctx, domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    30,
		Feature: "chat",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if resp.CreditsBalance != 70 {
		t.Fatalf("expected balance 70, got %d", resp.CreditsBalance)
	}

	// Past the one month expiry the leftover 70 is forfeited.
	fake.Advance(32 * 24 * time.Hour)
	summary, err := svc.ExpireStaleGrants(ctx, fake.Now())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if summary.CreditsForfeited != 70 {
		t.Fatalf("expected 70 forfeited, got %d", summary.CreditsForfeited)
	}
	if got := userBalance(t, db, userID); got != 0 {
		t.Fatalf("expected balance 0 after expiry, got %d", got)
	}

	if _, err := svc.Grant(ctx, domain.GrantRequest{
		UserID:     userID.String(),
		Amount:     50,
		SourceType: domain.SourceTypePurchased,
	}); err != nil {
		t.Fatalf("grant purchased: %v", err)
	}
	if _, err := svc.Consume(ctx, domain.ConsumeRequest{
		UserID:  userID.String(),
		Cost:    60,
		Feature: "chat",
	}); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient_credits, got %v", err)
	}
	if got := userBalance(t, db, userID); got != 50 {
		t.Fatalf("expected balance 50, got %d", got)
	}
}

func setupLedgerService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	return setupLedgerServiceWithBatch(t, 200)
}

func setupLedgerServiceWithBatch(t *testing.T, batchSize int) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error

	if err := db.AutoMigrate(
		&userdomain.User{},
		&domain.CreditGrant{},
		&usagedomain.UsageRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     mustNode(t),
		Clock:     fake,
		Config:    config.Config{SweepBatchSize: batchSize},
		Repo:      ledgerrepo.Provide(),
		Users:     userrepo.Provide(),
		UsageRepo: usagerepo.Provide(),
	})

	return svc, db, fake
}

func seedUser(t *testing.T, db *gorm.DB, balance int64) snowflake.ID {
	t.Helper()
	id := mustNode(t).Generate()
	if err := db.Exec(
		`INSERT INTO users (id, email, name, credits_balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, fmt.Sprintf("%s@example.com", id), "Test User", balance,
		time.Now().UTC(), time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedGrant(
	t *testing.T,
	db *gorm.DB,
	userID snowflake.ID,
	amount, remaining int64,
	sourceType domain.GrantSourceType,
	expiresAt *time.Time,
	createdAt time.Time,
) snowflake.ID {
	t.Helper()
	id := mustNode(t).Generate()
	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC()
	}
	if err := db.Exec(
		`INSERT INTO credit_grants (id, user_id, amount, remaining_amount, source_type, description, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		id, userID, amount, remaining, string(sourceType), expires, createdAt.UTC(),
	).Error; err != nil {
		t.Fatalf("seed grant: %v", err)
	}
	return id
}

func singleGrant(t *testing.T, db *gorm.DB, userID snowflake.ID) domain.CreditGrant {
	t.Helper()
	var grants []domain.CreditGrant
	if err := db.Where("user_id = ?", userID).Find(&grants).Error; err != nil {
		t.Fatalf("load grants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected exactly one grant, got %d", len(grants))
	}
	return grants[0]
}

func grantRemaining(t *testing.T, db *gorm.DB, grantID snowflake.ID) int64 {
	t.Helper()
	var remaining int64
	if err := db.Raw(`SELECT remaining_amount FROM credit_grants WHERE id = ?`, grantID).Scan(&remaining).Error; err != nil {
		t.Fatalf("load grant remaining: %v", err)
	}
	return remaining
}

func userBalance(t *testing.T, db *gorm.DB, userID snowflake.ID) int64 {
	t.Helper()
	var balance int64
	if err := db.Raw(`SELECT credits_balance FROM users WHERE id = ?`, userID).Scan(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	return balance
}

func countUsageRecords(t *testing.T, db *gorm.DB, userID snowflake.ID) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM usage_records WHERE user_id = ?`, userID).Scan(&count).Error; err != nil {
		t.Fatalf("count usage records: %v", err)
	}
	return count
}

var (
	nodeOnce   sync.Once
	sharedNode *snowflake.Node
	nodeErr    error
)

// mustNode returns a process-wide shared node: fresh nodes restart their
// sequence at 0, so IDs generated by separate nodes in the same millisecond
// collide.
func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	nodeOnce.Do(func() {
		sharedNode, nodeErr = snowflake.NewNode(1)
	})
	if nodeErr != nil {
		t.Fatalf("new node: %v", nodeErr)
	}
	return sharedNode
}

func ptrTime(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
