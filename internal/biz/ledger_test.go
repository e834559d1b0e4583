package biz_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	errs "credit-service/internal/errors"

	"github.com/stretchr/testify/require"
)

func TestGetValidCredits_ExcludesExpiredAndConsumed(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	l.grant("valid", "u1", 100, day, 30*day)
	consumed := l.grant("consumed", "u1", 50, 2*day, 0)
	consumed.Remaining = 0
	consumedAt := testNow.Add(-time.Hour)
	consumed.ConsumedAt = &consumedAt
	l.store.PutGrant(consumed)
	l.grant("expired", "u1", 200, 60*day, -day)
	l.grant("other-user", "u2", 500, day, 0)

	res, err := l.uc.GetValidCredits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100), res.TotalValid)
	require.Empty(t, res.ExpiringCredits)
}

func TestGetValidCredits_ExpiringWithinHorizon(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	l.grant("in-3d", "u1", 40, day, 3*day)
	l.grant("in-7d", "u1", 10, day, 7*day)
	l.grant("in-10d", "u1", 60, day, 10*day)
	l.grant("never", "u1", 5, day, 0)

	res, err := l.uc.GetValidCredits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(115), res.TotalValid)
	require.Len(t, res.ExpiringCredits, 2)
	require.Equal(t, "in-3d", res.ExpiringCredits[0].GrantID)
	require.Equal(t, int64(40), res.ExpiringCredits[0].Amount)
	require.Equal(t, "in-7d", res.ExpiringCredits[1].GrantID)

	// 部分消耗后报告当前剩余
	_, err = l.uc.ConsumeCredits(context.Background(), "u1", 15)
	require.NoError(t, err)
	res, err = l.uc.GetValidCredits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(25), res.ExpiringCredits[0].Amount)
}

func TestGetValidCredits_CacheTTLBoundedByNextExpiry(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	l.grant("soon", "u1", 10, day, 10*time.Second)

	_, err := l.uc.GetValidCredits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, l.cache.ttls["u1"])

	// 缓存的最早过期时间已到，不再使用缓存
	l.now = l.now.Add(11 * time.Second)
	res, err := l.uc.GetValidCredits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), res.TotalValid)
}

// 读存储之后、回填缓存之前发生消耗：旧结果不能回填到缓存
func TestGetValidCredits_ReadRacingCommitDoesNotCacheStaleBalance(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	l.user("u1", 1000)
	l.grant("a", "u1", 100, day, 0)

	repo := newPausingGrantRepo(l.store)
	reader := l.balanceReader(repo)

	type readResult struct {
		res *biz.BalanceResult
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		res, err := reader.GetValidCredits(ctx, "u1")
		done <- readResult{res, err}
	}()

	<-repo.read
	_, err := l.uc.ConsumeCredits(ctx, "u1", 60)
	require.NoError(t, err)
	close(repo.release)

	stale := <-done
	require.NoError(t, stale.err)
	require.Equal(t, int64(100), stale.res.TotalValid)

	res, err := l.uc.GetValidCredits(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(40), res.TotalValid)
	require.Equal(t, int64(40), l.cache.entries["u1"].TotalValid)
}

func TestGetValidCredits_DatabaseError(t *testing.T) {
	l := newLedger()
	l.store.FailOn("ListSpendableGrants", errors.New("connection reset"))

	_, err := l.uc.GetValidCredits(context.Background(), "u1")
	require.True(t, errs.IsDatabaseError(err))
}

func TestGrantSignupBonus_Idempotent(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	ctx := context.Background()

	res, err := l.uc.GrantSignupBonus(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100), res.Amount)
	require.True(t, res.BonusClaimed)
	require.Nil(t, res.ExpiresAt)

	_, err = l.uc.GrantSignupBonus(ctx, "u1")
	require.True(t, errs.IsBonusAlreadyClaimed(err))

	grants, total, err := l.uc.ListGrants(ctx, "u1", 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, biz.GrantTypeBonus, grants[0].Type)

	p, err := l.store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, p.SignupBonusClaimed)
}

func TestGrantSignupBonus_Concurrent(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)

	var wg sync.WaitGroup
	errsCh := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.uc.GrantSignupBonus(context.Background(), "u1")
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	var ok, claimed int
	for err := range errsCh {
		if err == nil {
			ok++
		} else if errs.IsBonusAlreadyClaimed(err) {
			claimed++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 9, claimed)

	balance, err := l.uc.GetValidCredits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.TotalValid)
}

func TestGrantSignupBonus_FlagAndGrantCommitTogether(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	ctx := context.Background()

	l.store.FailOn("CreateGrant", errors.New("disk full"))
	_, err := l.uc.GrantSignupBonus(ctx, "u1")
	require.True(t, errs.IsDatabaseError(err))

	p, err := l.store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.False(t, p.SignupBonusClaimed)

	l.store.FailOn("CreateGrant", nil)
	_, err = l.uc.GrantSignupBonus(ctx, "u1")
	require.NoError(t, err)
}

func TestGrantSignupBonus_ConfiguredExpiry(t *testing.T) {
	l := newLedger(func(c *biz.CreditConfig) {
		c.SignupBonusAmount = 30
		c.SignupBonusExpiresIn = 30 * day
	})
	l.user("u1", 100)

	res, err := l.uc.GrantSignupBonus(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(30), res.Amount)
	require.NotNil(t, res.ExpiresAt)
	require.True(t, res.ExpiresAt.Equal(testNow.Add(30*day)))
}

func TestGrantSignupBonus_UserNotFound(t *testing.T) {
	l := newLedger()
	_, err := l.uc.GrantSignupBonus(context.Background(), "ghost")
	require.True(t, errs.IsUserNotFound(err))
}

func TestCleanupExpiredCredits(t *testing.T) {
	l := newLedger(func(c *biz.CreditConfig) { c.ReaperBatchSize = 1 })
	l.user("u1", 100)
	l.user("u2", 100)
	l.grant("u1-expired", "u1", 100, 40*day, -day)
	partial := l.grant("u2-expired", "u2", 50, 40*day, -time.Hour)
	partial.Remaining = 30
	l.store.PutGrant(partial)
	l.grant("u1-valid", "u1", 20, day, day)
	ctx := context.Background()

	expired, err := l.uc.GetExpiredCredits(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 2)

	res, err := l.uc.CleanupExpiredCredits(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.CleanedCount)
	require.Equal(t, int64(130), res.FreedSpace)

	for _, id := range []string{"u1-expired", "u2-expired"} {
		g := l.get(id)
		require.Equal(t, int64(0), g.Remaining)
		require.NotNil(t, g.ConsumedAt)
		require.True(t, g.ConsumedAt.Equal(testNow))
	}
	require.Equal(t, int64(20), l.get("u1-valid").Remaining)

	res, err = l.uc.CleanupExpiredCredits(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.CleanedCount)
	require.Equal(t, int64(0), res.FreedSpace)

	expired, err = l.uc.GetExpiredCredits(ctx)
	require.NoError(t, err)
	require.Empty(t, expired)

	require.ElementsMatch(t, []string{constants.LedgerEventExpired, constants.LedgerEventExpired}, l.publisher.types())
}

func TestCleanupExpiredCredits_ConcurrentWithConsume(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		l := newLedger()
		l.user("u1", 1000)
		l.grant("exp", "u1", 100, 40*day, -time.Hour)
		l.grant("ok", "u1", 50, day, 30*day)

		start := make(chan struct{})
		var wg sync.WaitGroup
		var consumeErr, reapErr error
		var cleaned *biz.CleanupResult
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, consumeErr = l.uc.ConsumeCredits(ctx, "u1", 30)
		}()
		go func() {
			defer wg.Done()
			<-start
			cleaned, reapErr = l.uc.CleanupExpiredCredits(ctx)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, consumeErr)
		require.NoError(t, reapErr)
		require.Equal(t, int64(1), cleaned.CleanedCount)
		require.Equal(t, int64(100), cleaned.FreedSpace)
		require.Equal(t, int64(0), l.get("exp").Remaining)
		require.Equal(t, int64(20), l.get("ok").Remaining)
		require.Equal(t, int64(30), l.usage("u1"))
	}
}

// 并发消耗期间，单个读者看到的余额只减不增，且每次都是完整提交后的快照
func TestGetValidCredits_SnapshotsDuringConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	l.user("u1", 1000)
	l.grant("a", "u1", 60, 2*day, 5*day)
	l.grant("b", "u1", 40, day, 0)

	stop := make(chan struct{})
	observed := make(chan []int64, 1)
	go func() {
		var totals []int64
		for {
			select {
			case <-stop:
				observed <- totals
				return
			default:
			}
			res, err := l.uc.GetValidCredits(ctx, "u1")
			if err == nil {
				totals = append(totals, res.TotalValid)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.uc.ConsumeCredits(ctx, "u1", 10)
		}()
	}
	wg.Wait()
	close(stop)
	totals := <-observed

	prev := int64(100)
	for _, total := range totals {
		require.LessOrEqual(t, total, prev)
		require.Zero(t, (100-total)%10, "partial consumption observed: %d", total)
		prev = total
	}

	res, err := l.uc.GetValidCredits(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), res.TotalValid)
}

func TestCleanupExpiredCredits_DoesNotTouchFullyConsumed(t *testing.T) {
	l := newLedger()
	g := l.grant("spent", "u1", 50, 40*day, -day)
	g.Remaining = 0
	at := testNow.Add(-2 * day)
	g.ConsumedAt = &at
	l.store.PutGrant(g)

	res, err := l.uc.CleanupExpiredCredits(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), res.CleanedCount)
	require.True(t, l.get("spent").ConsumedAt.Equal(at))
}

func TestCleanupExpiredCredits_DatabaseError(t *testing.T) {
	l := newLedger()
	l.grant("expired", "u1", 100, 40*day, -day)
	l.store.FailOn("UpdateGrantRemaining", errors.New("lock wait timeout"))

	_, err := l.uc.CleanupExpiredCredits(context.Background())
	require.True(t, errs.IsDatabaseError(err))
	require.Equal(t, int64(100), l.get("expired").Remaining)
}

func TestAddCredits(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	ctx := context.Background()
	expiresAt := testNow.Add(30 * day)

	res, err := l.uc.AddCredits(ctx, &biz.AddCreditsRequest{
		UserID:      "u1",
		Amount:      250,
		Type:        biz.GrantTypePurchase,
		Description: "pack of 250",
		ExpiresAt:   &expiresAt,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.GrantID)
	require.Equal(t, int64(250), res.Amount)
	require.True(t, res.ExpiresAt.Equal(expiresAt))

	g := l.get(res.GrantID)
	require.Equal(t, int64(250), g.Remaining)
	require.Equal(t, "pack of 250", g.Description)
	require.Equal(t, []string{constants.LedgerEventGranted}, l.publisher.types())
}

func TestAddCredits_GrantTypeNormalized(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	ctx := context.Background()

	res, err := l.uc.AddCredits(ctx, &biz.AddCreditsRequest{UserID: "u1", Amount: 10, Type: " Purchase "})
	require.NoError(t, err)
	require.Equal(t, biz.GrantTypePurchase, res.Type)
	require.Equal(t, biz.GrantTypePurchase, l.get(res.GrantID).Type)

	res, err = l.uc.AddCredits(ctx, &biz.AddCreditsRequest{UserID: "u1", Amount: 10, Type: "REFERRAL"})
	require.NoError(t, err)
	require.Equal(t, biz.GrantTypeReferral, l.get(res.GrantID).Type)

	res, err = l.uc.AddCredits(ctx, &biz.AddCreditsRequest{UserID: "u1", Amount: 10})
	require.NoError(t, err)
	require.Equal(t, biz.GrantTypeOther, l.get(res.GrantID).Type)
}

func TestAddCredits_IdempotentByGrantID(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	ctx := context.Background()
	id := biz.GrantIDFromRequest("order-42")
	req := func() *biz.AddCreditsRequest {
		return &biz.AddCreditsRequest{GrantID: id, UserID: "u1", Amount: 100, Type: biz.GrantTypeReferral}
	}

	first, err := l.uc.AddCredits(ctx, req())
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := l.uc.AddCredits(ctx, req())
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.GrantID, second.GrantID)

	balance, err := l.uc.GetValidCredits(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.TotalValid)
}

func TestAddCredits_Validation(t *testing.T) {
	l := newLedger()
	l.user("u1", 100)
	past := testNow.Add(-time.Minute)

	tests := []struct {
		name   string
		req    *biz.AddCreditsRequest
		reason string
	}{
		{"unknown user", &biz.AddCreditsRequest{UserID: "ghost", Amount: 10}, errs.ReasonUserNotFound},
		{"zero amount", &biz.AddCreditsRequest{UserID: "u1"}, errs.ReasonInvalidArgument},
		{"bad type", &biz.AddCreditsRequest{UserID: "u1", Amount: 10, Type: "gift"}, errs.ReasonInvalidArgument},
		{"expiry in past", &biz.AddCreditsRequest{UserID: "u1", Amount: 10, ExpiresAt: &past}, errs.ReasonInvalidArgument},
		{"missing user", &biz.AddCreditsRequest{Amount: 10}, errs.ReasonInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.uc.AddCredits(context.Background(), tt.req)
			require.Equal(t, tt.reason, errs.Reason(err))
		})
	}
}

func TestAdjustCredits(t *testing.T) {
	l := newLedger()
	l.user("u1", 10)
	ctx := context.Background()

	res, err := l.uc.AdjustCredits(ctx, "u1", 50, "support credit")
	require.NoError(t, err)
	require.NotEmpty(t, res.GrantID)
	require.Equal(t, biz.GrantTypeAdminAdjustment, l.get(res.GrantID).Type)

	// 扣减不受每日上限约束，也不计入当日消耗
	res, err = l.uc.AdjustCredits(ctx, "u1", -30, "refund reversal")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	require.Equal(t, int64(30), res.Transactions[0].AmountUsed)
	require.Equal(t, int64(0), l.usage("u1"))

	_, err = l.uc.AdjustCredits(ctx, "u1", -100, "too much")
	require.True(t, errs.IsInsufficientCredits(err))

	_, err = l.uc.AdjustCredits(ctx, "u1", 0, "noop")
	require.Equal(t, errs.ReasonInvalidArgument, errs.Reason(err))

	balance, err := l.uc.GetValidCredits(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.TotalValid)
}

func TestListDailyUsage(t *testing.T) {
	l := newLedger()
	l.store.PutDailyUsage("u1", "2026-03-08", 40)
	l.store.PutDailyUsage("u1", "2026-03-10", 15)
	l.store.PutDailyUsage("u1", "2026-03-01", 99)

	usage, err := l.uc.ListDailyUsage(context.Background(), "u1", 3)
	require.NoError(t, err)
	require.Len(t, usage, 3)
	require.Equal(t, "2026-03-08", usage[0].UsageDate)
	require.Equal(t, int64(40), usage[0].CreditsConsumed)
	require.Equal(t, int64(0), usage[1].CreditsConsumed)
	require.Equal(t, int64(15), usage[2].CreditsConsumed)

	_, err = l.uc.ListDailyUsage(context.Background(), "u1", 0)
	require.Equal(t, errs.ReasonInvalidArgument, errs.Reason(err))
	_, err = l.uc.ListDailyUsage(context.Background(), "u1", 91)
	require.Equal(t, errs.ReasonInvalidArgument, errs.Reason(err))
}

func TestUpsertProfile_KeepsBonusFlag(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	p, err := l.uc.UpsertProfile(ctx, "u1", 0)
	require.NoError(t, err)
	require.Equal(t, l.conf.DefaultDailyLimit, p.DailyLimit)

	_, err = l.uc.GrantSignupBonus(ctx, "u1")
	require.NoError(t, err)

	p, err = l.uc.UpsertProfile(ctx, "u1", 300)
	require.NoError(t, err)
	require.Equal(t, int64(300), p.DailyLimit)
	require.True(t, p.SignupBonusClaimed)

	_, err = l.uc.UpsertProfile(ctx, " ", 10)
	require.Equal(t, errs.ReasonInvalidArgument, errs.Reason(err))
}

func TestListGrants_Pagination(t *testing.T) {
	l := newLedger()
	for i, id := range []string{"g1", "g2", "g3"} {
		l.grant(id, "u1", 10, time.Duration(3-i)*time.Hour, 0)
	}

	grants, total, err := l.uc.ListGrants(context.Background(), "u1", 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, "g3", grants[0].ID)
	require.Equal(t, "g2", grants[1].ID)

	grants, _, err = l.uc.ListGrants(context.Background(), "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, "g1", grants[0].ID)
}
