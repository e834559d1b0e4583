package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit-service/internal/biz"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func seed(s *Store) {
	s.PutProfile(&biz.UserCreditProfile{UserID: "u1", DailyLimit: 100})
	s.PutGrant(&biz.CreditGrant{ID: "g1", UserID: "u1", Amount: 50, Remaining: 50, CreatedAt: now})
}

func TestStore_RollbackDiscardsStagedWrites(t *testing.T) {
	s := NewStore()
	seed(s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context) error {
		g, err := s.GetGrant(ctx, "g1")
		require.NoError(t, err)
		g.Remaining = 10
		require.NoError(t, s.UpdateGrantRemaining(ctx, g))
		require.NoError(t, s.IncrDailyUsage(ctx, "u1", "2026-03-10", 40))

		// 事务内可以读到暂存的写入
		staged, err := s.GetGrant(ctx, "g1")
		require.NoError(t, err)
		require.Equal(t, int64(10), staged.Remaining)
		used, err := s.GetDailyUsage(ctx, "u1", "2026-03-10")
		require.NoError(t, err)
		require.Equal(t, int64(40), used)

		// 事务外看不到
		outside, err := s.GetGrant(context.Background(), "g1")
		require.NoError(t, err)
		require.Equal(t, int64(50), outside.Remaining)
		return boom
	})
	require.ErrorIs(t, err, boom)

	g, err := s.GetGrant(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, int64(50), g.Remaining)
	used, err := s.GetDailyUsage(ctx, "u1", "2026-03-10")
	require.NoError(t, err)
	require.Zero(t, used)
}

func TestStore_VersionConflict(t *testing.T) {
	s := NewStore()
	seed(s)
	ctx := context.Background()

	stale, err := s.GetGrant(ctx, "g1")
	require.NoError(t, err)
	fresh, err := s.GetGrant(ctx, "g1")
	require.NoError(t, err)

	fresh.Remaining = 40
	require.NoError(t, s.UpdateGrantRemaining(ctx, fresh))
	require.Equal(t, int64(1), fresh.Version)

	stale.Remaining = 0
	require.ErrorIs(t, s.UpdateGrantRemaining(ctx, stale), biz.ErrGrantVersionConflict)

	// 两个事务基于同一版本修改，后提交的失败
	errCh := make(chan error, 1)
	err = s.InTx(ctx, func(ctx context.Context) error {
		g, err := s.GetGrant(ctx, "g1")
		require.NoError(t, err)
		g.Remaining = 30
		require.NoError(t, s.UpdateGrantRemaining(ctx, g))

		errCh <- s.InTx(context.Background(), func(ctx context.Context) error {
			g, err := s.GetGrant(ctx, "g1")
			require.NoError(t, err)
			g.Remaining = 20
			return s.UpdateGrantRemaining(ctx, g)
		})
		return nil
	})
	require.ErrorIs(t, err, biz.ErrGrantVersionConflict)
	require.NoError(t, <-errCh)

	g, err := s.GetGrant(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, int64(20), g.Remaining)
}

func TestStore_ListQueries(t *testing.T) {
	s := NewStore()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	s.PutGrant(&biz.CreditGrant{ID: "expired", UserID: "u1", Amount: 10, Remaining: 10, ExpiresAt: &past})
	s.PutGrant(&biz.CreditGrant{ID: "valid", UserID: "u1", Amount: 10, Remaining: 10, ExpiresAt: &future})
	s.PutGrant(&biz.CreditGrant{ID: "empty", UserID: "u1", Amount: 10, Remaining: 0, ExpiresAt: &past})
	s.PutGrant(&biz.CreditGrant{ID: "other", UserID: "u2", Amount: 10, Remaining: 5, ExpiresAt: &past})
	ctx := context.Background()

	spendable, err := s.ListSpendableGrants(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, spendable, 1)
	require.Equal(t, "valid", spendable[0].ID)

	expired, err := s.ListExpiredGrants(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, expired, 2)

	limited, err := s.ListExpiredGrants(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	userExpired, err := s.ListUserExpiredGrants(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, userExpired, 1)
	require.Equal(t, "expired", userExpired[0].ID)
}

func TestStore_Profiles(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, p)

	require.NoError(t, s.UpsertProfile(ctx, &biz.UserCreditProfile{UserID: "u1", DailyLimit: 20}))
	marked, err := s.MarkSignupBonusClaimed(ctx, "u1")
	require.NoError(t, err)
	require.True(t, marked)

	marked, err = s.MarkSignupBonusClaimed(ctx, "u1")
	require.NoError(t, err)
	require.False(t, marked)

	require.NoError(t, s.UpsertProfile(ctx, &biz.UserCreditProfile{UserID: "u1", DailyLimit: 70}))
	p, err = s.LockProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(70), p.DailyLimit)
	require.True(t, p.SignupBonusClaimed)
}

func TestStore_DuplicateGrant(t *testing.T) {
	s := NewStore()
	seed(s)
	err := s.CreateGrant(context.Background(), &biz.CreditGrant{ID: "g1", UserID: "u1", Amount: 1, Remaining: 1})
	require.ErrorIs(t, err, ErrDuplicateGrant)
}

func TestStore_FailOn(t *testing.T) {
	s := NewStore()
	disk := errors.New("disk full")
	s.FailOn("GetProfile", disk)

	_, err := s.GetProfile(context.Background(), "u1")
	require.ErrorIs(t, err, disk)

	s.FailOn("GetProfile", nil)
	_, err = s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
}
