package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	errs "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// CleanupResult 过期回收结果
type CleanupResult struct {
	CleanedCount int64 `json:"cleanedCount"` // 回收的积分记录数
	FreedSpace   int64 `json:"freedSpace"`   // 回收的积分总数
}

// ExpiryUseCase 过期积分回收
type ExpiryUseCase struct {
	grants   GrantRepo
	tx       Transaction
	locker   UserLocker
	clock    Clock
	conf     *CreditConfig
	notifier *LedgerNotifier
	log      *log.Helper
	metrics  *metrics.CreditMetrics
}

// NewExpiryUseCase 创建过期回收 UseCase
func NewExpiryUseCase(
	grants GrantRepo,
	tx Transaction,
	locker UserLocker,
	clock Clock,
	conf *CreditConfig,
	notifier *LedgerNotifier,
	logger log.Logger,
) *ExpiryUseCase {
	return &ExpiryUseCase{
		grants:   grants,
		tx:       tx,
		locker:   locker,
		clock:    clock,
		conf:     conf,
		notifier: notifier,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// CleanupExpiredCredits 将 expiresAt <= now 且有剩余的积分清零并写入 consumedAt
// 按批扫描，按用户加锁逐个提交；出错时立即返回 DATABASE_ERROR，已提交的用户不回滚
func (uc *ExpiryUseCase) CleanupExpiredCredits(ctx context.Context) (*CleanupResult, error) {
	startTime := time.Now()
	now := uc.clock.Now()
	result := &CleanupResult{}

	defer func() {
		if uc.metrics != nil {
			uc.metrics.ReaperRunDuration.Observe(time.Since(startTime).Seconds())
			uc.metrics.ReaperCleanedTotal.Add(float64(result.CleanedCount))
			uc.metrics.ReaperFreedCredits.Add(float64(result.FreedSpace))
		}
	}()

	for {
		batch, err := uc.grants.ListExpiredGrants(ctx, now, uc.conf.ReaperBatchSize)
		if err != nil {
			uc.log.Errorf("CleanupExpiredCredits failed to list expired grants: error=%v", err)
			return nil, errs.DatabaseError(err)
		}
		if len(batch) == 0 {
			break
		}

		var batchCleaned int64
		for _, userID := range distinctUsers(batch) {
			cleaned, freed, err := uc.reapUser(ctx, userID, now)
			if err != nil {
				uc.log.Errorf("CleanupExpiredCredits failed: user_id=%s, cleaned_so_far=%d, error=%v", userID, result.CleanedCount, err)
				return nil, errs.DatabaseError(err)
			}
			result.CleanedCount += cleaned
			result.FreedSpace += freed
			batchCleaned += cleaned
		}

		// 本批没有回收任何记录或不足一批时结束
		if batchCleaned == 0 || uc.conf.ReaperBatchSize <= 0 || len(batch) < uc.conf.ReaperBatchSize {
			break
		}
	}

	uc.log.Infof("Expired credits cleaned: cleaned_count=%d, freed_space=%d", result.CleanedCount, result.FreedSpace)
	return result, nil
}

// reapUser 在用户锁和事务内回收单个用户的过期积分
func (uc *ExpiryUseCase) reapUser(ctx context.Context, userID string, now time.Time) (int64, int64, error) {
	unlock, err := uc.locker.Lock(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	var reaped []*LedgerEvent
	var freed int64
	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		reaped, freed = nil, 0
		grants, err := uc.grants.ListUserExpiredGrants(ctx, userID, now)
		if err != nil {
			return err
		}
		for _, g := range grants {
			if !g.IsExpired(now) || g.Remaining <= 0 {
				continue
			}
			left := g.Remaining
			g.debit(left, now)
			if err := uc.grants.UpdateGrantRemaining(ctx, g); err != nil {
				return err
			}
			reaped = append(reaped, &LedgerEvent{
				Type:       constants.LedgerEventExpired,
				UserID:     userID,
				Amount:     left,
				GrantID:    g.ID,
				GrantType:  g.Type,
				OccurredAt: now,
			})
			freed += left
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if len(reaped) == 0 {
		return 0, 0, nil
	}

	uc.notifier.Committed(ctx, userID, reaped...)
	return int64(len(reaped)), freed, nil
}

// GetExpiredCredits 返回已过期但尚未回收的积分
func (uc *ExpiryUseCase) GetExpiredCredits(ctx context.Context) ([]*CreditGrant, error) {
	grants, err := uc.grants.ListExpiredGrants(ctx, uc.clock.Now(), 0)
	if err != nil {
		uc.log.Errorf("GetExpiredCredits failed: error=%v", err)
		return nil, errs.DatabaseError(err)
	}
	return grants, nil
}

func distinctUsers(grants []*CreditGrant) []string {
	seen := make(map[string]struct{}, len(grants))
	users := make([]string, 0, len(grants))
	for _, g := range grants {
		if _, ok := seen[g.UserID]; ok {
			continue
		}
		seen[g.UserID] = struct{}{}
		users = append(users, g.UserID)
	}
	return users
}
