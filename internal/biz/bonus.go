package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	errs "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// BonusResult 注册奖励发放结果
type BonusResult struct {
	Amount       int64
	BonusClaimed bool
	GrantID      string
	ExpiresAt    *time.Time
}

// BonusUseCase 注册奖励（每个用户仅一次）
type BonusUseCase struct {
	grants   GrantRepo
	profiles ProfileRepo
	tx       Transaction
	locker   UserLocker
	clock    Clock
	conf     *CreditConfig
	notifier *LedgerNotifier
	log      *log.Helper
	metrics  *metrics.CreditMetrics
}

// NewBonusUseCase 创建注册奖励 UseCase
func NewBonusUseCase(
	grants GrantRepo,
	profiles ProfileRepo,
	tx Transaction,
	locker UserLocker,
	clock Clock,
	conf *CreditConfig,
	notifier *LedgerNotifier,
	logger log.Logger,
) *BonusUseCase {
	return &BonusUseCase{
		grants:   grants,
		profiles: profiles,
		tx:       tx,
		locker:   locker,
		clock:    clock,
		conf:     conf,
		notifier: notifier,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// GrantSignupBonus 发放注册奖励
// 领取标记与积分记录在同一事务内提交
func (uc *BonusUseCase) GrantSignupBonus(ctx context.Context, userID string) (*BonusResult, error) {
	result, err := uc.grantSignupBonus(ctx, userID)
	if uc.metrics != nil {
		label := "granted"
		switch {
		case errs.IsBonusAlreadyClaimed(err):
			label = "already_claimed"
		case err != nil:
			label = "error"
		}
		uc.metrics.BonusClaim.WithLabelValues(label).Inc()
	}
	return result, err
}

func (uc *BonusUseCase) grantSignupBonus(ctx context.Context, userID string) (*BonusResult, error) {
	unlock, err := uc.locker.Lock(ctx, userID)
	if err != nil {
		uc.log.Errorf("Failed to acquire user lock for signup bonus: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	now := uc.clock.Now()

	grant := &CreditGrant{
		ID:          NewGrantID(),
		UserID:      userID,
		Amount:      uc.conf.SignupBonusAmount,
		Remaining:   uc.conf.SignupBonusAmount,
		Type:        GrantTypeBonus,
		Description: "signup bonus",
		CreatedAt:   now,
	}
	if uc.conf.SignupBonusExpiresIn > 0 {
		expiresAt := now.Add(uc.conf.SignupBonusExpiresIn)
		grant.ExpiresAt = &expiresAt
	}

	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		profile, err := uc.profiles.LockProfile(ctx, userID)
		if err != nil {
			return err
		}
		if profile == nil {
			return errs.ErrorUserNotFound(userID)
		}
		if profile.SignupBonusClaimed {
			return errs.ErrorBonusAlreadyClaimed(userID)
		}

		marked, err := uc.profiles.MarkSignupBonusClaimed(ctx, userID)
		if err != nil {
			return err
		}
		if !marked {
			return errs.ErrorBonusAlreadyClaimed(userID)
		}
		return uc.grants.CreateGrant(ctx, grant)
	})
	if err != nil {
		if errs.IsDatabaseError(err) {
			uc.log.Errorf("GrantSignupBonus failed: user_id=%s, error=%v", userID, err)
		} else {
			uc.log.Warnf("GrantSignupBonus rejected: user_id=%s, reason=%s", userID, errs.Reason(err))
		}
		return nil, errs.DatabaseError(err)
	}

	uc.log.Infof("Signup bonus granted: user_id=%s, grant_id=%s, amount=%d", userID, grant.ID, grant.Amount)
	if uc.metrics != nil {
		uc.metrics.GrantTotal.WithLabelValues(string(GrantTypeBonus)).Inc()
		uc.metrics.GrantedCredits.WithLabelValues(string(GrantTypeBonus)).Add(float64(grant.Amount))
	}
	uc.notifier.Committed(ctx, userID, &LedgerEvent{
		Type:       constants.LedgerEventGranted,
		UserID:     userID,
		Amount:     grant.Amount,
		GrantID:    grant.ID,
		GrantType:  grant.Type,
		OccurredAt: now,
	})
	return &BonusResult{
		Amount:       grant.Amount,
		BonusClaimed: true,
		GrantID:      grant.ID,
		ExpiresAt:    grant.ExpiresAt,
	}, nil
}
