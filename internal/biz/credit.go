package biz

import (
	"context"

	errs "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// AdjustResult 管理员调整结果
type AdjustResult struct {
	UserID       string
	Delta        int64
	GrantID      string               // delta > 0 时新建的积分记录
	Transactions []ConsumeTransaction // delta < 0 时被扣减的积分记录
}

// CreditUseCase 积分账本（组合 UseCase）
// 对外提供账本的全部操作，各领域逻辑由对应 UseCase 实现
type CreditUseCase struct {
	consumption *ConsumptionUseCase
	balance     *BalanceUseCase
	expiry      *ExpiryUseCase
	bonus       *BonusUseCase
	grant       *GrantUseCase
	usage       *UsageUseCase
	profile     *ProfileUseCase

	log *log.Helper
}

// NewCreditUseCase 创建积分账本 UseCase
func NewCreditUseCase(
	consumption *ConsumptionUseCase,
	balance *BalanceUseCase,
	expiry *ExpiryUseCase,
	bonus *BonusUseCase,
	grant *GrantUseCase,
	usage *UsageUseCase,
	profile *ProfileUseCase,
	logger log.Logger,
) *CreditUseCase {
	return &CreditUseCase{
		consumption: consumption,
		balance:     balance,
		expiry:      expiry,
		bonus:       bonus,
		grant:       grant,
		usage:       usage,
		profile:     profile,
		log:         log.NewHelper(logger),
	}
}

// ConsumeCredits 消耗积分
func (uc *CreditUseCase) ConsumeCredits(ctx context.Context, userID string, amount int64) (*ConsumeResult, error) {
	return uc.consumption.Consume(ctx, userID, amount)
}

// CheckDailyLimit 检查每日上限
func (uc *CreditUseCase) CheckDailyLimit(ctx context.Context, userID string, amount int64) (*DailyLimitStatus, error) {
	return uc.consumption.CheckDailyLimit(ctx, userID, amount)
}

// GetValidCredits 查询可用余额
func (uc *CreditUseCase) GetValidCredits(ctx context.Context, userID string) (*BalanceResult, error) {
	return uc.balance.GetValidCredits(ctx, userID)
}

// AddCredits 发放积分
func (uc *CreditUseCase) AddCredits(ctx context.Context, req *AddCreditsRequest) (*GrantResult, error) {
	return uc.grant.AddCredits(ctx, req)
}

// GrantSignupBonus 发放注册奖励
func (uc *CreditUseCase) GrantSignupBonus(ctx context.Context, userID string) (*BonusResult, error) {
	return uc.bonus.GrantSignupBonus(ctx, userID)
}

// CleanupExpiredCredits 回收过期积分
func (uc *CreditUseCase) CleanupExpiredCredits(ctx context.Context) (*CleanupResult, error) {
	return uc.expiry.CleanupExpiredCredits(ctx)
}

// GetExpiredCredits 查询已过期未回收的积分
func (uc *CreditUseCase) GetExpiredCredits(ctx context.Context) ([]*CreditGrant, error) {
	return uc.expiry.GetExpiredCredits(ctx)
}

// ListGrants 积分记录分页
func (uc *CreditUseCase) ListGrants(ctx context.Context, userID string, page, pageSize int) ([]*CreditGrant, int64, error) {
	return uc.grant.ListGrants(ctx, userID, page, pageSize)
}

// ListDailyUsage 最近 days 天的消耗
func (uc *CreditUseCase) ListDailyUsage(ctx context.Context, userID string, days int) ([]*DailyUsage, error) {
	return uc.usage.ListDailyUsage(ctx, userID, days)
}

// GetProfile 查询用户配置（每日上限、注册奖励是否已领取）
func (uc *CreditUseCase) GetProfile(ctx context.Context, userID string) (*UserCreditProfile, error) {
	return uc.profile.GetProfile(ctx, userID)
}

// UpsertProfile 同步用户配置
func (uc *CreditUseCase) UpsertProfile(ctx context.Context, userID string, dailyLimit int64) (*UserCreditProfile, error) {
	return uc.profile.UpsertProfile(ctx, userID, dailyLimit)
}

// AdjustCredits 管理员调整余额，账本为唯一数据源
// delta > 0 发放 admin_adjustment 积分；delta < 0 按先过期先消耗扣减，不受每日上限约束
func (uc *CreditUseCase) AdjustCredits(ctx context.Context, userID string, delta int64, description string) (*AdjustResult, error) {
	switch {
	case delta > 0:
		granted, err := uc.grant.AddCredits(ctx, &AddCreditsRequest{
			UserID:      userID,
			Amount:      delta,
			Type:        GrantTypeAdminAdjustment,
			Description: description,
		})
		if err != nil {
			return nil, err
		}
		return &AdjustResult{UserID: userID, Delta: delta, GrantID: granted.GrantID}, nil
	case delta < 0:
		debited, err := uc.consumption.Debit(ctx, userID, -delta, description)
		if err != nil {
			return nil, err
		}
		return &AdjustResult{UserID: userID, Delta: delta, Transactions: debited.Transactions}, nil
	default:
		return nil, errs.ErrorInvalidArgument("delta must not be zero")
	}
}
