package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	errs "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// ConsumeTransaction 单条积分记录被扣减的数量
type ConsumeTransaction struct {
	TransactionID string `json:"transactionId"` // 被扣减的积分记录 ID
	AmountUsed    int64  `json:"amountUsed"`
}

// ConsumeResult 消耗结果
type ConsumeResult struct {
	Consumed      int64
	Transactions  []ConsumeTransaction
	NewDailyTotal int64
}

// DailyLimitStatus 每日上限检查结果
type DailyLimitStatus struct {
	CanConsume     bool
	DailyUsed      int64
	DailyLimit     int64
	DailyRemaining int64
}

// DebitResult 管理员扣减结果
type DebitResult struct {
	Debited      int64
	Transactions []ConsumeTransaction
}

// ConsumptionUseCase 积分消耗（核心写路径）
type ConsumptionUseCase struct {
	grants   GrantRepo
	usage    DailyUsageRepo
	profiles ProfileRepo
	tx       Transaction
	locker   UserLocker
	clock    Clock
	calendar *Calendar
	conf     *CreditConfig
	notifier *LedgerNotifier
	log      *log.Helper
	metrics  *metrics.CreditMetrics
}

// NewConsumptionUseCase 创建消耗 UseCase
func NewConsumptionUseCase(
	grants GrantRepo,
	usage DailyUsageRepo,
	profiles ProfileRepo,
	tx Transaction,
	locker UserLocker,
	clock Clock,
	calendar *Calendar,
	conf *CreditConfig,
	notifier *LedgerNotifier,
	logger log.Logger,
) *ConsumptionUseCase {
	return &ConsumptionUseCase{
		grants:   grants,
		usage:    usage,
		profiles: profiles,
		tx:       tx,
		locker:   locker,
		clock:    clock,
		calendar: calendar,
		conf:     conf,
		notifier: notifier,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// Consume 按先过期先消耗扣减 amount 积分，并累加当日消耗
// 每日上限和余额检查与扣减在同一用户锁、同一事务内完成；失败时不修改任何数据
func (uc *ConsumptionUseCase) Consume(ctx context.Context, userID string, amount int64) (*ConsumeResult, error) {
	startTime := time.Now()
	result, err := uc.consume(ctx, userID, amount)

	if uc.metrics != nil {
		uc.metrics.ConsumeDuration.Observe(time.Since(startTime).Seconds())
		uc.metrics.ConsumeTotal.WithLabelValues(consumeResultLabel(err)).Inc()
		if err == nil {
			uc.metrics.ConsumedCredits.Add(float64(amount))
		}
	}
	return result, err
}

func (uc *ConsumptionUseCase) consume(ctx context.Context, userID string, amount int64) (*ConsumeResult, error) {
	if amount <= 0 {
		return nil, errs.ErrorInvalidArgument("amount must be positive, got %d", amount)
	}

	unlock, err := uc.locker.Lock(ctx, userID)
	if err != nil {
		uc.log.Errorf("Failed to acquire user lock for consume: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}
	defer unlock()

	// 拿到锁之后不再响应取消，避免扣减执行一半
	ctx = context.WithoutCancel(ctx)
	now := uc.clock.Now()
	today := uc.calendar.DayOf(now)

	var result *ConsumeResult
	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		profile, err := uc.profiles.LockProfile(ctx, userID)
		if err != nil {
			return err
		}
		if profile == nil {
			return errs.ErrorUserNotFound(userID)
		}

		// 1. 每日上限
		dailyUsed, err := uc.usage.GetDailyUsage(ctx, userID, today)
		if err != nil {
			return err
		}
		dailyLimit := uc.conf.dailyLimitOf(profile)
		if amount > dailyLimit-dailyUsed {
			return errs.ErrorDailyLimitExceeded(dailyUsed, dailyLimit)
		}

		// 2. 按先过期先消耗扣减
		txs, err := uc.debit(ctx, userID, amount, now)
		if err != nil {
			return err
		}

		// 3. 累加当日消耗
		if err := uc.usage.IncrDailyUsage(ctx, userID, today, amount); err != nil {
			return err
		}

		result = &ConsumeResult{
			Consumed:      amount,
			Transactions:  txs,
			NewDailyTotal: dailyUsed + amount,
		}
		return nil
	})
	if err != nil {
		uc.logFailure("Consume", userID, amount, err)
		return nil, errs.DatabaseError(err)
	}

	uc.notifier.Committed(ctx, userID, &LedgerEvent{
		Type:         constants.LedgerEventConsumed,
		UserID:       userID,
		Amount:       amount,
		Transactions: result.Transactions,
		OccurredAt:   now,
	})
	return result, nil
}

// Debit 管理员扣减：与 Consume 相同的先过期先消耗规则，但不受每日上限约束，也不计入当日消耗
func (uc *ConsumptionUseCase) Debit(ctx context.Context, userID string, amount int64, description string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, errs.ErrorInvalidArgument("amount must be positive, got %d", amount)
	}

	unlock, err := uc.locker.Lock(ctx, userID)
	if err != nil {
		uc.log.Errorf("Failed to acquire user lock for debit: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	now := uc.clock.Now()

	var txs []ConsumeTransaction
	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		profile, err := uc.profiles.LockProfile(ctx, userID)
		if err != nil {
			return err
		}
		if profile == nil {
			return errs.ErrorUserNotFound(userID)
		}
		txs, err = uc.debit(ctx, userID, amount, now)
		return err
	})
	if err != nil {
		uc.logFailure("Debit", userID, amount, err)
		return nil, errs.DatabaseError(err)
	}

	uc.log.Infof("Admin debit committed: user_id=%s, amount=%d, description=%q", userID, amount, description)
	uc.notifier.Committed(ctx, userID, &LedgerEvent{
		Type:         constants.LedgerEventDebited,
		UserID:       userID,
		Amount:       amount,
		Transactions: txs,
		OccurredAt:   now,
	})
	return &DebitResult{Debited: amount, Transactions: txs}, nil
}

// debit 在事务内选出可用积分并依次扣减，余额不足时不做任何写入
func (uc *ConsumptionUseCase) debit(ctx context.Context, userID string, amount int64, now time.Time) ([]ConsumeTransaction, error) {
	grants, err := uc.grants.ListSpendableGrants(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	candidates := grants[:0]
	var available int64
	for _, g := range grants {
		if g.Spendable(now) {
			candidates = append(candidates, g)
			available += g.Remaining
		}
	}
	if available < amount {
		return nil, errs.ErrorInsufficientCredits(available, amount)
	}
	SortForConsumption(candidates)

	left := amount
	txs := make([]ConsumeTransaction, 0, len(candidates))
	for _, g := range candidates {
		if left == 0 {
			break
		}
		use := min(g.Remaining, left)
		g.debit(use, now)
		if err := uc.grants.UpdateGrantRemaining(ctx, g); err != nil {
			return nil, err
		}
		txs = append(txs, ConsumeTransaction{TransactionID: g.ID, AmountUsed: use})
		left -= use
	}
	return txs, nil
}

// CheckDailyLimit 只读检查 amount 是否在当日剩余额度内，未知用户按默认上限计算
func (uc *ConsumptionUseCase) CheckDailyLimit(ctx context.Context, userID string, amount int64) (*DailyLimitStatus, error) {
	if amount <= 0 {
		return nil, errs.ErrorInvalidArgument("amount must be positive, got %d", amount)
	}
	profile, err := uc.profiles.GetProfile(ctx, userID)
	if err != nil {
		uc.log.Errorf("CheckDailyLimit failed to load profile: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}
	dailyUsed, err := uc.usage.GetDailyUsage(ctx, userID, uc.calendar.DayOf(uc.clock.Now()))
	if err != nil {
		uc.log.Errorf("CheckDailyLimit failed to load usage: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}

	dailyLimit := uc.conf.dailyLimitOf(profile)
	remaining := max(dailyLimit-dailyUsed, 0)
	status := &DailyLimitStatus{
		CanConsume:     amount <= remaining,
		DailyUsed:      dailyUsed,
		DailyLimit:     dailyLimit,
		DailyRemaining: remaining,
	}
	if uc.metrics != nil {
		result := "allowed"
		if !status.CanConsume {
			result = "denied"
		}
		uc.metrics.DailyLimitCheck.WithLabelValues(result).Inc()
	}
	return status, nil
}

func (uc *ConsumptionUseCase) logFailure(op, userID string, amount int64, err error) {
	if errs.IsDatabaseError(err) {
		uc.log.Errorf("%s failed: user_id=%s, amount=%d, error=%v", op, userID, amount, err)
		return
	}
	uc.log.Warnf("%s rejected: user_id=%s, amount=%d, reason=%s", op, userID, amount, errs.Reason(err))
}

func consumeResultLabel(err error) string {
	switch {
	case err == nil:
		return constants.ConsumeResultSuccess
	case errs.IsInsufficientCredits(err):
		return constants.ConsumeResultInsufficient
	case errs.IsDailyLimitExceeded(err):
		return constants.ConsumeResultDailyLimit
	default:
		return constants.ConsumeResultError
	}
}
