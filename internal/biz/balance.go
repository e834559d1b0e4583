package biz

import (
	"context"
	"time"

	errs "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// ExpiringCredit 即将过期的积分
type ExpiringCredit struct {
	GrantID   string    `json:"grantId"`
	Amount    int64     `json:"amount"` // 当前剩余
	ExpiresAt time.Time `json:"expiresAt"`
	Type      GrantType `json:"type"`
}

// BalanceResult 可用余额
type BalanceResult struct {
	UserID          string           `json:"userId"`
	TotalValid      int64            `json:"totalValid"`
	ExpiringCredits []ExpiringCredit `json:"expiringCredits"`
	CalculatedAt    time.Time        `json:"calculatedAt"`
	// NextExpiry 最近一笔有效积分的过期时间，用于限制缓存有效期
	NextExpiry *time.Time `json:"nextExpiry,omitempty"`
}

// BalanceUseCase 余额计算（只读）
type BalanceUseCase struct {
	grants  GrantRepo
	cache   BalanceCache
	clock   Clock
	conf    *CreditConfig
	log     *log.Helper
	metrics *metrics.CreditMetrics
}

// NewBalanceUseCase 创建余额 UseCase，cache 可为 nil
func NewBalanceUseCase(grants GrantRepo, cache BalanceCache, clock Clock, conf *CreditConfig, logger log.Logger) *BalanceUseCase {
	return &BalanceUseCase{
		grants:  grants,
		cache:   cache,
		clock:   clock,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// GetValidCredits 汇总用户未过期且有剩余的积分，并列出窗口内即将过期的部分
func (uc *BalanceUseCase) GetValidCredits(ctx context.Context, userID string) (*BalanceResult, error) {
	now := uc.clock.Now()

	if cached := uc.fromCache(ctx, userID, now); cached != nil {
		uc.countQuery("cache")
		return cached, nil
	}

	// 代数必须在读存储之前获取
	gen, cacheable := uc.generation(ctx, userID)

	grants, err := uc.grants.ListSpendableGrants(ctx, userID, now)
	if err != nil {
		uc.log.Errorf("GetValidCredits failed: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}
	uc.countQuery("store")

	result := Summarize(userID, grants, now, uc.conf.ExpiringHorizon)
	if cacheable {
		uc.toCache(ctx, userID, gen, result, now)
	}
	return result, nil
}

// Summarize 计算 grants 在 now 时刻的可用余额，horizon 内过期的计入 ExpiringCredits
func Summarize(userID string, grants []*CreditGrant, now time.Time, horizon time.Duration) *BalanceResult {
	result := &BalanceResult{
		UserID:          userID,
		ExpiringCredits: []ExpiringCredit{},
		CalculatedAt:    now,
	}
	valid := make([]*CreditGrant, 0, len(grants))
	for _, g := range grants {
		if g.UserID == userID && g.Spendable(now) {
			valid = append(valid, g)
		}
	}
	SortForConsumption(valid)

	deadline := now.Add(horizon)
	for _, g := range valid {
		result.TotalValid += g.Remaining
		if g.ExpiresAt == nil {
			continue
		}
		if result.NextExpiry == nil {
			t := *g.ExpiresAt
			result.NextExpiry = &t
		}
		if !g.ExpiresAt.After(deadline) {
			result.ExpiringCredits = append(result.ExpiringCredits, ExpiringCredit{
				GrantID:   g.ID,
				Amount:    g.Remaining,
				ExpiresAt: *g.ExpiresAt,
				Type:      g.Type,
			})
		}
	}
	return result
}

func (uc *BalanceUseCase) fromCache(ctx context.Context, userID string, now time.Time) *BalanceResult {
	if uc.cache == nil {
		return nil
	}
	cached, err := uc.cache.Get(ctx, userID)
	if err != nil {
		uc.log.Warnf("failed to read balance cache: user_id=%s, error=%v", userID, err)
		return nil
	}
	// 缓存中最早的积分已经过期，视为未命中
	if cached == nil || (cached.NextExpiry != nil && !cached.NextExpiry.After(now)) {
		return nil
	}
	return cached
}

func (uc *BalanceUseCase) generation(ctx context.Context, userID string) (int64, bool) {
	if uc.cache == nil || uc.conf.BalanceCacheTTL <= 0 {
		return 0, false
	}
	gen, err := uc.cache.Generation(ctx, userID)
	if err != nil {
		uc.log.Warnf("failed to read balance cache generation: user_id=%s, error=%v", userID, err)
		return 0, false
	}
	return gen, true
}

func (uc *BalanceUseCase) toCache(ctx context.Context, userID string, gen int64, result *BalanceResult, now time.Time) {
	ttl := uc.conf.BalanceCacheTTL
	if result.NextExpiry != nil {
		ttl = min(ttl, result.NextExpiry.Sub(now))
	}
	if ttl <= 0 {
		return
	}
	if err := uc.cache.Set(ctx, userID, gen, result, ttl); err != nil {
		uc.log.Warnf("failed to write balance cache: user_id=%s, error=%v", userID, err)
	}
}

func (uc *BalanceUseCase) countQuery(source string) {
	if uc.metrics != nil {
		uc.metrics.BalanceQueryTotal.WithLabelValues(source).Inc()
	}
}
