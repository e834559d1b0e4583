package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// LedgerEvent 账本变更事件，提交成功后发布
type LedgerEvent struct {
	EventID      string               `json:"event_id"`
	Type         string               `json:"type"` // granted/consumed/debited/expired
	UserID       string               `json:"user_id"`
	Amount       int64                `json:"amount"`
	GrantID      string               `json:"grant_id,omitempty"`
	GrantType    GrantType            `json:"grant_type,omitempty"`
	Transactions []ConsumeTransaction `json:"transactions,omitempty"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

// LedgerEventPublisher 账本事件发布（RocketMQ），未启用时为空实现
type LedgerEventPublisher interface {
	Publish(ctx context.Context, event *LedgerEvent) error
}

// BalanceCache 可用余额读缓存
// 只服务于 GetValidCredits，消耗/扣减永远读存储
// 每个用户维护一个代数：Invalidate 递增代数，Set 只在代数未变化时写入，
// 读存储之前取到的代数在期间有提交时失效，旧结果不会回填
type BalanceCache interface {
	// Get 未命中返回 nil, nil
	Get(ctx context.Context, userID string) (*BalanceResult, error)
	// Generation 当前代数，读存储之前调用
	Generation(ctx context.Context, userID string) (int64, error)
	// Set 代数仍为 gen 时写入，否则放弃
	Set(ctx context.Context, userID string, gen int64, balance *BalanceResult, ttl time.Duration) error
	// Invalidate 递增代数并删除缓存
	Invalidate(ctx context.Context, userID string) error
}

// LedgerNotifier 提交后的副作用：失效余额缓存、发布账本事件
// 失败只记录日志，不影响已提交的结果
type LedgerNotifier struct {
	cache     BalanceCache
	publisher LedgerEventPublisher
	log       *log.Helper
}

// NewLedgerNotifier 创建 LedgerNotifier，cache/publisher 可为 nil
func NewLedgerNotifier(cache BalanceCache, publisher LedgerEventPublisher, logger log.Logger) *LedgerNotifier {
	return &LedgerNotifier{
		cache:     cache,
		publisher: publisher,
		log:       log.NewHelper(logger),
	}
}

// Committed 用户账本变更已提交
func (n *LedgerNotifier) Committed(ctx context.Context, userID string, events ...*LedgerEvent) {
	if n == nil {
		return
	}
	if n.cache != nil {
		if err := n.cache.Invalidate(ctx, userID); err != nil {
			n.log.Warnf("failed to invalidate balance cache: user_id=%s, error=%v", userID, err)
		}
	}
	if n.publisher == nil {
		return
	}
	for _, e := range events {
		if e.EventID == "" {
			e.EventID = uuid.New().String()
		}
		if err := n.publisher.Publish(ctx, e); err != nil {
			n.log.Warnf("failed to publish ledger event: type=%s, user_id=%s, error=%v", e.Type, e.UserID, err)
		}
	}
}
