package biz

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"credit-service/internal/constants"

	"github.com/google/uuid"
)

// ErrGrantVersionConflict 积分记录版本冲突（乐观锁）
var ErrGrantVersionConflict = errors.New("credit grant version conflict")

// GrantType 积分来源类型
type GrantType string

const (
	GrantTypePurchase        GrantType = constants.GrantTypePurchase
	GrantTypeBonus           GrantType = constants.GrantTypeBonus
	GrantTypeReferral        GrantType = constants.GrantTypeReferral
	GrantTypeAdminAdjustment GrantType = constants.GrantTypeAdminAdjustment
	GrantTypeOther           GrantType = constants.GrantTypeOther
)

// Valid 是否为已知类型
func (t GrantType) Valid() bool {
	switch t {
	case GrantTypePurchase, GrantTypeBonus, GrantTypeReferral, GrantTypeAdminAdjustment, GrantTypeOther:
		return true
	}
	return false
}

// ParseGrantType 解析积分类型，空值视为 other
func ParseGrantType(s string) (GrantType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return GrantTypeOther, true
	}
	t := GrantType(s)
	return t, t.Valid()
}

// CreditGrant 一次积分发放
// Remaining 只由消耗和过期回收递减；Remaining 归零的同时写入 ConsumedAt
type CreditGrant struct {
	ID          string
	UserID      string
	Amount      int64
	Remaining   int64
	Type        GrantType
	Description string
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil 表示永不过期
	ConsumedAt  *time.Time
	Version     int64 // 乐观锁版本号
}

// IsExpired expiresAt <= now 即视为过期
func (g *CreditGrant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Spendable 有剩余且未过期
func (g *CreditGrant) Spendable(now time.Time) bool {
	return g.Remaining > 0 && !g.IsExpired(now)
}

// debit 扣减 use，归零时写入 consumedAt
func (g *CreditGrant) debit(use int64, now time.Time) {
	g.Remaining -= use
	if g.Remaining == 0 && g.ConsumedAt == nil {
		at := now
		g.ConsumedAt = &at
	}
}

// Clone 深拷贝
func (g *CreditGrant) Clone() *CreditGrant {
	c := *g
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		c.ExpiresAt = &t
	}
	if g.ConsumedAt != nil {
		t := *g.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}

// SortForConsumption 按先过期先消耗排序：expiresAt 升序（永不过期排最后），再按 createdAt、ID
func SortForConsumption(grants []*CreditGrant) {
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// NewGrantID 生成积分记录 ID
func NewGrantID() string {
	return uuid.New().String()
}

// GrantIDFromRequest 由外部请求号派生稳定的积分记录 ID，用于消息重投幂等
func GrantIDFromRequest(requestID string) string {
	if id, err := uuid.Parse(requestID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(requestID)).String()
}

// GrantRepo 积分记录数据层接口（定义在 biz 层）
// 在 Transaction.InTx 内调用的 List* 方法需要对返回行加锁（如 SELECT ... FOR UPDATE）
type GrantRepo interface {
	CreateGrant(ctx context.Context, grant *CreditGrant) error
	// GetGrant 不存在时返回 nil, nil
	GetGrant(ctx context.Context, id string) (*CreditGrant, error)
	// ListSpendableGrants 用户 remaining > 0 且 (expiresAt 为空或 > now) 的记录
	ListSpendableGrants(ctx context.Context, userID string, now time.Time) ([]*CreditGrant, error)
	// ListExpiredGrants 所有用户 expiresAt <= now 且 remaining > 0 的记录，limit <= 0 表示不限
	ListExpiredGrants(ctx context.Context, now time.Time, limit int) ([]*CreditGrant, error)
	// ListUserExpiredGrants 单个用户已过期且有剩余的记录
	ListUserExpiredGrants(ctx context.Context, userID string, now time.Time) ([]*CreditGrant, error)
	// UpdateGrantRemaining 按 Version 条件更新 remaining/consumedAt，成功后 Version+1
	// 版本不一致返回 ErrGrantVersionConflict
	UpdateGrantRemaining(ctx context.Context, grant *CreditGrant) error
	// ListGrants 按创建时间倒序分页
	ListGrants(ctx context.Context, userID string, page, pageSize int) ([]*CreditGrant, int64, error)
}
