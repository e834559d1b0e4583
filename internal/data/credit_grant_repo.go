package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// consumptionOrder 先过期先消耗：永不过期排最后，再按创建时间、ID
const consumptionOrder = "CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at, created_at, credit_grant_id"

// creditGrantRepo 积分记录数据访问
type creditGrantRepo struct {
	data *Data
	log  *log.Helper
}

// NewCreditGrantRepo 创建积分记录 repo（返回 biz.GrantRepo 接口）
func NewCreditGrantRepo(data *Data, logger log.Logger) biz.GrantRepo {
	if data.mem != nil {
		return data.mem
	}
	return &creditGrantRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateGrant 新建积分记录
func (r *creditGrantRepo) CreateGrant(ctx context.Context, grant *biz.CreditGrant) error {
	m := toGrantModel(grant)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("CreateGrant failed: grant_id=%s, user_id=%s, error=%v", grant.ID, grant.UserID, err)
		return fmt.Errorf("failed to create credit grant: %w", err)
	}
	return nil
}

// GetGrant 获取积分记录，不存在时返回 nil
func (r *creditGrantRepo) GetGrant(ctx context.Context, id string) (*biz.CreditGrant, error) {
	var m model.CreditGrant
	if err := r.data.DB(ctx).Where("credit_grant_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toGrant(&m), nil
}

// ListSpendableGrants 用户未过期且有剩余的积分，事务内加行锁
func (r *creditGrantRepo) ListSpendableGrants(ctx context.Context, userID string, now time.Time) ([]*biz.CreditGrant, error) {
	var models []model.CreditGrant
	db := r.data.DB(ctx).
		Where("user_id = ? AND remaining > 0", userID).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Order(consumptionOrder)
	if err := r.data.forUpdate(ctx, db).Find(&models).Error; err != nil {
		return nil, err
	}
	return toGrants(models), nil
}

// ListExpiredGrants 已过期且有剩余的积分，按过期时间升序
func (r *creditGrantRepo) ListExpiredGrants(ctx context.Context, now time.Time, limit int) ([]*biz.CreditGrant, error) {
	var models []model.CreditGrant
	db := r.data.DB(ctx).
		Where("remaining > 0 AND expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Order("expires_at, created_at, credit_grant_id")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Find(&models).Error; err != nil {
		return nil, err
	}
	return toGrants(models), nil
}

// ListUserExpiredGrants 单个用户已过期且有剩余的积分，事务内加行锁
func (r *creditGrantRepo) ListUserExpiredGrants(ctx context.Context, userID string, now time.Time) ([]*biz.CreditGrant, error) {
	var models []model.CreditGrant
	db := r.data.DB(ctx).
		Where("user_id = ? AND remaining > 0 AND expires_at IS NOT NULL AND expires_at <= ?", userID, now.UTC()).
		Order("expires_at, created_at, credit_grant_id")
	if err := r.data.forUpdate(ctx, db).Find(&models).Error; err != nil {
		return nil, err
	}
	return toGrants(models), nil
}

// UpdateGrantRemaining 按版本号更新剩余积分（乐观锁）
func (r *creditGrantRepo) UpdateGrantRemaining(ctx context.Context, grant *biz.CreditGrant) error {
	result := r.data.DB(ctx).Model(&model.CreditGrant{}).
		Where("credit_grant_id = ? AND version = ?", grant.ID, grant.Version).
		Updates(map[string]interface{}{
			"remaining":   grant.Remaining,
			"consumed_at": utcPtr(grant.ConsumedAt),
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return biz.ErrGrantVersionConflict
	}
	grant.Version++
	return nil
}

// ListGrants 按创建时间倒序分页
func (r *creditGrantRepo) ListGrants(ctx context.Context, userID string, page, pageSize int) ([]*biz.CreditGrant, int64, error) {
	var models []model.CreditGrant
	var total int64

	offset := (page - 1) * pageSize
	db := r.data.DB(ctx).Model(&model.CreditGrant{}).Where("user_id = ?", userID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(pageSize).Order("created_at DESC, credit_grant_id DESC").Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return toGrants(models), total, nil
}

func toGrantModel(g *biz.CreditGrant) *model.CreditGrant {
	return &model.CreditGrant{
		CreditGrantID: g.ID,
		UserID:        g.UserID,
		Amount:        g.Amount,
		Remaining:     g.Remaining,
		Type:          string(g.Type),
		Description:   g.Description,
		ExpiresAt:     utcPtr(g.ExpiresAt),
		ConsumedAt:    utcPtr(g.ConsumedAt),
		Version:       g.Version,
		CreatedAt:     g.CreatedAt.UTC(),
	}
}

func toGrant(m *model.CreditGrant) *biz.CreditGrant {
	return &biz.CreditGrant{
		ID:          m.CreditGrantID,
		UserID:      m.UserID,
		Amount:      m.Amount,
		Remaining:   m.Remaining,
		Type:        biz.GrantType(m.Type),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		ConsumedAt:  m.ConsumedAt,
		Version:     m.Version,
	}
}

func toGrants(models []model.CreditGrant) []*biz.CreditGrant {
	grants := make([]*biz.CreditGrant, 0, len(models))
	for i := range models {
		grants = append(grants, toGrant(&models[i]))
	}
	return grants
}

// utcPtr 时间统一以 UTC 存储，保证 SQLite 文本比较的顺序
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
