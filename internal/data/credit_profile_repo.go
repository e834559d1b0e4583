package data

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// creditProfileRepo 用户积分配置数据访问
type creditProfileRepo struct {
	data *Data
	log  *log.Helper
}

// NewCreditProfileRepo 创建用户配置 repo（返回 biz.ProfileRepo 接口）
func NewCreditProfileRepo(data *Data, logger log.Logger) biz.ProfileRepo {
	if data.mem != nil {
		return data.mem
	}
	return &creditProfileRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetProfile 获取用户配置，不存在时返回 nil
func (r *creditProfileRepo) GetProfile(ctx context.Context, userID string) (*biz.UserCreditProfile, error) {
	return r.get(ctx, r.data.DB(ctx), userID)
}

// LockProfile 事务内读取并锁定用户行
func (r *creditProfileRepo) LockProfile(ctx context.Context, userID string) (*biz.UserCreditProfile, error) {
	return r.get(ctx, r.data.forUpdate(ctx, r.data.DB(ctx)), userID)
}

func (r *creditProfileRepo) get(ctx context.Context, db *gorm.DB, userID string) (*biz.UserCreditProfile, error) {
	var m model.CreditProfile
	if err := db.Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.WithContext(ctx).Errorf("get profile failed: user_id=%s, error=%v", userID, err)
		return nil, err
	}
	return &biz.UserCreditProfile{
		UserID:             m.UserID,
		DailyLimit:         m.DailyLimit,
		SignupBonusClaimed: m.SignupBonusClaimed,
	}, nil
}

// MarkSignupBonusClaimed 仅当未领取时置位
func (r *creditProfileRepo) MarkSignupBonusClaimed(ctx context.Context, userID string) (bool, error) {
	now := time.Now().UTC()
	result := r.data.DB(ctx).Model(&model.CreditProfile{}).
		Where("user_id = ? AND signup_bonus_claimed = ?", userID, false).
		Updates(map[string]interface{}{
			"signup_bonus_claimed":    true,
			"signup_bonus_claimed_at": &now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpsertProfile 新建或更新每日上限，不修改领取标记
func (r *creditProfileRepo) UpsertProfile(ctx context.Context, profile *biz.UserCreditProfile) error {
	m := model.CreditProfile{
		UserID:     profile.UserID,
		DailyLimit: profile.DailyLimit,
	}
	return r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_limit", "updated_at"}),
	}).Create(&m).Error
}
