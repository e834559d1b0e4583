package data

import (
	"context"
	"errors"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dailyUsageRepo 每日消耗数据访问
type dailyUsageRepo struct {
	data *Data
	log  *log.Helper
}

// NewDailyUsageRepo 创建每日消耗 repo（返回 biz.DailyUsageRepo 接口）
func NewDailyUsageRepo(data *Data, logger log.Logger) biz.DailyUsageRepo {
	if data.mem != nil {
		return data.mem
	}
	return &dailyUsageRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetDailyUsage 当日累计消耗，不存在时返回 0
func (r *dailyUsageRepo) GetDailyUsage(ctx context.Context, userID, usageDate string) (int64, error) {
	var m model.DailyUsage
	if err := r.data.DB(ctx).
		Where("user_id = ? AND usage_date = ?", userID, usageDate).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return m.CreditsConsumed, nil
}

// IncrDailyUsage 累加当日消耗，记录不存在时创建
func (r *dailyUsageRepo) IncrDailyUsage(ctx context.Context, userID, usageDate string, amount int64) error {
	m := model.DailyUsage{
		UserID:          userID,
		UsageDate:       usageDate,
		CreditsConsumed: amount,
	}
	err := r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "usage_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"credits_consumed": gorm.Expr("credits_consumed + ?", amount),
		}),
	}).Create(&m).Error
	if err != nil {
		r.log.Errorf("IncrDailyUsage failed: user_id=%s, usage_date=%s, error=%v", userID, usageDate, err)
		return err
	}
	return nil
}

// ListDailyUsage [fromDate, toDate] 区间内的记录，按日期升序
func (r *dailyUsageRepo) ListDailyUsage(ctx context.Context, userID, fromDate, toDate string) ([]*biz.DailyUsage, error) {
	var models []model.DailyUsage
	if err := r.data.DB(ctx).
		Where("user_id = ? AND usage_date >= ? AND usage_date <= ?", userID, fromDate, toDate).
		Order("usage_date").
		Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*biz.DailyUsage, 0, len(models))
	for _, m := range models {
		records = append(records, &biz.DailyUsage{
			UserID:          m.UserID,
			UsageDate:       m.UsageDate,
			CreditsConsumed: m.CreditsConsumed,
		})
	}
	return records, nil
}
