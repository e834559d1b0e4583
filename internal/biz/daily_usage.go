package biz

import (
	"context"

	errs "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// maxUsageHistoryDays 每日消耗历史最多查询的天数
const maxUsageHistoryDays = 90

// DailyUsage 用户单个自然日的累计消耗
type DailyUsage struct {
	UserID          string `json:"userId"`
	UsageDate       string `json:"usageDate"` // YYYY-MM-DD，按配置时区
	CreditsConsumed int64  `json:"creditsConsumed"`
}

// DailyUsageRepo 每日消耗数据层接口（定义在 biz 层）
type DailyUsageRepo interface {
	// GetDailyUsage 不存在时返回 0
	GetDailyUsage(ctx context.Context, userID, usageDate string) (int64, error)
	// IncrDailyUsage 累加当日消耗，记录不存在时创建
	IncrDailyUsage(ctx context.Context, userID, usageDate string, amount int64) error
	// ListDailyUsage 返回 [fromDate, toDate] 区间内已有的记录
	ListDailyUsage(ctx context.Context, userID, fromDate, toDate string) ([]*DailyUsage, error)
}

// UsageUseCase 每日消耗查询
type UsageUseCase struct {
	repo     DailyUsageRepo
	clock    Clock
	calendar *Calendar
	log      *log.Helper
}

// NewUsageUseCase 创建每日消耗 UseCase
func NewUsageUseCase(repo DailyUsageRepo, clock Clock, calendar *Calendar, logger log.Logger) *UsageUseCase {
	return &UsageUseCase{
		repo:     repo,
		clock:    clock,
		calendar: calendar,
		log:      log.NewHelper(logger),
	}
}

// ListDailyUsage 最近 days 天（含今天）的消耗，没有记录的日期补 0
func (uc *UsageUseCase) ListDailyUsage(ctx context.Context, userID string, days int) ([]*DailyUsage, error) {
	if days <= 0 || days > maxUsageHistoryDays {
		return nil, errs.ErrorInvalidArgument("days must be between 1 and %d", maxUsageHistoryDays)
	}
	dates := uc.calendar.LastDays(uc.clock.Now(), days)
	records, err := uc.repo.ListDailyUsage(ctx, userID, dates[0], dates[len(dates)-1])
	if err != nil {
		uc.log.Errorf("ListDailyUsage failed: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}

	byDate := make(map[string]int64, len(records))
	for _, r := range records {
		byDate[r.UsageDate] = r.CreditsConsumed
	}
	out := make([]*DailyUsage, 0, len(dates))
	for _, d := range dates {
		out = append(out, &DailyUsage{UserID: userID, UsageDate: d, CreditsConsumed: byDate[d]})
	}
	return out, nil
}
