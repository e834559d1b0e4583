package biz

import (
	"fmt"
	"strings"
	"time"

	"credit-service/internal/conf"
	"credit-service/internal/constants"
)

// CreditConfig 积分账本配置
type CreditConfig struct {
	Location             *time.Location // 每日上限按该时区切日
	DefaultDailyLimit    int64
	SignupBonusAmount    int64
	SignupBonusExpiresIn time.Duration // 0 表示注册奖励永不过期
	ExpiringHorizon      time.Duration // 即将过期统计窗口
	ReaperBatchSize      int
	ReaperCron           string
	LockExpiry           time.Duration
	BalanceCacheTTL      time.Duration
}

// DefaultCreditConfig 默认配置
func DefaultCreditConfig() *CreditConfig {
	return &CreditConfig{
		Location:          time.UTC,
		DefaultDailyLimit: constants.DefaultDailyLimit,
		SignupBonusAmount: constants.DefaultSignupBonusAmount,
		ExpiringHorizon:   constants.DefaultExpiringHorizon,
		ReaperBatchSize:   constants.DefaultReaperBatchSize,
		ReaperCron:        constants.DefaultReaperCron,
		LockExpiry:        constants.DefaultLockExpiry,
		BalanceCacheTTL:   constants.DefaultBalanceCacheTTL,
	}
}

// NewCreditConfig 从配置创建 CreditConfig，未配置的项使用默认值
func NewCreditConfig(c *conf.Bootstrap) (*CreditConfig, error) {
	config := DefaultCreditConfig()
	if c == nil || c.Credit == nil {
		return config, nil
	}
	cc := c.Credit

	if tz := strings.TrimSpace(cc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		config.Location = loc
	}
	if cc.DefaultDailyLimit > 0 {
		config.DefaultDailyLimit = cc.DefaultDailyLimit
	}
	if cc.SignupBonusAmount > 0 {
		config.SignupBonusAmount = cc.SignupBonusAmount
	}
	config.SignupBonusExpiresIn = cc.SignupBonusExpiresIn.AsDuration()
	config.ExpiringHorizon = cc.ExpiringHorizon.Or(constants.DefaultExpiringHorizon)
	if cc.ReaperBatchSize > 0 {
		config.ReaperBatchSize = cc.ReaperBatchSize
	}
	if cc.ReaperCron != "" {
		config.ReaperCron = cc.ReaperCron
	}
	config.LockExpiry = cc.LockExpiry.Or(constants.DefaultLockExpiry)
	config.BalanceCacheTTL = cc.BalanceCacheTTL.Or(constants.DefaultBalanceCacheTTL)
	return config, nil
}

// dailyLimitOf 返回用户生效的每日上限，未设置时取默认值
func (c *CreditConfig) dailyLimitOf(p *UserCreditProfile) int64 {
	if p != nil && p.DailyLimit > 0 {
		return p.DailyLimit
	}
	return c.DefaultDailyLimit
}
