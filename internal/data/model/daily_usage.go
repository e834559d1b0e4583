package model

import (
	"time"
)

// DailyUsage 每日消耗表，(user_id, usage_date) 唯一
type DailyUsage struct {
	UserID          string    `gorm:"primaryKey;type:varchar(36)"`
	UsageDate       string    `gorm:"primaryKey;type:varchar(10)"` // 2026-03-10
	CreditsConsumed int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (DailyUsage) TableName() string {
	return "credit_daily_usage"
}
