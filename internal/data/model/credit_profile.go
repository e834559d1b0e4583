package model

import (
	"time"
)

// CreditProfile 用户积分配置表
type CreditProfile struct {
	UserID               string `gorm:"primaryKey;type:varchar(36)"`
	DailyLimit           int64  `gorm:"not null;default:100"`
	SignupBonusClaimed   bool   `gorm:"not null;default:false"`
	SignupBonusClaimedAt *time.Time
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CreditProfile) TableName() string {
	return "credit_user_profile"
}
