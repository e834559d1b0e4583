package model

import (
	"time"
)

// CreditGrant 积分发放表
type CreditGrant struct {
	CreditGrantID string     `gorm:"primaryKey;type:varchar(36)"`
	UserID        string     `gorm:"type:varchar(36);not null;index:idx_user_remaining,priority:1"`
	Amount        int64      `gorm:"not null"`
	Remaining     int64      `gorm:"not null;index:idx_user_remaining,priority:2;index:idx_remaining_expires,priority:1"`
	Type          string     `gorm:"type:varchar(32);not null"` // purchase/bonus/referral/admin_adjustment/other
	Description   string     `gorm:"type:varchar(255)"`
	ExpiresAt     *time.Time `gorm:"index:idx_remaining_expires,priority:2"` // NULL 表示永不过期
	ConsumedAt    *time.Time
	Version       int64     `gorm:"not null;default:0"` // 乐观锁
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CreditGrant) TableName() string {
	return "credit_grant"
}
