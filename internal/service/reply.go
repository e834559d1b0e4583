package service

import (
	stdhttp "net/http"
	"strconv"
	"time"

	"credit-service/internal/biz"
	errs "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// 返回结构：成功时 success=true 附带业务字段，失败时 success=false 附带 error 原因和数值上下文

// ConsumeReply 消耗积分
type ConsumeReply struct {
	Success       bool                     `json:"success"`
	Consumed      int64                    `json:"consumed"`
	Transactions  []biz.ConsumeTransaction `json:"transactions"`
	NewDailyTotal int64                    `json:"newDailyTotal"`
}

// DailyLimitReply 每日上限检查
type DailyLimitReply struct {
	Success        bool  `json:"success"`
	CanConsume     bool  `json:"canConsume"`
	DailyUsed      int64 `json:"dailyUsed"`
	DailyLimit     int64 `json:"dailyLimit"`
	DailyRemaining int64 `json:"dailyRemaining"`
}

// BalanceReply 可用余额
type BalanceReply struct {
	Success         bool                 `json:"success"`
	UserID          string               `json:"userId"`
	TotalValid      int64                `json:"totalValid"`
	ExpiringCredits []biz.ExpiringCredit `json:"expiringCredits"`
	CalculatedAt    time.Time            `json:"calculatedAt"`
}

// Grant 积分记录
type Grant struct {
	GrantID     string     `json:"grantId"`
	UserID      string     `json:"userId"`
	Amount      int64      `json:"amount"`
	Remaining   int64      `json:"remaining"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	ConsumedAt  *time.Time `json:"consumedAt,omitempty"`
}

// ListGrantsReply 积分记录分页
type ListGrantsReply struct {
	Success  bool     `json:"success"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Grants   []*Grant `json:"grants"`
}

// UsageReply 每日消耗历史
type UsageReply struct {
	Success bool              `json:"success"`
	Usage   []*biz.DailyUsage `json:"usage"`
}

// BonusReply 注册奖励
type BonusReply struct {
	Success      bool       `json:"success"`
	Amount       int64      `json:"amount"`
	BonusClaimed bool       `json:"bonusClaimed"`
	GrantID      string     `json:"grantId"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// AddCreditsReply 发放积分
type AddCreditsReply struct {
	Success       bool       `json:"success"`
	TransactionID string     `json:"transactionId"`
	UserID        string     `json:"userId"`
	Amount        int64      `json:"amount"`
	Type          string     `json:"type"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Duplicate     bool       `json:"duplicate,omitempty"`
}

// AdjustReply 管理员调整
type AdjustReply struct {
	Success      bool                     `json:"success"`
	UserID       string                   `json:"userId"`
	Delta        int64                    `json:"delta"`
	GrantID      string                   `json:"grantId,omitempty"`
	Transactions []biz.ConsumeTransaction `json:"transactions,omitempty"`
}

// ProfileReply 用户配置
type ProfileReply struct {
	Success            bool   `json:"success"`
	UserID             string `json:"userId"`
	DailyLimit         int64  `json:"dailyLimit"`
	SignupBonusClaimed bool   `json:"signupBonusClaimed"`
}

// CleanupReply 过期回收
type CleanupReply struct {
	Success      bool  `json:"success"`
	CleanedCount int64 `json:"cleanedCount"`
	FreedSpace   int64 `json:"freedSpace"`
}

// ExpiredReply 已过期未回收的积分
type ExpiredReply struct {
	Success bool     `json:"success"`
	Credits []*Grant `json:"credits"`
}

// failure 把错误转换为 success=false 的返回，数值上下文展开为数字字段
func failure(err error) (int, map[string]interface{}) {
	se := errors.FromError(err)
	reason := errs.Reason(err)
	body := map[string]interface{}{
		"success": false,
		"error":   reason,
		"message": se.Message,
	}
	status := int(se.Code)
	if reason == errs.ReasonDatabaseError {
		// 不对外暴露存储层细节
		body["message"] = "storage operation failed"
		status = stdhttp.StatusInternalServerError
	}
	for k, v := range se.Metadata {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			body[k] = n
		} else {
			body[k] = v
		}
	}
	return status, body
}

func writeError(ctx http.Context, err error) error {
	status, body := failure(err)
	return ctx.JSON(status, body)
}

func toProfileReply(p *biz.UserCreditProfile) *ProfileReply {
	return &ProfileReply{
		Success:            true,
		UserID:             p.UserID,
		DailyLimit:         p.DailyLimit,
		SignupBonusClaimed: p.SignupBonusClaimed,
	}
}

func toGrant(g *biz.CreditGrant) *Grant {
	return &Grant{
		GrantID:     g.ID,
		UserID:      g.UserID,
		Amount:      g.Amount,
		Remaining:   g.Remaining,
		Type:        string(g.Type),
		Description: g.Description,
		CreatedAt:   g.CreatedAt,
		ExpiresAt:   g.ExpiresAt,
		ConsumedAt:  g.ConsumedAt,
	}
}

func toGrants(grants []*biz.CreditGrant) []*Grant {
	out := make([]*Grant, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrant(g))
	}
	return out
}
