package service

import (
	"context"
	"strconv"
	"time"

	"credit-service/internal/biz"
	errs "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// ConsumeRequest 消耗积分请求
type ConsumeRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// AddCreditsRequest 发放积分请求（购买/邀请/其他）
type AddCreditsRequest struct {
	RequestID   string     `json:"request_id"` // 可选，同一请求号只发放一次
	UserID      string     `json:"user_id"`
	Amount      int64      `json:"amount"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// AdjustRequest 管理员调整请求
type AdjustRequest struct {
	UserID      string `json:"user_id"`
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
}

// ProfileRequest 用户配置同步请求
type ProfileRequest struct {
	DailyLimit int64 `json:"daily_limit"`
}

// CreditService 积分账本 HTTP 服务
// /v1 面向前端，/internal/v1 面向身份服务、管理后台和运维
type CreditService struct {
	uc  *biz.CreditUseCase
	log *log.Helper
}

// NewCreditService 创建 CreditService
func NewCreditService(uc *biz.CreditUseCase, logger log.Logger) *CreditService {
	return &CreditService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// RegisterCreditHTTPServer 注册积分账本路由
func RegisterCreditHTTPServer(srv *http.Server, s *CreditService) {
	r := srv.Route("/")
	r.POST("/v1/credits/consume", s.ConsumeCredits)
	r.GET("/v1/users/{user_id}/credits", s.GetValidCredits)
	r.GET("/v1/users/{user_id}/daily-limit", s.CheckDailyLimit)
	r.GET("/v1/users/{user_id}/grants", s.ListGrants)
	r.GET("/v1/users/{user_id}/usage", s.ListDailyUsage)
	r.POST("/v1/users/{user_id}/signup-bonus", s.GrantSignupBonus)

	r.POST("/internal/v1/credits/grant", s.AddCredits)
	r.POST("/internal/v1/credits/adjust", s.AdjustCredits)
	r.GET("/internal/v1/users/{user_id}/profile", s.GetProfile)
	r.PUT("/internal/v1/users/{user_id}/profile", s.UpsertProfile)
	r.POST("/internal/v1/credits/cleanup", s.CleanupExpiredCredits)
	r.GET("/internal/v1/credits/expired", s.GetExpiredCredits)
}

// call 经过服务端中间件（recovery 等）执行 fn
func call[T any](ctx http.Context, req interface{}, fn func(ctx context.Context) (T, error)) (T, error) {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return fn(c)
	})
	out, err := h(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

// ConsumeCredits 消耗积分
func (s *CreditService) ConsumeCredits(ctx http.Context) error {
	var req ConsumeRequest
	if err := ctx.Bind(&req); err != nil {
		return s.badRequest(ctx, err)
	}
	res, err := call(ctx, &req, func(c context.Context) (*biz.ConsumeResult, error) {
		return s.uc.ConsumeCredits(c, req.UserID, req.Amount)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &ConsumeReply{
		Success:       true,
		Consumed:      res.Consumed,
		Transactions:  res.Transactions,
		NewDailyTotal: res.NewDailyTotal,
	})
}

// GetValidCredits 查询可用余额
func (s *CreditService) GetValidCredits(ctx http.Context) error {
	userID := ctx.Vars().Get("user_id")
	res, err := call(ctx, userID, func(c context.Context) (*biz.BalanceResult, error) {
		return s.uc.GetValidCredits(c, userID)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	expiring := res.ExpiringCredits
	if expiring == nil {
		expiring = []biz.ExpiringCredit{}
	}
	return ctx.JSON(200, &BalanceReply{
		Success:         true,
		UserID:          res.UserID,
		TotalValid:      res.TotalValid,
		ExpiringCredits: expiring,
		CalculatedAt:    res.CalculatedAt,
	})
}

// CheckDailyLimit 检查本次消耗是否超出每日上限
func (s *CreditService) CheckDailyLimit(ctx http.Context) error {
	userID := ctx.Vars().Get("user_id")
	amount, err := queryInt(ctx, "amount", 0)
	if err != nil {
		return s.badRequest(ctx, err)
	}
	res, err := call(ctx, userID, func(c context.Context) (*biz.DailyLimitStatus, error) {
		return s.uc.CheckDailyLimit(c, userID, amount)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &DailyLimitReply{
		Success:        true,
		CanConsume:     res.CanConsume,
		DailyUsed:      res.DailyUsed,
		DailyLimit:     res.DailyLimit,
		DailyRemaining: res.DailyRemaining,
	})
}

// ListGrants 积分记录分页
func (s *CreditService) ListGrants(ctx http.Context) error {
	userID := ctx.Vars().Get("user_id")
	page, err := queryInt(ctx, "page", 1)
	if err != nil {
		return s.badRequest(ctx, err)
	}
	pageSize, err := queryInt(ctx, "page_size", 20)
	if err != nil {
		return s.badRequest(ctx, err)
	}

	type listResult struct {
		grants []*biz.CreditGrant
		total  int64
	}
	res, err := call(ctx, userID, func(c context.Context) (*listResult, error) {
		grants, total, err := s.uc.ListGrants(c, userID, int(page), int(pageSize))
		if err != nil {
			return nil, err
		}
		return &listResult{grants: grants, total: total}, nil
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &ListGrantsReply{
		Success:  true,
		Total:    res.total,
		Page:     int(page),
		PageSize: int(pageSize),
		Grants:   toGrants(res.grants),
	})
}

// ListDailyUsage 最近 N 天的每日消耗
func (s *CreditService) ListDailyUsage(ctx http.Context) error {
	userID := ctx.Vars().Get("user_id")
	days, err := queryInt(ctx, "days", 7)
	if err != nil {
		return s.badRequest(ctx, err)
	}
	usage, err := call(ctx, userID, func(c context.Context) ([]*biz.DailyUsage, error) {
		return s.uc.ListDailyUsage(c, userID, int(days))
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &UsageReply{Success: true, Usage: usage})
}

// GrantSignupBonus 领取注册奖励
func (s *CreditService) GrantSignupBonus(ctx http.Context) error {
	userID := ctx.Vars().Get("user_id")
	res, err := call(ctx, userID, func(c context.Context) (*biz.BonusResult, error) {
		return s.uc.GrantSignupBonus(c, userID)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &BonusReply{
		Success:      true,
		Amount:       res.Amount,
		BonusClaimed: res.BonusClaimed,
		GrantID:      res.GrantID,
		ExpiresAt:    res.ExpiresAt,
	})
}

// AddCredits 发放积分
func (s *CreditService) AddCredits(ctx http.Context) error {
	var req AddCreditsRequest
	if err := ctx.Bind(&req); err != nil {
		return s.badRequest(ctx, err)
	}
	addReq := &biz.AddCreditsRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        biz.GrantType(req.Type),
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
	}
	if req.RequestID != "" {
		addReq.GrantID = biz.GrantIDFromRequest(req.RequestID)
	}
	res, err := call(ctx, &req, func(c context.Context) (*biz.GrantResult, error) {
		return s.uc.AddCredits(c, addReq)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &AddCreditsReply{
		Success:       true,
		TransactionID: res.GrantID,
		UserID:        res.UserID,
		Amount:        res.Amount,
		Type:          string(res.Type),
		ExpiresAt:     res.ExpiresAt,
		Duplicate:     res.Duplicate,
	})
}

// AdjustCredits 管理员调整积分
func (s *CreditService) AdjustCredits(ctx http.Context) error {
	var req AdjustRequest
	if err := ctx.Bind(&req); err != nil {
		return s.badRequest(ctx, err)
	}
	res, err := call(ctx, &req, func(c context.Context) (*biz.AdjustResult, error) {
		return s.uc.AdjustCredits(c, req.UserID, req.Delta, req.Description)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &AdjustReply{
		Success:      true,
		UserID:       res.UserID,
		Delta:        res.Delta,
		GrantID:      res.GrantID,
		Transactions: res.Transactions,
	})
}

// GetProfile 查询用户配置
func (s *CreditService) GetProfile(ctx http.Context) error {
	userID := ctx.Vars().Get("user_id")
	res, err := call(ctx, userID, func(c context.Context) (*biz.UserCreditProfile, error) {
		return s.uc.GetProfile(c, userID)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, toProfileReply(res))
}

// UpsertProfile 同步用户配置
func (s *CreditService) UpsertProfile(ctx http.Context) error {
	var req ProfileRequest
	if err := ctx.Bind(&req); err != nil {
		return s.badRequest(ctx, err)
	}
	userID := ctx.Vars().Get("user_id")
	res, err := call(ctx, &req, func(c context.Context) (*biz.UserCreditProfile, error) {
		return s.uc.UpsertProfile(c, userID, req.DailyLimit)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, toProfileReply(res))
}

// CleanupExpiredCredits 手动触发过期回收
func (s *CreditService) CleanupExpiredCredits(ctx http.Context) error {
	res, err := call(ctx, nil, func(c context.Context) (*biz.CleanupResult, error) {
		return s.uc.CleanupExpiredCredits(c)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &CleanupReply{
		Success:      true,
		CleanedCount: res.CleanedCount,
		FreedSpace:   res.FreedSpace,
	})
}

// GetExpiredCredits 已过期但尚未回收的积分
func (s *CreditService) GetExpiredCredits(ctx http.Context) error {
	grants, err := call(ctx, nil, func(c context.Context) ([]*biz.CreditGrant, error) {
		return s.uc.GetExpiredCredits(c)
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(200, &ExpiredReply{Success: true, Credits: toGrants(grants)})
}

func (s *CreditService) badRequest(ctx http.Context, err error) error {
	s.log.WithContext(ctx).Warnf("invalid request: path=%s, error=%v", ctx.Request().URL.Path, err)
	return writeError(ctx, errs.ErrorInvalidArgument("invalid request: %v", err))
}

// queryInt 读取整数查询参数，缺省时返回 def
func queryInt(ctx http.Context, key string, def int64) (int64, error) {
	v := ctx.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
