package biz

import (
	"context"
	"strings"
	"time"

	"credit-service/internal/constants"
	errs "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// maxGrantPageSize 积分记录分页上限
const maxGrantPageSize = 100

// AddCreditsRequest 发放积分请求
type AddCreditsRequest struct {
	GrantID     string // 可选，外部请求号派生的 ID，重复发放时返回已有记录
	UserID      string
	Amount      int64
	Type        GrantType
	Description string
	ExpiresAt   *time.Time
}

// GrantResult 发放结果
type GrantResult struct {
	GrantID   string
	UserID    string
	Amount    int64
	Type      GrantType
	ExpiresAt *time.Time
	CreatedAt time.Time
	Duplicate bool // GrantID 已存在，本次未重复发放
}

// GrantUseCase 积分发放
type GrantUseCase struct {
	grants   GrantRepo
	profiles ProfileRepo
	tx       Transaction
	locker   UserLocker
	clock    Clock
	notifier *LedgerNotifier
	log      *log.Helper
	metrics  *metrics.CreditMetrics
}

// NewGrantUseCase 创建发放 UseCase
func NewGrantUseCase(
	grants GrantRepo,
	profiles ProfileRepo,
	tx Transaction,
	locker UserLocker,
	clock Clock,
	notifier *LedgerNotifier,
	logger log.Logger,
) *GrantUseCase {
	return &GrantUseCase{
		grants:   grants,
		profiles: profiles,
		tx:       tx,
		locker:   locker,
		clock:    clock,
		notifier: notifier,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// AddCredits 新建一笔 remaining = amount 的积分记录，不受每日上限约束
func (uc *GrantUseCase) AddCredits(ctx context.Context, req *AddCreditsRequest) (*GrantResult, error) {
	now := uc.clock.Now()
	if err := validateAddCredits(req, now); err != nil {
		return nil, err
	}

	unlock, err := uc.locker.Lock(ctx, req.UserID)
	if err != nil {
		uc.log.Errorf("Failed to acquire user lock for add credits: user_id=%s, error=%v", req.UserID, err)
		return nil, errs.DatabaseError(err)
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	grant := &CreditGrant{
		ID:          req.GrantID,
		UserID:      req.UserID,
		Amount:      req.Amount,
		Remaining:   req.Amount,
		Type:        req.Type,
		Description: req.Description,
		CreatedAt:   now,
		ExpiresAt:   req.ExpiresAt,
	}
	if grant.ID == "" {
		grant.ID = NewGrantID()
	}

	var existing *CreditGrant
	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		profile, err := uc.profiles.GetProfile(ctx, req.UserID)
		if err != nil {
			return err
		}
		if profile == nil {
			return errs.ErrorUserNotFound(req.UserID)
		}
		if req.GrantID != "" {
			existing, err = uc.grants.GetGrant(ctx, req.GrantID)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.UserID != req.UserID {
					return errs.ErrorInvalidArgument("grant %s belongs to another user", req.GrantID)
				}
				return nil
			}
		}
		return uc.grants.CreateGrant(ctx, grant)
	})
	if err != nil {
		if errs.IsDatabaseError(err) {
			uc.log.Errorf("AddCredits failed: user_id=%s, amount=%d, error=%v", req.UserID, req.Amount, err)
		} else {
			uc.log.Warnf("AddCredits rejected: user_id=%s, amount=%d, reason=%s", req.UserID, req.Amount, errs.Reason(err))
		}
		return nil, errs.DatabaseError(err)
	}

	if existing != nil {
		uc.log.Infof("Grant already issued, skip: grant_id=%s, user_id=%s", existing.ID, existing.UserID)
		return toGrantResult(existing, true), nil
	}

	uc.log.Infof("Credits granted: grant_id=%s, user_id=%s, amount=%d, type=%s", grant.ID, grant.UserID, grant.Amount, grant.Type)
	if uc.metrics != nil {
		uc.metrics.GrantTotal.WithLabelValues(string(grant.Type)).Inc()
		uc.metrics.GrantedCredits.WithLabelValues(string(grant.Type)).Add(float64(grant.Amount))
	}
	uc.notifier.Committed(ctx, grant.UserID, &LedgerEvent{
		Type:       constants.LedgerEventGranted,
		UserID:     grant.UserID,
		Amount:     grant.Amount,
		GrantID:    grant.ID,
		GrantType:  grant.Type,
		OccurredAt: now,
	})
	return toGrantResult(grant, false), nil
}

// ListGrants 按创建时间倒序分页查询积分记录
func (uc *GrantUseCase) ListGrants(ctx context.Context, userID string, page, pageSize int) ([]*CreditGrant, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	pageSize = min(pageSize, maxGrantPageSize)

	grants, total, err := uc.grants.ListGrants(ctx, userID, page, pageSize)
	if err != nil {
		uc.log.Errorf("ListGrants failed: user_id=%s, error=%v", userID, err)
		return nil, 0, errs.DatabaseError(err)
	}
	return grants, total, nil
}

func validateAddCredits(req *AddCreditsRequest, now time.Time) error {
	if req == nil {
		return errs.ErrorInvalidArgument("request is required")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return errs.ErrorInvalidArgument("user_id is required")
	}
	if req.Amount <= 0 {
		return errs.ErrorInvalidArgument("amount must be positive, got %d", req.Amount)
	}
	t, ok := ParseGrantType(string(req.Type))
	if !ok {
		return errs.ErrorInvalidArgument("unknown grant type %q", req.Type)
	}
	req.Type = t
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return errs.ErrorInvalidArgument("expires_at must be in the future")
	}
	return nil
}

func toGrantResult(g *CreditGrant, duplicate bool) *GrantResult {
	return &GrantResult{
		GrantID:   g.ID,
		UserID:    g.UserID,
		Amount:    g.Amount,
		Type:      g.Type,
		ExpiresAt: g.ExpiresAt,
		CreatedAt: g.CreatedAt,
		Duplicate: duplicate,
	}
}
