package biz

import (
	"context"
	"strings"

	errs "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// UserCreditProfile 用户积分配置（由身份服务维护，账本只读，除 SignupBonusClaimed 外）
type UserCreditProfile struct {
	UserID             string
	DailyLimit         int64
	SignupBonusClaimed bool
}

// ProfileRepo 用户积分配置数据层接口（定义在 biz 层）
type ProfileRepo interface {
	// GetProfile 用户不存在时返回 nil, nil
	GetProfile(ctx context.Context, userID string) (*UserCreditProfile, error)
	// LockProfile 在事务内读取并锁定用户行，作为用户级互斥的存储层兜底
	LockProfile(ctx context.Context, userID string) (*UserCreditProfile, error)
	// MarkSignupBonusClaimed 仅当尚未领取时置为已领取，返回是否本次置位
	MarkSignupBonusClaimed(ctx context.Context, userID string) (bool, error)
	// UpsertProfile 同步用户与每日上限，不修改领取标记
	UpsertProfile(ctx context.Context, profile *UserCreditProfile) error
}

// ProfileUseCase 用户积分配置同步
type ProfileUseCase struct {
	repo ProfileRepo
	conf *CreditConfig
	log  *log.Helper
}

// NewProfileUseCase 创建用户配置 UseCase
func NewProfileUseCase(repo ProfileRepo, conf *CreditConfig, logger log.Logger) *ProfileUseCase {
	return &ProfileUseCase{
		repo: repo,
		conf: conf,
		log:  log.NewHelper(logger),
	}
}

// UpsertProfile 注册用户或修改每日上限，dailyLimit <= 0 时使用默认上限
func (uc *ProfileUseCase) UpsertProfile(ctx context.Context, userID string, dailyLimit int64) (*UserCreditProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errs.ErrorInvalidArgument("user_id is required")
	}
	if dailyLimit <= 0 {
		dailyLimit = uc.conf.DefaultDailyLimit
	}
	if err := uc.repo.UpsertProfile(ctx, &UserCreditProfile{UserID: userID, DailyLimit: dailyLimit}); err != nil {
		uc.log.Errorf("UpsertProfile failed: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}
	return uc.GetProfile(ctx, userID)
}

// GetProfile 获取用户配置，未注册返回 USER_NOT_FOUND
func (uc *ProfileUseCase) GetProfile(ctx context.Context, userID string) (*UserCreditProfile, error) {
	p, err := uc.repo.GetProfile(ctx, userID)
	if err != nil {
		uc.log.Errorf("GetProfile failed: user_id=%s, error=%v", userID, err)
		return nil, errs.DatabaseError(err)
	}
	if p == nil {
		return nil, errs.ErrorUserNotFound(userID)
	}
	return p, nil
}
