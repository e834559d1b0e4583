package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/go-kratos/kratos/v2/errors"
)

// Credit Service 错误原因定义
// Reason 直接作为对外返回的 error 字段，业务失败携带的数值上下文放在 Metadata 中：
//   INSUFFICIENT_CREDITS  -> available, requested
//   DAILY_LIMIT_EXCEEDED  -> dailyUsed, dailyLimit, dailyRemaining
const (
	// ReasonUserNotFound 用户不存在
	ReasonUserNotFound = "USER_NOT_FOUND"
	// ReasonInsufficientCredits 可用积分不足
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
	// ReasonDailyLimitExceeded 超出每日消耗上限
	ReasonDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
	// ReasonBonusAlreadyClaimed 注册奖励已领取
	ReasonBonusAlreadyClaimed = "BONUS_ALREADY_CLAIMED"
	// ReasonDatabaseError 存储层错误
	ReasonDatabaseError = "DATABASE_ERROR"
	// ReasonInvalidArgument 参数错误
	ReasonInvalidArgument = "INVALID_ARGUMENT"
)

// Metadata key 常量
const (
	MetaAvailable      = "available"
	MetaRequested      = "requested"
	MetaDailyUsed      = "dailyUsed"
	MetaDailyLimit     = "dailyLimit"
	MetaDailyRemaining = "dailyRemaining"
)

// ErrorUserNotFound 用户不存在
func ErrorUserNotFound(userID string) *errors.Error {
	return errors.New(404, ReasonUserNotFound, fmt.Sprintf("user %s not found", userID))
}

// ErrorInsufficientCredits 可用积分不足
func ErrorInsufficientCredits(available, requested int64) *errors.Error {
	return errors.New(409, ReasonInsufficientCredits,
		fmt.Sprintf("only %d credits remaining, %d requested", available, requested)).
		WithMetadata(map[string]string{
			MetaAvailable: strconv.FormatInt(available, 10),
			MetaRequested: strconv.FormatInt(requested, 10),
		})
}

// ErrorDailyLimitExceeded 超出每日消耗上限
func ErrorDailyLimitExceeded(dailyUsed, dailyLimit int64) *errors.Error {
	remaining := dailyLimit - dailyUsed
	if remaining < 0 {
		remaining = 0
	}
	return errors.New(429, ReasonDailyLimitExceeded,
		fmt.Sprintf("daily limit %d reached, %d used, %d remaining", dailyLimit, dailyUsed, remaining)).
		WithMetadata(map[string]string{
			MetaDailyUsed:      strconv.FormatInt(dailyUsed, 10),
			MetaDailyLimit:     strconv.FormatInt(dailyLimit, 10),
			MetaDailyRemaining: strconv.FormatInt(remaining, 10),
		})
}

// ErrorBonusAlreadyClaimed 注册奖励已领取
func ErrorBonusAlreadyClaimed(userID string) *errors.Error {
	return errors.New(409, ReasonBonusAlreadyClaimed, fmt.Sprintf("signup bonus already claimed by user %s", userID))
}

// ErrorInvalidArgument 参数错误
func ErrorInvalidArgument(format string, args ...interface{}) *errors.Error {
	return errors.New(400, ReasonInvalidArgument, fmt.Sprintf(format, args...))
}

// DatabaseError 将存储层错误归一化为 DATABASE_ERROR
// 已经是业务错误（带 Reason）的直接透传，避免二次包装
func DatabaseError(err error) error {
	if err == nil {
		return nil
	}
	var se *errors.Error
	if stderrors.As(err, &se) && se.Reason != "" {
		return err
	}
	return errors.New(500, ReasonDatabaseError, "storage operation failed").WithCause(err)
}

// Reason 返回错误原因，非 kratos 错误返回 DATABASE_ERROR
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var se *errors.Error
	if stderrors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return ReasonDatabaseError
}

// Metadata 返回错误携带的上下文
func Metadata(err error) map[string]string {
	var se *errors.Error
	if stderrors.As(err, &se) {
		return se.Metadata
	}
	return nil
}

// IsUserNotFound 是否用户不存在
func IsUserNotFound(err error) bool { return Reason(err) == ReasonUserNotFound }

// IsInsufficientCredits 是否积分不足
func IsInsufficientCredits(err error) bool { return Reason(err) == ReasonInsufficientCredits }

// IsDailyLimitExceeded 是否超出每日上限
func IsDailyLimitExceeded(err error) bool { return Reason(err) == ReasonDailyLimitExceeded }

// IsBonusAlreadyClaimed 是否注册奖励已领取
func IsBonusAlreadyClaimed(err error) bool { return Reason(err) == ReasonBonusAlreadyClaimed }

// IsDatabaseError 是否存储层错误
func IsDatabaseError(err error) bool { return err != nil && Reason(err) == ReasonDatabaseError }
