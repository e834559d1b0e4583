package data

import (
	"context"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// userLocker 用户级互斥：进程内锁 + Redis 分布式锁（配置了 Redis 时）
// 数据库行锁（LockProfile）作为最后一层保护
type userLocker struct {
	local   biz.UserLocker
	sync    *redsync.Redsync
	expiry  time.Duration
	log     *log.Helper
	metrics *metrics.CreditMetrics
}

// NewUserLocker 创建用户锁
func NewUserLocker(data *Data, conf *biz.CreditConfig, logger log.Logger) biz.UserLocker {
	l := &userLocker{
		local:   biz.NewLocalUserLocker(),
		expiry:  conf.LockExpiry,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
	if data.rdb != nil {
		l.sync = redsync.New(goredis.NewPool(data.rdb))
	}
	return l
}

// Lock 先获取进程内锁，再获取分布式锁
func (l *userLocker) Lock(ctx context.Context, userID string) (func(), error) {
	lockStartTime := time.Now()
	unlockLocal, err := l.local.Lock(ctx, userID)
	if err != nil {
		l.observe(constants.LockResultFailed, lockStartTime)
		return nil, err
	}
	if l.sync == nil {
		l.observe(constants.LockResultSuccess, lockStartTime)
		return unlockLocal, nil
	}

	lockKey := fmt.Sprintf("%s%s", constants.RedisKeyUserLock, userID)
	mutex := l.sync.NewMutex(lockKey, redsync.WithExpiry(l.expiry))
	if err := mutex.LockContext(ctx); err != nil {
		unlockLocal()
		l.log.Errorf("Failed to acquire user lock: user_id=%s, error=%v", userID, err)
		l.observe(constants.LockResultFailed, lockStartTime)
		return nil, err
	}
	l.observe(constants.LockResultSuccess, lockStartTime)

	return func() {
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			l.log.Warnf("Failed to release user lock: user_id=%s, error=%v", userID, err)
		}
		unlockLocal()
	}, nil
}

func (l *userLocker) observe(result string, start time.Time) {
	if l.metrics == nil {
		return
	}
	l.metrics.LockAcquireTotal.WithLabelValues(result).Inc()
	l.metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
}
