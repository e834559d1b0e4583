package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
)

// balanceCache 余额读缓存（Redis JSON）
type balanceCache struct {
	rdb *redis.Client
	log *log.Helper
}

// NewBalanceCache 创建余额缓存，未配置 Redis 时返回 nil（不缓存）
func NewBalanceCache(data *Data, logger log.Logger) biz.BalanceCache {
	if data.rdb == nil {
		return nil
	}
	return &balanceCache{
		rdb: data.rdb,
		log: log.NewHelper(logger),
	}
}

// errStaleGeneration 读存储期间有提交，放弃回填
var errStaleGeneration = errors.New("balance cache generation changed")

func balanceKey(userID string) string {
	return fmt.Sprintf("%s%s", constants.RedisKeyBalance, userID)
}

func balanceGenKey(userID string) string {
	return fmt.Sprintf("%s%s", constants.RedisKeyBalanceGen, userID)
}

func readGeneration(ctx context.Context, cmd redis.Cmdable, userID string) (int64, error) {
	gen, err := cmd.Get(ctx, balanceGenKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// Get 读取缓存，未命中返回 nil
func (c *balanceCache) Get(ctx context.Context, userID string) (*biz.BalanceResult, error) {
	raw, err := c.rdb.Get(ctx, balanceKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var result biz.BalanceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// 格式损坏的缓存直接丢弃
		c.log.Warnf("discard malformed balance cache: user_id=%s, error=%v", userID, err)
		_ = c.rdb.Del(ctx, balanceKey(userID)).Err()
		return nil, nil
	}
	return &result, nil
}

// Generation 读取当前代数，不存在视为 0
func (c *balanceCache) Generation(ctx context.Context, userID string) (int64, error) {
	cacheCtx, cacheCancel := context.WithTimeout(ctx, 1*time.Second)
	defer cacheCancel()
	return readGeneration(cacheCtx, c.rdb, userID)
}

// Set 在代数仍为 gen 时写入缓存（WATCH 代数 key）
func (c *balanceCache) Set(ctx context.Context, userID string, gen int64, balance *biz.BalanceResult, ttl time.Duration) error {
	raw, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("marshal balance failed: %w", err)
	}
	// 设置超时避免阻塞
	cacheCtx, cacheCancel := context.WithTimeout(ctx, 1*time.Second)
	defer cacheCancel()

	err = c.rdb.Watch(cacheCtx, func(tx *redis.Tx) error {
		cur, err := readGeneration(cacheCtx, tx, userID)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(cacheCtx, func(pipe redis.Pipeliner) error {
			pipe.Set(cacheCtx, balanceKey(userID), raw, ttl)
			return nil
		})
		return err
	}, balanceGenKey(userID))
	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		c.log.Debugf("skip stale balance cache write: user_id=%s, gen=%d", userID, gen)
		return nil
	}
	return err
}

// Invalidate 递增代数并删除缓存
func (c *balanceCache) Invalidate(ctx context.Context, userID string) error {
	cacheCtx, cacheCancel := context.WithTimeout(ctx, 1*time.Second)
	defer cacheCancel()
	_, err := c.rdb.TxPipelined(cacheCtx, func(pipe redis.Pipeliner) error {
		pipe.Incr(cacheCtx, balanceGenKey(userID))
		pipe.Expire(cacheCtx, balanceGenKey(userID), constants.DefaultBalanceGenTTL)
		pipe.Del(cacheCtx, balanceKey(userID))
		return nil
	})
	return err
}
