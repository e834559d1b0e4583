package data

import (
	"context"
	"fmt"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
	"credit-service/internal/data/memory"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/wire"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewRedis,
	NewMemoryStore,
	NewRocketMQProducer,
	NewData,
	NewTransaction,
	NewCreditGrantRepo,
	NewDailyUsageRepo,
	NewCreditProfileRepo,
	NewUserLocker,
	NewBalanceCache,
	NewLedgerEventPublisher,
)

// Data 数据层结构体
// driver 为 memory 时 db 为 nil，所有 repo 由 mem 提供
type Data struct {
	db     *gorm.DB
	rdb    *redis.Client
	mem    *memory.Store
	driver string
}

type contextTxKey struct{}

// NewDB 创建数据库连接，memory 驱动返回 nil
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	driver := c.DatabaseDriver()
	if driver == constants.DriverMemory {
		return nil, nil
	}
	if c.Data == nil || c.Data.Database == nil {
		return nil, fmt.Errorf("database config is nil")
	}

	var dialector gorm.Dialector
	switch driver {
	case constants.DriverMySQL:
		dialector = mysql.Open(c.Data.Database.Source)
	case constants.DriverSQLite:
		dialector = sqlite.Open(c.Data.Database.Source)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if driver == constants.DriverSQLite {
		// SQLite 只允许一个写连接
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if c.Data.Database.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, nil
}

// Migrate 创建或更新积分账本表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.CreditGrant{}, &model.DailyUsage{}, &model.CreditProfile{})
}

// NewRedis 创建 Redis 连接，未配置地址时返回 nil（不启用缓存和分布式锁）
func NewRedis(c *conf.Bootstrap) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis == nil || c.Data.Redis.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		Password:     c.Data.Redis.Password,
		DB:           c.Data.Redis.DB,
		ReadTimeout:  c.Data.Redis.ReadTimeout.AsDuration(),
		WriteTimeout: c.Data.Redis.WriteTimeout.AsDuration(),
	})

	// 测试连接
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewMemoryStore 创建进程内存储，仅 memory 驱动启用
func NewMemoryStore(c *conf.Bootstrap) *memory.Store {
	if c.DatabaseDriver() != constants.DriverMemory {
		return nil
	}
	return memory.NewStore()
}

// NewData 创建数据层实例
func NewData(c *conf.Bootstrap, logger log.Logger, db *gorm.DB, rdb *redis.Client, mem *memory.Store) (*Data, func(), error) {
	driver := c.DatabaseDriver()
	if db == nil && mem == nil {
		return nil, nil, fmt.Errorf("no storage configured for driver %s", driver)
	}

	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.NewHelper(logger).Errorf("failed to close redis: %v", err)
			}
		}
	}

	return &Data{
		db:     db,
		rdb:    rdb,
		mem:    mem,
		driver: driver,
	}, cleanup, nil
}

// DB 返回 ctx 中的事务，没有事务时返回普通连接
func (d *Data) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}

// InTx 在数据库事务内执行 fn，嵌套调用复用外层事务
func (d *Data) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
}

// forUpdate 事务内对查询加行锁；SQLite 单连接本身串行，不支持 FOR UPDATE
func (d *Data) forUpdate(ctx context.Context, db *gorm.DB) *gorm.DB {
	if d.driver != constants.DriverMySQL {
		return db
	}
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); !ok {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// NewTransaction 创建事务管理器
func NewTransaction(d *Data) biz.Transaction {
	if d.mem != nil {
		return d.mem
	}
	return d
}
