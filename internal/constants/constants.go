package constants

import "time"

// 时间格式常量
const (
	// TimeFormatDay 自然日格式 (YYYY-MM-DD)，用于每日消耗统计
	TimeFormatDay = "2006-01-02"
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 可用余额缓存 key 前缀
	RedisKeyBalance = "credit:balance:"
	// RedisKeyBalanceGen 余额缓存代数 key 前缀，每次提交递增
	RedisKeyBalanceGen = "credit:balance:gen:"
	// RedisKeyUserLock 用户级互斥锁 key 前缀
	RedisKeyUserLock = "credit:lock:"
)

// 默认值常量
const (
	// DefaultDailyLimit 默认每日消耗上限
	DefaultDailyLimit int64 = 100
	// DefaultSignupBonusAmount 注册奖励积分
	DefaultSignupBonusAmount int64 = 100
	// DefaultExpiringHorizon 即将过期积分的统计窗口
	DefaultExpiringHorizon = 7 * 24 * time.Hour
	// DefaultReaperBatchSize 过期回收单批处理的积分条数
	DefaultReaperBatchSize = 500
	// DefaultReaperCron 过期回收定时表达式（秒级）
	DefaultReaperCron = "0 */10 * * * *"
	// DefaultLockExpiry 分布式锁过期时间
	DefaultLockExpiry = 5 * time.Second
	// DefaultBalanceCacheTTL 余额缓存最长有效期
	DefaultBalanceCacheTTL = 30 * time.Second
	// DefaultBalanceGenTTL 余额缓存代数的保留时间，必须远大于一次余额查询的耗时
	DefaultBalanceGenTTL = 7 * 24 * time.Hour
	// DefaultTimezone 默认时区
	DefaultTimezone = "UTC"
)

// 积分来源类型常量
const (
	// GrantTypePurchase 购买
	GrantTypePurchase = "purchase"
	// GrantTypeBonus 注册奖励
	GrantTypeBonus = "bonus"
	// GrantTypeReferral 邀请奖励
	GrantTypeReferral = "referral"
	// GrantTypeAdminAdjustment 管理员调整
	GrantTypeAdminAdjustment = "admin_adjustment"
	// GrantTypeOther 其他
	GrantTypeOther = "other"
)

// 账本事件类型常量（RocketMQ 消息 tag）
const (
	// LedgerEventGranted 发放积分
	LedgerEventGranted = "granted"
	// LedgerEventConsumed 消耗积分
	LedgerEventConsumed = "consumed"
	// LedgerEventDebited 管理员扣减
	LedgerEventDebited = "debited"
	// LedgerEventExpired 过期回收
	LedgerEventExpired = "expired"
)

// 消耗结果常量（用于指标）
const (
	// ConsumeResultSuccess 成功
	ConsumeResultSuccess = "success"
	// ConsumeResultInsufficient 余额不足
	ConsumeResultInsufficient = "insufficient"
	// ConsumeResultDailyLimit 超出每日上限
	ConsumeResultDailyLimit = "daily_limit"
	// ConsumeResultError 错误
	ConsumeResultError = "error"
)

// 锁获取结果常量（用于指标）
const (
	// LockResultSuccess 成功
	LockResultSuccess = "success"
	// LockResultFailed 失败
	LockResultFailed = "failed"
)

// 数据库驱动常量
const (
	// DriverMySQL MySQL
	DriverMySQL = "mysql"
	// DriverSQLite SQLite（单机/测试）
	DriverSQLite = "sqlite"
	// DriverMemory 进程内存储（单实例）
	DriverMemory = "memory"
)

// 默认 RocketMQ 主题
const (
	// TopicLedgerEvents 账本事件主题
	TopicLedgerEvents = "credit_ledger_events"
	// TopicGrantRequests 积分发放请求主题
	TopicGrantRequests = "credit_grant_requests"
)
