package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CreditMetrics 积分账本指标
type CreditMetrics struct {
	// 消耗相关指标
	ConsumeTotal    *prometheus.CounterVec // 消耗请求总数（按结果）
	ConsumeDuration prometheus.Histogram   // 消耗耗时
	ConsumedCredits prometheus.Counter     // 已消耗积分
	DailyLimitCheck *prometheus.CounterVec // 每日上限检查（按结果）

	// 发放相关指标
	GrantTotal     *prometheus.CounterVec // 发放次数（按类型）
	GrantedCredits *prometheus.CounterVec // 发放积分（按类型）
	BonusClaim     *prometheus.CounterVec // 注册奖励领取（按结果）

	// 余额相关指标
	BalanceQueryTotal *prometheus.CounterVec // 余额查询（按来源：cache/store）

	// 过期回收相关指标
	ReaperCleanedTotal prometheus.Counter // 回收积分条数
	ReaperFreedCredits prometheus.Counter // 回收积分数
	ReaperRunDuration  prometheus.Histogram

	// 用户锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewCreditMetrics 创建积分账本指标
func NewCreditMetrics() *CreditMetrics {
	return &CreditMetrics{
		ConsumeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_consume_total",
				Help: "Total number of credit consumption requests",
			},
			[]string{"result"}, // result: success/insufficient/daily_limit/error
		),
		ConsumeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_consume_duration_seconds",
				Help:    "Duration of credit consumption operations",
				Buckets: prometheus.DefBuckets,
			},
		),
		ConsumedCredits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_consumed_credits_total",
				Help: "Total credits consumed by users",
			},
		),
		DailyLimitCheck: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_daily_limit_check_total",
				Help: "Total number of daily limit checks",
			},
			[]string{"result"}, // result: allowed/denied
		),

		GrantTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_grant_total",
				Help: "Total number of credit grants issued",
			},
			[]string{"type"},
		),
		GrantedCredits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_granted_credits_total",
				Help: "Total credits issued",
			},
			[]string{"type"},
		),
		BonusClaim: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_signup_bonus_claim_total",
				Help: "Total number of signup bonus claims",
			},
			[]string{"result"},
		),

		BalanceQueryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_balance_query_total",
				Help: "Total number of valid-balance queries",
			},
			[]string{"source"}, // source: cache/store
		),

		ReaperCleanedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_reaper_cleaned_grants_total",
				Help: "Total number of expired grants reclaimed",
			},
		),
		ReaperFreedCredits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_reaper_freed_credits_total",
				Help: "Total unspent credits reclaimed on expiry",
			},
		),
		ReaperRunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_reaper_run_duration_seconds",
				Help:    "Duration of expired credit cleanup runs",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_lock_acquire_total",
				Help: "Total number of user lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_lock_acquire_duration_seconds",
				Help:    "Duration of user lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),
	}
}

// 全局指标实例（promauto 注册到默认 registry，只能创建一次）
var (
	defaultMetrics *CreditMetrics
	initOnce       sync.Once
)

// InitMetrics 初始化全局指标
func InitMetrics() {
	initOnce.Do(func() {
		defaultMetrics = NewCreditMetrics()
	})
}

// GetMetrics 获取全局指标实例
func GetMetrics() *CreditMetrics {
	InitMetrics()
	return defaultMetrics
}
