package conf

import (
	"strings"
	"time"

	"credit-service/internal/constants"
)

// Bootstrap 启动配置（由 kratos config 从 YAML 扫描）
type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Credit *Credit `json:"credit"`
}

// DatabaseDriver 返回配置的存储驱动（小写），未配置时为 mysql
func (c *Bootstrap) DatabaseDriver() string {
	if c == nil || c.Data == nil || c.Data.Database == nil {
		return constants.DriverMySQL
	}
	if d := strings.ToLower(strings.TrimSpace(c.Data.Database.Driver)); d != "" {
		return d
	}
	return constants.DriverMySQL
}

// Server 服务端配置
type Server struct {
	Http *Server_HTTP `json:"http"`
	Grpc *Server_GRPC `json:"grpc"`
}

// Server_HTTP HTTP 服务配置
type Server_HTTP struct {
	Network string   `json:"network"`
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

// Server_GRPC gRPC 服务配置
type Server_GRPC struct {
	Network string   `json:"network"`
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

// Data 数据层配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_RocketMQ `json:"rocketmq"`
}

// Data_Database 数据库配置
type Data_Database struct {
	Driver      string `json:"driver"` // mysql / sqlite / memory
	Source      string `json:"source"`
	AutoMigrate bool   `json:"auto_migrate"`
}

// Data_Redis Redis 配置，Addr 为空时不启用缓存和分布式锁
type Data_Redis struct {
	Addr         string   `json:"addr"`
	Password     string   `json:"password"`
	DB           int      `json:"db"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
}

// Data_RocketMQ RocketMQ 配置
type Data_RocketMQ struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`       // 账本事件
	GrantTopic  string   `json:"grant_topic"` // 发放积分请求（购买/邀请）
	RetryTimes  int32    `json:"retry_times"`
}

// Credit 积分账本配置
type Credit struct {
	Timezone             string   `json:"timezone"`
	DefaultDailyLimit    int64    `json:"default_daily_limit"`
	SignupBonusAmount    int64    `json:"signup_bonus_amount"`
	SignupBonusExpiresIn Duration `json:"signup_bonus_expires_in"`
	ExpiringHorizon      Duration `json:"expiring_horizon"`
	ReaperBatchSize      int      `json:"reaper_batch_size"`
	ReaperCron           string   `json:"reaper_cron"`
	LockExpiry           Duration `json:"lock_expiry"`
	BalanceCacheTTL      Duration `json:"balance_cache_ttl"`
}

// Duration 配置文件中的时长字符串，如 "5s"、"168h"
type Duration string

// AsDuration 解析时长，空值或非法值返回 0
func (d Duration) AsDuration() time.Duration {
	if d == "" {
		return 0
	}
	v, err := time.ParseDuration(string(d))
	if err != nil {
		return 0
	}
	return v
}

// Or 解析时长，结果不大于 0 时返回默认值
func (d Duration) Or(def time.Duration) time.Duration {
	if v := d.AsDuration(); v > 0 {
		return v
	}
	return def
}
