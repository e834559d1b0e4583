package biz

import (
	"time"

	"credit-service/internal/constants"
)

// Clock 提供当前时间，测试中可固定
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewSystemClock 创建系统时钟
func NewSystemClock() Clock {
	return systemClock{}
}

// ClockFunc 函数形式的 Clock
type ClockFunc func() time.Time

// Now 实现 Clock
func (f ClockFunc) Now() time.Time { return f() }

// Calendar 将时间点解析为指定时区的自然日，用于每日消耗统计
type Calendar struct {
	loc *time.Location
}

// NewCalendar 根据配置的时区创建 Calendar
func NewCalendar(conf *CreditConfig) *Calendar {
	return NewCalendarIn(conf.Location)
}

// NewCalendarIn 创建指定时区的 Calendar，loc 为空时使用 UTC
func NewCalendarIn(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc}
}

// DayOf 返回 t 在配置时区下的自然日 (YYYY-MM-DD)
func (c *Calendar) DayOf(t time.Time) string {
	return t.In(c.loc).Format(constants.TimeFormatDay)
}

// LastDays 返回截至 t 所在日（含）的最近 n 个自然日，按日期升序
func (c *Calendar) LastDays(t time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	local := t.In(c.loc)
	// 以当地正午为基准回退，避开夏令时切换导致的跨日误差
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, c.loc)
	days := make([]string, n)
	for i := 0; i < n; i++ {
		days[n-1-i] = noon.AddDate(0, 0, -i).Format(constants.TimeFormatDay)
	}
	return days
}
