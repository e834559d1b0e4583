package server

import (
	"context"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// expiredReaper 过期积分回收
type expiredReaper interface {
	CleanupExpiredCredits(ctx context.Context) (*biz.CleanupResult, error)
}

// ReaperServer 在服务进程内按 cron 回收过期积分
// 只在 memory 驱动下启用：账本在进程内存中，独立的 cmd/cron 进程无法访问
type ReaperServer struct {
	cron    *cron.Cron
	reaper  expiredReaper
	spec    string
	timeout time.Duration
	log     *log.Helper
	enabled bool
}

// NewReaperServer 创建进程内回收服务
func NewReaperServer(bc *conf.Bootstrap, cfg *biz.CreditConfig, uc *biz.CreditUseCase, logger log.Logger) *ReaperServer {
	return newReaperServer(bc.DatabaseDriver() == constants.DriverMemory, cfg.ReaperCron, uc, logger)
}

func newReaperServer(enabled bool, spec string, reaper expiredReaper, logger log.Logger) *ReaperServer {
	return &ReaperServer{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		reaper:  reaper,
		spec:    spec,
		timeout: 10 * time.Minute,
		log:     log.NewHelper(logger),
		enabled: enabled,
	}
}

// Start 注册回收任务并启动调度
func (s *ReaperServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.log.Infof("ReaperServer is disabled, expired credits are reaped by credit-cron")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, s.reap); err != nil {
		return fmt.Errorf("invalid reaper cron %q: %w", s.spec, err)
	}
	s.log.Infof("Starting ReaperServer, cron: %s", s.spec)
	s.cron.Start()
	return nil
}

// Stop 停止调度，等待正在执行的回收结束
func (s *ReaperServer) Stop(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	s.log.Info("Stopping ReaperServer")
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ReaperServer) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.reaper.CleanupExpiredCredits(ctx)
	if err != nil {
		s.log.Errorf("[REAPER] Error cleaning expired credits: %v", err)
		return
	}
	s.log.Infof("[REAPER] Expired credit cleanup completed: cleaned_count=%d, freed_space=%d", result.CleanedCount, result.FreedSpace)
}
