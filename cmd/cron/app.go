package main

import (
	"fmt"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
)

// CronApp Cron 应用结构
type CronApp struct {
	creditUsecase *biz.CreditUseCase
	creditConfig  *biz.CreditConfig
}

// checkStore credit-cron 只能回收持久化存储中的账本
// memory 驱动的账本只存在于 credit-service 进程内，由其 ReaperServer 回收
func checkStore(bc *conf.Bootstrap) error {
	if driver := bc.DatabaseDriver(); driver == constants.DriverMemory {
		return fmt.Errorf("credit-cron does not support database driver %q: the in-memory ledger is reaped inside credit-service", driver)
	}
	return nil
}
