package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCreditConfig,
	NewSystemClock,
	NewCalendar,
	NewLedgerNotifier,
	NewConsumptionUseCase,
	NewBalanceUseCase,
	NewExpiryUseCase,
	NewBonusUseCase,
	NewGrantUseCase,
	NewUsageUseCase,
	NewProfileUseCase,
	NewCreditUseCase, // 组合 UseCase
)
