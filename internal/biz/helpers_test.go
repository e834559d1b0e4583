package biz_test

import (
	"context"
	"io"
	"sync"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/memory"

	"github.com/go-kratos/kratos/v2/log"
)

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

// ledger 基于内存存储组装的完整账本
type ledger struct {
	store     *memory.Store
	cache     *fakeCache
	publisher *fakePublisher
	conf      *biz.CreditConfig
	locker    biz.UserLocker
	now       time.Time
	uc        *biz.CreditUseCase
}

func newLedger(opts ...func(*biz.CreditConfig)) *ledger {
	l := &ledger{
		store:     memory.NewStore(),
		cache:     newFakeCache(),
		publisher: &fakePublisher{},
		conf:      biz.DefaultCreditConfig(),
		now:       testNow,
	}
	for _, opt := range opts {
		opt(l.conf)
	}

	logger := log.NewStdLogger(io.Discard)
	clock := biz.ClockFunc(func() time.Time { return l.now })
	calendar := biz.NewCalendar(l.conf)
	locker := biz.NewLocalUserLocker()
	l.locker = locker
	notifier := biz.NewLedgerNotifier(l.cache, l.publisher, logger)

	consumption := biz.NewConsumptionUseCase(l.store, l.store, l.store, l.store, locker, clock, calendar, l.conf, notifier, logger)
	l.uc = biz.NewCreditUseCase(
		consumption,
		biz.NewBalanceUseCase(l.store, l.cache, clock, l.conf, logger),
		biz.NewExpiryUseCase(l.store, l.store, locker, clock, l.conf, notifier, logger),
		biz.NewBonusUseCase(l.store, l.store, l.store, locker, clock, l.conf, notifier, logger),
		biz.NewGrantUseCase(l.store, l.store, l.store, locker, clock, notifier, logger),
		biz.NewUsageUseCase(l.store, clock, calendar, logger),
		biz.NewProfileUseCase(l.store, l.conf, logger),
		logger,
	)
	return l
}

func (l *ledger) user(userID string, dailyLimit int64) {
	l.store.PutProfile(&biz.UserCreditProfile{UserID: userID, DailyLimit: dailyLimit})
}

// grant 写入一笔积分，expiresIn 为 0 表示永不过期
func (l *ledger) grant(id, userID string, remaining int64, createdAgo, expiresIn time.Duration) *biz.CreditGrant {
	g := &biz.CreditGrant{
		ID:        id,
		UserID:    userID,
		Amount:    remaining,
		Remaining: remaining,
		Type:      biz.GrantTypePurchase,
		CreatedAt: l.now.Add(-createdAgo),
	}
	if expiresIn != 0 {
		at := l.now.Add(expiresIn)
		g.ExpiresAt = &at
	}
	l.store.PutGrant(g)
	return g
}

func (l *ledger) get(id string) *biz.CreditGrant {
	g, err := l.store.GetGrant(context.Background(), id)
	if err != nil || g == nil {
		panic("grant not found: " + id)
	}
	return g
}

func (l *ledger) usage(userID string) int64 {
	used, _ := l.store.GetDailyUsage(context.Background(), userID, l.now.In(l.conf.Location).Format("2006-01-02"))
	return used
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]*biz.BalanceResult
	ttls        map[string]time.Duration
	gens        map[string]int64
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string]*biz.BalanceResult),
		ttls:    make(map[string]time.Duration),
		gens:    make(map[string]int64),
	}
}

func (c *fakeCache) Get(_ context.Context, userID string) (*biz.BalanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[userID], nil
}

func (c *fakeCache) Generation(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID], nil
}

func (c *fakeCache) Set(_ context.Context, userID string, gen int64, balance *biz.BalanceResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != gen {
		return nil
	}
	c.entries[userID] = balance
	c.ttls[userID] = ttl
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[userID]++
	delete(c.entries, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*biz.LedgerEvent
}

func (p *fakePublisher) Publish(_ context.Context, event *biz.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// pausingGrantRepo 第一次读取可用积分后暂停，直到 release 关闭
type pausingGrantRepo struct {
	biz.GrantRepo
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingGrantRepo(repo biz.GrantRepo) *pausingGrantRepo {
	return &pausingGrantRepo{GrantRepo: repo, read: make(chan struct{}), release: make(chan struct{})}
}

func (r *pausingGrantRepo) ListSpendableGrants(ctx context.Context, userID string, now time.Time) ([]*biz.CreditGrant, error) {
	grants, err := r.GrantRepo.ListSpendableGrants(ctx, userID, now)
	r.once.Do(func() {
		close(r.read)
		<-r.release
	})
	return grants, err
}

// balanceReader 与 l 共享存储和缓存，但读存储经过 repo
func (l *ledger) balanceReader(repo biz.GrantRepo) *biz.BalanceUseCase {
	clock := biz.ClockFunc(func() time.Time { return l.now })
	return biz.NewBalanceUseCase(repo, l.cache, clock, l.conf, log.NewStdLogger(io.Discard))
}
