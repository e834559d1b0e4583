// Package memory 进程内账本存储，用于单实例部署和测试
//
// 事务内的写入先暂存，提交时整体校验积分记录版本后一次性生效；
// fn 返回错误时暂存内容直接丢弃，不会留下部分写入。
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"credit-service/internal/biz"
)

var (
	// ErrDuplicateGrant 积分记录 ID 已存在
	ErrDuplicateGrant = errors.New("memory: duplicate grant id")
	// ErrGrantNotFound 积分记录不存在
	ErrGrantNotFound = errors.New("memory: grant not found")
	// ErrConflict 提交时发现并发修改
	ErrConflict = errors.New("memory: concurrent modification")
)

type usageKey struct {
	userID string
	date   string
}

// Store 进程内存储，实现 GrantRepo、DailyUsageRepo、ProfileRepo 和 Transaction
type Store struct {
	mu       sync.RWMutex
	grants   map[string]*biz.CreditGrant
	usage    map[usageKey]int64
	profiles map[string]*biz.UserCreditProfile

	failMu   sync.Mutex
	failures map[string]error
}

// NewStore 创建空存储
func NewStore() *Store {
	return &Store{
		grants:   make(map[string]*biz.CreditGrant),
		usage:    make(map[usageKey]int64),
		profiles: make(map[string]*biz.UserCreditProfile),
		failures: make(map[string]error),
	}
}

type txKey struct{}

// tx 暂存的写入
type tx struct {
	grants   map[string]*biz.CreditGrant
	baseVer  map[string]int64 // 首次修改时读到的版本
	created  map[string]bool
	usage    map[usageKey]int64 // 增量
	claims   map[string]bool
	upserts  map[string]int64 // userID -> dailyLimit
	upserted []string
}

func newTx() *tx {
	return &tx{
		grants:  make(map[string]*biz.CreditGrant),
		baseVer: make(map[string]int64),
		created: make(map[string]bool),
		usage:   make(map[usageKey]int64),
		claims:  make(map[string]bool),
		upserts: make(map[string]int64),
	}
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// InTx 在事务内执行 fn，嵌套调用复用外层事务
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	t := newTx()
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	return s.commit(t)
}

// write 在当前事务内暂存写入；没有事务时立即提交
func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	if t := txFrom(ctx); t != nil {
		return fn(t)
	}
	t := newTx()
	if err := fn(t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	if err := s.injected("Commit"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.grants {
		cur := s.grants[id]
		if t.created[id] {
			if cur != nil {
				return ErrDuplicateGrant
			}
			continue
		}
		if cur == nil {
			return ErrGrantNotFound
		}
		if cur.Version != t.baseVer[id] {
			return biz.ErrGrantVersionConflict
		}
	}
	for userID := range t.claims {
		p := s.profiles[userID]
		if p == nil || p.SignupBonusClaimed {
			return ErrConflict
		}
	}

	for id, g := range t.grants {
		s.grants[id] = g.Clone()
	}
	for k, delta := range t.usage {
		s.usage[k] += delta
	}
	for _, userID := range t.upserted {
		limit := t.upserts[userID]
		if p, ok := s.profiles[userID]; ok {
			p.DailyLimit = limit
			continue
		}
		s.profiles[userID] = &biz.UserCreditProfile{UserID: userID, DailyLimit: limit}
	}
	for userID := range t.claims {
		s.profiles[userID].SignupBonusClaimed = true
	}
	return nil
}

// grantView 返回事务视角下的积分记录（调用方需持有读锁）
func (s *Store) grantView(t *tx, id string) *biz.CreditGrant {
	if t != nil {
		if g, ok := t.grants[id]; ok {
			return g
		}
	}
	return s.grants[id]
}

// listGrants 返回事务视角下满足 match 的积分记录副本
func (s *Store) listGrants(ctx context.Context, match func(g *biz.CreditGrant) bool) []*biz.CreditGrant {
	t := txFrom(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*biz.CreditGrant, 0)
	for id := range s.grants {
		if g := s.grantView(t, id); match(g) {
			out = append(out, g.Clone())
		}
	}
	if t != nil {
		for id := range t.created {
			if g := t.grants[id]; match(g) {
				out = append(out, g.Clone())
			}
		}
	}
	return out
}

// CreateGrant 新建积分记录
func (s *Store) CreateGrant(ctx context.Context, grant *biz.CreditGrant) error {
	if err := s.injected("CreateGrant"); err != nil {
		return err
	}
	return s.write(ctx, func(t *tx) error {
		s.mu.RLock()
		exists := s.grantView(t, grant.ID) != nil
		s.mu.RUnlock()
		if exists {
			return ErrDuplicateGrant
		}
		g := grant.Clone()
		t.grants[g.ID] = g
		t.created[g.ID] = true
		return nil
	})
}

// GetGrant 获取积分记录，不存在时返回 nil
func (s *Store) GetGrant(ctx context.Context, id string) (*biz.CreditGrant, error) {
	if err := s.injected("GetGrant"); err != nil {
		return nil, err
	}
	t := txFrom(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g := s.grantView(t, id); g != nil {
		return g.Clone(), nil
	}
	return nil, nil
}

// ListSpendableGrants 用户未过期且有剩余的积分
func (s *Store) ListSpendableGrants(ctx context.Context, userID string, now time.Time) ([]*biz.CreditGrant, error) {
	if err := s.injected("ListSpendableGrants"); err != nil {
		return nil, err
	}
	grants := s.listGrants(ctx, func(g *biz.CreditGrant) bool {
		return g.UserID == userID && g.Spendable(now)
	})
	biz.SortForConsumption(grants)
	return grants, nil
}

// ListExpiredGrants 所有已过期且有剩余的积分，按过期时间升序
func (s *Store) ListExpiredGrants(ctx context.Context, now time.Time, limit int) ([]*biz.CreditGrant, error) {
	if err := s.injected("ListExpiredGrants"); err != nil {
		return nil, err
	}
	grants := s.listGrants(ctx, func(g *biz.CreditGrant) bool {
		return g.Remaining > 0 && g.IsExpired(now)
	})
	biz.SortForConsumption(grants)
	if limit > 0 && len(grants) > limit {
		grants = grants[:limit]
	}
	return grants, nil
}

// ListUserExpiredGrants 单个用户已过期且有剩余的积分
func (s *Store) ListUserExpiredGrants(ctx context.Context, userID string, now time.Time) ([]*biz.CreditGrant, error) {
	if err := s.injected("ListUserExpiredGrants"); err != nil {
		return nil, err
	}
	grants := s.listGrants(ctx, func(g *biz.CreditGrant) bool {
		return g.UserID == userID && g.Remaining > 0 && g.IsExpired(now)
	})
	biz.SortForConsumption(grants)
	return grants, nil
}

// UpdateGrantRemaining 按版本更新 remaining/consumedAt
func (s *Store) UpdateGrantRemaining(ctx context.Context, grant *biz.CreditGrant) error {
	if err := s.injected("UpdateGrantRemaining"); err != nil {
		return err
	}
	return s.write(ctx, func(t *tx) error {
		s.mu.RLock()
		cur := s.grantView(t, grant.ID)
		s.mu.RUnlock()
		if cur == nil {
			return ErrGrantNotFound
		}
		if cur.Version != grant.Version {
			return biz.ErrGrantVersionConflict
		}
		if _, staged := t.grants[grant.ID]; !staged {
			t.baseVer[grant.ID] = cur.Version
		}
		next := cur.Clone()
		next.Remaining = grant.Remaining
		next.ConsumedAt = grant.ConsumedAt
		next.Version++
		t.grants[grant.ID] = next
		grant.Version = next.Version
		return nil
	})
}

// ListGrants 按创建时间倒序分页
func (s *Store) ListGrants(ctx context.Context, userID string, page, pageSize int) ([]*biz.CreditGrant, int64, error) {
	if err := s.injected("ListGrants"); err != nil {
		return nil, 0, err
	}
	grants := s.listGrants(ctx, func(g *biz.CreditGrant) bool { return g.UserID == userID })
	sort.Slice(grants, func(i, j int) bool {
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.After(grants[j].CreatedAt)
		}
		return grants[i].ID > grants[j].ID
	})

	total := int64(len(grants))
	start := (page - 1) * pageSize
	if start < 0 || start >= len(grants) {
		return []*biz.CreditGrant{}, total, nil
	}
	end := min(start+pageSize, len(grants))
	return grants[start:end], total, nil
}

// GetDailyUsage 当日累计消耗，不存在时返回 0
func (s *Store) GetDailyUsage(ctx context.Context, userID, usageDate string) (int64, error) {
	if err := s.injected("GetDailyUsage"); err != nil {
		return 0, err
	}
	k := usageKey{userID: userID, date: usageDate}
	s.mu.RLock()
	used := s.usage[k]
	s.mu.RUnlock()
	if t := txFrom(ctx); t != nil {
		used += t.usage[k]
	}
	return used, nil
}

// IncrDailyUsage 累加当日消耗
func (s *Store) IncrDailyUsage(ctx context.Context, userID, usageDate string, amount int64) error {
	if err := s.injected("IncrDailyUsage"); err != nil {
		return err
	}
	return s.write(ctx, func(t *tx) error {
		t.usage[usageKey{userID: userID, date: usageDate}] += amount
		return nil
	})
}

// ListDailyUsage [fromDate, toDate] 区间内的记录，按日期升序
func (s *Store) ListDailyUsage(ctx context.Context, userID, fromDate, toDate string) ([]*biz.DailyUsage, error) {
	if err := s.injected("ListDailyUsage"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*biz.DailyUsage, 0)
	for k, used := range s.usage {
		if k.userID == userID && k.date >= fromDate && k.date <= toDate {
			out = append(out, &biz.DailyUsage{UserID: userID, UsageDate: k.date, CreditsConsumed: used})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsageDate < out[j].UsageDate })
	return out, nil
}

// GetProfile 获取用户配置，不存在时返回 nil
func (s *Store) GetProfile(ctx context.Context, userID string) (*biz.UserCreditProfile, error) {
	if err := s.injected("GetProfile"); err != nil {
		return nil, err
	}
	t := txFrom(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out *biz.UserCreditProfile
	if p, ok := s.profiles[userID]; ok {
		c := *p
		out = &c
	}
	if t == nil {
		return out, nil
	}
	if limit, ok := t.upserts[userID]; ok {
		if out == nil {
			out = &biz.UserCreditProfile{UserID: userID}
		}
		out.DailyLimit = limit
	}
	if out != nil && t.claims[userID] {
		out.SignupBonusClaimed = true
	}
	return out, nil
}

// LockProfile 进程内存储由用户锁保证互斥，这里等同于 GetProfile
func (s *Store) LockProfile(ctx context.Context, userID string) (*biz.UserCreditProfile, error) {
	if err := s.injected("LockProfile"); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

// MarkSignupBonusClaimed 仅当未领取时置位
func (s *Store) MarkSignupBonusClaimed(ctx context.Context, userID string) (bool, error) {
	if err := s.injected("MarkSignupBonusClaimed"); err != nil {
		return false, err
	}
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	if p == nil || p.SignupBonusClaimed {
		return false, nil
	}
	err = s.write(ctx, func(t *tx) error {
		t.claims[userID] = true
		return nil
	})
	return err == nil, err
}

// UpsertProfile 新建或更新用户每日上限，不修改领取标记
func (s *Store) UpsertProfile(ctx context.Context, profile *biz.UserCreditProfile) error {
	if err := s.injected("UpsertProfile"); err != nil {
		return err
	}
	return s.write(ctx, func(t *tx) error {
		if _, ok := t.upserts[profile.UserID]; !ok {
			t.upserted = append(t.upserted, profile.UserID)
		}
		t.upserts[profile.UserID] = profile.DailyLimit
		return nil
	})
}

// PutGrant 直接写入积分记录（初始化数据）
func (s *Store) PutGrant(grant *biz.CreditGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.ID] = grant.Clone()
}

// PutProfile 直接写入用户配置（初始化数据）
func (s *Store) PutProfile(profile *biz.UserCreditProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *profile
	s.profiles[profile.UserID] = &c
}

// PutDailyUsage 直接写入当日消耗（初始化数据）
func (s *Store) PutDailyUsage(userID, usageDate string, used int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[usageKey{userID: userID, date: usageDate}] = used
}

// FailOn 让名为 op 的操作返回 err，err 为 nil 时取消；op 为方法名或 "Commit"
func (s *Store) FailOn(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) injected(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var (
	_ biz.GrantRepo      = (*Store)(nil)
	_ biz.DailyUsageRepo = (*Store)(nil)
	_ biz.ProfileRepo    = (*Store)(nil)
	_ biz.Transaction    = (*Store)(nil)
)
