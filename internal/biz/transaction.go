package biz

import (
	"context"
	"sync"
)

// Transaction 数据层事务
// fn 内通过 ctx 调用的 repo 方法属于同一事务，fn 返回错误时全部回滚
type Transaction interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserLocker 用户级互斥：同一用户的写操作串行，不同用户互不阻塞
type UserLocker interface {
	// Lock 阻塞直到获得 userID 的锁或 ctx 结束，返回的 unlock 只能调用一次
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// localUserLocker 进程内按用户分片的互斥锁
type localUserLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalUserLocker 创建进程内用户锁
func NewLocalUserLocker() UserLocker {
	return &localUserLocker{locks: make(map[string]*userLock)}
}

func (l *localUserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.sem
			l.release(userID, ul)
		})
	}, nil
}

func (l *localUserLocker) release(userID string, ul *userLock) {
	l.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
}
