package negotiator

import (
	"context"
	"sync"
)

// sessionLocks serializes turns per session id. Entries are dropped once no
// goroutine holds or waits on them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock waits for the session lock or for ctx to end.
func (l *sessionLocks) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(id, lock)
		})
	}, nil
}

func (l *sessionLocks) release(id string, lock *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
