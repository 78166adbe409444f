package lock

import (
	"context"
	"sync"
)

// Memory is an in-process Locker for tests and single-process use.
type Memory struct {
	mu    sync.Mutex
	held  map[string]uint64
	token uint64
}

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]uint64)}
}

// TryAcquire implements Locker.
func (l *Memory) TryAcquire(_ context.Context, key string) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrBusy
	}
	l.token++
	token := l.token
	l.held[key] = token

	return newHandle(func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
		}
		return nil
	}), nil
}

// Break drops key regardless of holder.
func (l *Memory) Break(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	delete(l.held, key)
	return ok, nil
}
