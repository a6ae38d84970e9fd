package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunLock serializes work per key inside the process and, when backed by a shared
// Provider, across replicas.
type RunLock struct {
	provider Provider
	ttl      time.Duration
	poll     time.Duration

	mu    sync.Mutex
	local map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewRunLock builds a RunLock. A nil provider keeps locking in-process only.
func NewRunLock(provider Provider, ttl time.Duration) *RunLock {
	if provider == nil {
		provider = NoopProvider{}
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RunLock{
		provider: provider,
		ttl:      ttl,
		poll:     50 * time.Millisecond,
		local:    make(map[string]*localLock),
	}
}

// Acquire blocks until key is held or ctx is done. The returned release func must be called once.
func (l *RunLock) Acquire(ctx context.Context, key string) (func(), error) {
	ll := l.ref(key)
	select {
	case ll.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}

	token := []byte(uuid.NewString())
	for {
		ok, err := l.provider.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			l.releaseLocal(key, ll)
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			l.releaseLocal(key, ll)
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release with a fresh context so a cancelled caller does not strand the shared key.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = l.provider.DelIfValue(releaseCtx, key, token)
			l.releaseLocal(key, ll)
		})
	}, nil
}

func (l *RunLock) ref(key string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll, ok := l.local[key]
	if !ok {
		ll = &localLock{ch: make(chan struct{}, 1)}
		l.local[key] = ll
	}
	ll.refs++
	return ll
}

func (l *RunLock) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll, ok := l.local[key]
	if !ok {
		return
	}
	ll.refs--
	if ll.refs == 0 {
		delete(l.local, key)
	}
}

func (l *RunLock) releaseLocal(key string, ll *localLock) {
	<-ll.ch
	l.unref(key)
}
