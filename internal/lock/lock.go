package lock

import (
	"context"
	"sync"
	"time"
)

func noopRelease(context.Context) error { return nil }

// LocalLocker holds run locks in process memory. It is used when no Redis
// address is configured, which is enough for a single instance.
type LocalLocker struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]localHold
	seq  uint64
}

type localHold struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, held: make(map[string]localHold)}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return noopRelease, false, nil
	}
	l.seq++
	token := l.seq
	l.held[key] = localHold{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.token == token {
			delete(l.held, key)
		}
		return nil
	}, true, nil
}
