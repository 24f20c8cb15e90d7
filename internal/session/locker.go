package session

import "sync"

// Locker serializes work per key in strict arrival order. Holders of
// different keys never wait on each other.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	waiters []chan struct{}
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock blocks until every earlier caller for key has unlocked, then returns
// the unlock function. The unlock function must be called exactly once.
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	kl, held := l.locks[key]
	if !held {
		l.locks[key] = &keyLock{}
		l.mu.Unlock()
		return l.unlocker(key)
	}
	turn := make(chan struct{})
	kl.waiters = append(kl.waiters, turn)
	l.mu.Unlock()

	<-turn
	return l.unlocker(key)
}

func (l *Locker) unlocker(key string) func() {
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		kl := l.locks[key]
		if len(kl.waiters) == 0 {
			delete(l.locks, key)
			return
		}
		next := kl.waiters[0]
		kl.waiters = kl.waiters[1:]
		close(next)
	}
}
