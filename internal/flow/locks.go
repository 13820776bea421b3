package flow

import "sync"

// sessionLocks serializes turns per session within the process. Entries are
// dropped when no goroutine holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// lock blocks until sessionID is free and returns its unlock function.
func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
