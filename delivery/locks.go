package delivery

import "sync"

// messageLocks hands out one mutex per message ID. Entries are reference
// counted and dropped once no goroutine holds or waits for them.
type messageLocks struct {
	mu      sync.Mutex
	entries map[MessageID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
	// resending is set while a resend holds mu. Guarded by messageLocks.mu.
	resending bool
}

func newMessageLocks() *messageLocks {
	return &messageLocks{entries: make(map[MessageID]*lockEntry)}
}

func (l *messageLocks) acquire(id MessageID) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *messageLocks) release(id MessageID, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

// lock blocks until the message's lock is held and returns its unlock func.
func (l *messageLocks) lock(id MessageID) func() {
	e := l.acquire(id)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.release(id, e)
	}
}

// lockResend is lock for a resend. lockUnlessResending callers skip the
// message instead of waiting while it is held this way.
func (l *messageLocks) lockResend(id MessageID) func() {
	e := l.acquire(id)
	e.mu.Lock()
	l.setResending(e, true)
	return func() {
		l.setResending(e, false)
		e.mu.Unlock()
		l.release(id, e)
	}
}

func (l *messageLocks) setResending(e *lockEntry, v bool) {
	l.mu.Lock()
	e.resending = v
	l.mu.Unlock()
}

// lockUnlessResending waits for the message's lock unless a resend holds it,
// in which case it reports false without acquiring.
func (l *messageLocks) lockUnlessResending(id MessageID) (func(), bool) {
	e := l.acquire(id)
	if !e.mu.TryLock() {
		l.mu.Lock()
		resending := e.resending
		l.mu.Unlock()
		if resending {
			l.release(id, e)
			return nil, false
		}
		e.mu.Lock()
	}
	return func() {
		e.mu.Unlock()
		l.release(id, e)
	}, true
}

// tryLock acquires the message's lock only if it is free.
func (l *messageLocks) tryLock(id MessageID) (func(), bool) {
	e := l.acquire(id)
	if !e.mu.TryLock() {
		l.release(id, e)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		l.release(id, e)
	}, true
}

// size reports the number of live entries.
func (l *messageLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
