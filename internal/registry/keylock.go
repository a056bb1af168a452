package registry

import "sync"

// keyLock is a reference-counted mutex so the lock table does not grow with
// every key ever seen.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock serializes start/stop sequences for one key. The check for an
// existing instance and the registration that follows must happen under
// this lock, otherwise two concurrent starts could both launch a viewer.
// Different keys never block each other.
//
// The returned function releases the lock.
func (r *Registry) Lock(key string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}
