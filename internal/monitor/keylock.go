package monitor

import "sync"

// keyedLock hands out one mutex per channel id.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// TryLock acquires the lock for key without blocking. ok is false while another pass holds it.
func (k *keyedLock) TryLock(key string) (unlock func(), ok bool) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	l := k.locks[key]
	if l == nil {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}
