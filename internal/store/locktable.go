package store

import (
	"sort"
	"sync"
)

// LockTable hands out per-key locks on demand, so unrelated keys never
// contend with each other. Go's sync.Mutex is not reentrant, so callers
// that need to both hold a key's lock and call into a helper that would
// normally re-lock it must structure that helper as an already-locked
// variant instead (see Store's setLocked/deleteLocked) rather than re-entering
// Lock on the same goroutine.
type LockTable struct {
	locks sync.Map // key (string) -> *sync.Mutex
}

// NewLockTable returns an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{}
}

func (t *LockTable) getLock(key string) *sync.Mutex {
	v, _ := t.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Lock acquires the lock for key and returns an unlock function.
func (t *LockTable) Lock(key string) (unlock func()) {
	l := t.getLock(key)
	l.Lock()
	return l.Unlock
}

// LockMultiple acquires locks for every distinct key in keys, always in
// sorted order, so two callers locking the same key set never deadlock by
// acquiring in opposite orders. Returns an unlock function that releases
// them in reverse.
func (t *LockTable) LockMultiple(keys ...string) (unlock func()) {
	uniq := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		uniq[k] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for k := range uniq {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, len(sorted))
	for i, k := range sorted {
		locks[i] = t.getLock(k)
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// Count returns the number of distinct keys currently tracked. Locks are
// never proactively removed (sync.Map has no safe "delete if unlocked"
// primitive), so this is a high-water mark, not a measure of contention.
func (t *LockTable) Count() int {
	n := 0
	t.locks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
