package mirror

import "sync"

// keyedLocks hands out one mutex per mirror name. Mutexes are
// created on first use and never discarded: the name space is
// bounded by the registry.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*sync.Mutex)}
}

func (l *keyedLocks) get(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.m[name]
	if !ok {
		lk = &sync.Mutex{}
		l.m[name] = lk
	}

	return lk
}

// Lock acquires the exclusive lock for name and returns the
// release function. At most one mutating operation per mirror
// name may be in flight; concurrent callers block.
func (c *Cache) Lock(name string) func() {
	lk := c.locks.get(name)
	lk.Lock()

	return lk.Unlock
}

// LockPair acquires the locks for both names in lexicographic
// order, so two requests locking the same pair in opposite
// roles cannot deadlock. Returns the release function.
func (c *Cache) LockPair(a string, b string) func() {
	if a == b {
		return c.Lock(a)
	}

	first, second := a, b
	if second < first {
		first, second = second, first
	}

	unlockFirst := c.Lock(first)
	unlockSecond := c.Lock(second)

	return func() {
		unlockSecond()
		unlockFirst()
	}
}
