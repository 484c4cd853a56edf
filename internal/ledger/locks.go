package ledger

import (
	"sync"

	"github.com/alexbotov/betledger/internal/domain"
)

// lockTable hands out one mutex per account. Entries are dropped once no
// goroutine holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[domain.Address]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[domain.Address]*accountLock)}
}

// lock blocks until addr is free and returns the matching unlock
func (t *lockTable) lock(addr domain.Address) func() {
	t.mu.Lock()
	l, ok := t.locks[addr]
	if !ok {
		l = &accountLock{}
		t.locks[addr] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, addr)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
