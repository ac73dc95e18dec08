// Package account_mutex предоставляет именованные блокировки по account_id.
// Запись в таблице живёт, пока блокировку кто-то держит или ждёт.
package account_mutex

import (
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

var (
	globalMu     sync.Mutex
	accountLocks = make(map[string]*entry)
)

func acquire(accountID string) *entry {
	globalMu.Lock()
	defer globalMu.Unlock()
	e, ok := accountLocks[accountID]
	if !ok {
		e = &entry{}
		accountLocks[accountID] = e
	}
	e.refs++
	return e
}

func release(accountID string, e *entry) {
	globalMu.Lock()
	defer globalMu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(accountLocks, accountID)
	}
}

// LockAccount блокирует аккаунт, дожидаясь освобождения, если он занят.
func LockAccount(accountID string) {
	acquire(accountID).mu.Lock()
}

// tryLockAccount пытается захватить аккаунт без ожидания.
func tryLockAccount(accountID string) bool {
	e := acquire(accountID)
	if !e.mu.TryLock() {
		release(accountID, e)
		return false
	}
	return true
}

// UnlockAccount освобождает аккаунт. Разблокировка незанятого аккаунта игнорируется.
func UnlockAccount(accountID string) {
	globalMu.Lock()
	e := accountLocks[accountID]
	globalMu.Unlock()
	if e == nil {
		return
	}
	e.mu.Unlock()
	release(accountID, e)
}

// locked возвращает число аккаунтов, которые сейчас заняты или ожидаются.
func locked() int {
	globalMu.Lock()
	defer globalMu.Unlock()
	return len(accountLocks)
}
