package session

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"tgw_go/pkg/metrics"
)

// Snapshot фиксирует состояние записи для /status.
type Snapshot struct {
	AccountID        string
	State            State
	QR               string
	Phone            string
	ReconnectAttempt int
	LastTransitionAt time.Time
}

// DefaultSnapshot возвращает снимок для неизвестного аккаунта.
func DefaultSnapshot(accountID string) Snapshot {
	return Snapshot{AccountID: accountID, State: Idle}
}

// Session хранит запись реестра. Поля под mu меняет только автомат своего аккаунта;
// mu никогда не держится во время медленных операций транспорта.
type Session struct {
	accountID string

	mu               sync.Mutex
	state            State
	phone            string
	pendingQR        string
	transport        Transport
	gen              uint64
	reconnectAttempt int
	lastTransitionAt time.Time
	closeReason      CloseReason
	// запрошен окончательный снос (disconnect или logged_out)
	terminal bool

	snap atomic.Pointer[Snapshot]
}

func newSession(accountID string, now time.Time) *Session {
	s := &Session{accountID: accountID, state: Idle, lastTransitionAt: now}
	s.publishLocked()
	return s
}

// AccountID возвращает ключ записи.
func (s *Session) AccountID() string { return s.accountID }

// Snapshot читает последнее зафиксированное состояние без блокировки.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// commitLocked переводит запись в next и публикует снимок. Вызывать под s.mu.
func (s *Session) commitLocked(next State, now time.Time) {
	if next != s.state {
		metrics.Transitions.WithLabelValues(s.state.String(), next.String()).Inc()
	}
	s.state = next
	s.lastTransitionAt = now
	s.publishLocked()
}

func (s *Session) publishLocked() {
	s.snap.Store(&Snapshot{
		AccountID:        s.accountID,
		State:            s.state,
		QR:               s.pendingQR,
		Phone:            s.phone,
		ReconnectAttempt: s.reconnectAttempt,
		LastTransitionAt: s.lastTransitionAt,
	})
}

// Registry хранит записи сессий процесса по account_id.
// Кроме живых записей помнит аккаунты, снос которых ещё не закончен.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	terminating map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		terminating: make(map[string]struct{}),
	}
}

// Get возвращает запись или nil.
func (r *Registry) Get(accountID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[accountID]
}

// getOrCreate возвращает существующую запись либо создаёт новую в Idle.
// Пока для аккаунта идёт снос, новую запись создать нельзя.
func (r *Registry) getOrCreate(accountID string, now time.Time) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[accountID]; ok {
		return s, false, nil
	}
	if _, ok := r.terminating[accountID]; ok {
		return nil, false, ErrAlreadyTerminating
	}
	s := newSession(accountID, now)
	r.sessions[accountID] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return s, true, nil
}

// remove удаляет запись, только если в реестре всё ещё именно она.
func (r *Registry) remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.accountID] != s {
		return false
	}
	delete(r.sessions, s.accountID)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return true
}

func (r *Registry) beginTeardown(accountID string) {
	r.mu.Lock()
	r.terminating[accountID] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) endTeardown(accountID string) {
	r.mu.Lock()
	delete(r.terminating, accountID)
	r.mu.Unlock()
}

// Terminating сообщает, идёт ли снос аккаунта.
func (r *Registry) Terminating(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.terminating[accountID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions возвращает копию списка записей.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// StateCounts считает записи по состояниям.
func (r *Registry) StateCounts() map[string]int {
	counts := make(map[string]int)
	for _, s := range r.Sessions() {
		counts[s.Snapshot().State.String()]++
	}
	return counts
}
