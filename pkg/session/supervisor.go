package session

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tgw_go/pkg/metrics"
)

// ReconnectSupervisor решает судьбу записи после закрытия транспорта:
// после logged_out запись сносится, после любой другой причины повтор идёт через фиксированную паузу.
// Пауза не растёт, лимита попыток нет: пока жив процесс, повторяем.
type ReconnectSupervisor struct {
	delay     backoff.BackOff
	registry  *Registry
	logger    *zap.Logger
	reconnect func(s *Session, gen uint64)
	terminate func(s *Session)
	release   func(Transport)

	mu      sync.Mutex
	timers  map[*Session]*time.Timer
	stopped bool
}

func newReconnectSupervisor(delay time.Duration, registry *Registry, logger *zap.Logger, reconnect func(*Session, uint64), terminate func(*Session), release func(Transport)) *ReconnectSupervisor {
	return &ReconnectSupervisor{
		delay:     backoff.NewConstantBackOff(delay),
		registry:  registry,
		logger:    logger,
		reconnect: reconnect,
		terminate: terminate,
		release:   release,
		timers:    make(map[*Session]*time.Timer),
	}
}

// Terminal решает, сносить ли запись после закрытия.
func Terminal(reason CloseReason) bool {
	return reason == ReasonLoggedOut
}

// HandleClose вызывается сразу после перехода записи в Closing.
func (r *ReconnectSupervisor) HandleClose(s *Session, gen uint64, reason CloseReason) {
	if Terminal(reason) {
		r.logger.Info("сессия разлогинена, повтора не будет", zap.String("account_id", s.accountID))
		r.terminate(s)
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.terminal {
		// уже сносится явным disconnect
		s.mu.Unlock()
		return
	}
	next, ok := Transition(s.state, EventRetry)
	if !ok {
		s.mu.Unlock()
		return
	}
	old := s.transport
	s.transport = nil
	s.reconnectAttempt++
	attempt := s.reconnectAttempt
	s.commitLocked(next, time.Now())
	s.mu.Unlock()

	if old != nil {
		// Close ждёт выхода цикла транспорта, а нас вызывают как раз из него.
		go r.release(old)
	}

	delay := r.delay.NextBackOff()
	metrics.Reconnects.Inc()
	r.logger.Info("переподключение запланировано",
		zap.String("account_id", s.accountID),
		zap.String("reason", string(reason)),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
	r.schedule(s, gen, delay)
}

func (r *ReconnectSupervisor) schedule(s *Session, gen uint64, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if t, ok := r.timers[s]; ok {
		t.Stop()
	}
	r.timers[s] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, s)
		r.mu.Unlock()
		// disconnect мог обогнать close: без записи в реестре не воскрешаем
		if r.registry.Get(s.accountID) != s {
			r.logger.Info("аккаунт уже удалён, повтор пропущен", zap.String("account_id", s.accountID))
			return
		}
		r.reconnect(s, gen)
	})
}

// Pending возвращает число запланированных повторов.
func (r *ReconnectSupervisor) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop отменяет все запланированные повторы.
func (r *ReconnectSupervisor) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for s, t := range r.timers {
		t.Stop()
		delete(r.timers, s)
	}
}
