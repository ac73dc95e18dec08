package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tgw_go/internal/common"
	"tgw_go/pkg/metrics"
)

// CleanupCoordinator выполняет окончательный снос записи. Шаги идут строго по порядку,
// сбой любого шага логируется и не прерывает остальные.
// Параллельные вызовы для одного аккаунта объединяются: второй ждёт первого.
type CleanupCoordinator struct {
	opts     Options
	registry *Registry
	creds    CredentialStore
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group
	wg    sync.WaitGroup
}

func newCleanupCoordinator(opts Options, registry *Registry, creds CredentialStore, notifier Notifier, logger *zap.Logger, now func() time.Time) *CleanupCoordinator {
	return &CleanupCoordinator{
		opts:     opts,
		registry: registry,
		creds:    creds,
		notifier: notifier,
		logger:   logger,
		now:      now,
	}
}

// Run сносит запись s и возвращается после завершения. Если запись уже снесена,
// возвращается сразу.
func (c *CleanupCoordinator) Run(ctx context.Context, s *Session) {
	c.wg.Add(1)
	defer c.wg.Done()
	_, _, _ = c.group.Do(s.accountID, func() (interface{}, error) {
		c.teardown(ctx, s)
		return nil, nil
	})
}

// Wait дожидается всех идущих сносов.
func (c *CleanupCoordinator) Wait() {
	c.wg.Wait()
}

func (c *CleanupCoordinator) teardown(ctx context.Context, s *Session) {
	id := s.accountID
	if c.registry.Get(id) != s {
		return
	}
	started := time.Now()
	// Снос не должен обрываться из-за ушедшего клиента HTTP.
	ctx = context.WithoutCancel(ctx)

	c.registry.beginTeardown(id)
	defer c.registry.endTeardown(id)

	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return
	}
	s.terminal = true
	if next, ok := Transition(s.state, EventDisconnect); ok {
		s.commitLocked(next, c.now())
	}
	// отрезаем события текущего транспорта и незавершённые connect
	s.gen++
	tr := s.transport
	s.mu.Unlock()

	log := c.logger.With(zap.String("account_id", id))
	log.Info("снос сессии начат")

	// 1. logout
	if tr != nil {
		lctx, cancel := context.WithTimeout(ctx, c.opts.LogoutTimeout)
		if err := tr.Logout(lctx); err != nil {
			log.Warn("logout не выполнен", zap.Error(err))
		}
		cancel()
	}

	// 2. пауза на досылку сетевых операций
	_ = common.WaitWithCancellation(ctx, c.opts.LogoutSettle)

	// 3. освобождение транспорта: Close ждёт реального завершения цикла
	if tr != nil {
		rctx, cancel := context.WithTimeout(ctx, c.opts.ReleaseTimeout)
		if err := tr.Close(rctx); err != nil {
			log.Warn("транспорт освобождён с ошибкой", zap.Error(err))
		}
		cancel()
	}

	// 4. пауза, пока ОС отпустит дескрипторы файлов сессии
	_ = common.WaitWithCancellation(ctx, c.opts.ReleaseSettle)

	// 5. удаление из реестра
	c.registry.remove(s)
	s.mu.Lock()
	phone := s.phone
	s.pendingQR = ""
	s.phone = ""
	s.transport = nil
	if next, ok := Transition(s.state, EventTerminate); ok {
		s.commitLocked(next, c.now())
	}
	s.mu.Unlock()

	// 6. удаление учётных данных
	if err := c.creds.Delete(id); err != nil {
		log.Warn("учётные данные не удалены", zap.Error(err))
	}

	// 7. уведомление
	c.notifier.Notify(id, StatusDisconnected, phone)

	metrics.CleanupSeconds.Observe(time.Since(started).Seconds())
	log.Info("снос сессии завершён", zap.Duration("took", time.Since(started)))
}
