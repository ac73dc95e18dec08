package session

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tgw_go/models"
	"tgw_go/pkg/account_mutex"
)

// Options задаёт задержки и лимиты жизненного цикла.
type Options struct {
	// фиксированная пауза перед повторным подключением, без роста и без лимита попыток
	ReconnectDelay time.Duration
	LogoutTimeout  time.Duration
	// пауза после logout, чтобы досохранились сетевые операции
	LogoutSettle   time.Duration
	ReleaseTimeout time.Duration
	// пауза после освобождения транспорта перед удалением файлов
	ReleaseSettle  time.Duration
	LookupAttempts int
	LookupDelay    time.Duration
}

// Manager управляет сессиями всех аккаунтов процесса: принимает вызовы HTTP
// и события транспорта и прогоняет их через автомат каждой записи.
type Manager struct {
	opts       Options
	logger     *zap.Logger
	registry   *Registry
	factory    TransportFactory
	notifier   Notifier
	supervisor *ReconnectSupervisor
	cleanup    *CleanupCoordinator
	closed     atomic.Bool
	now        func() time.Time
}

func NewManager(opts Options, factory TransportFactory, creds CredentialStore, notifier Notifier, logger *zap.Logger) *Manager {
	if opts.LookupAttempts < 1 {
		opts.LookupAttempts = 1
	}
	m := &Manager{
		opts:     opts,
		logger:   logger.Named("SESSION"),
		registry: NewRegistry(),
		factory:  factory,
		notifier: notifier,
		now:      time.Now,
	}
	m.cleanup = newCleanupCoordinator(opts, m.registry, creds, notifier, logger.Named("CLEANUP"), m.now)
	m.supervisor = newReconnectSupervisor(opts.ReconnectDelay, m.registry, logger.Named("RECONNECT"), m.reconnect, m.teardownAsync, m.releaseTransport)
	return m
}

// Registry открывает реестр для чтения (health, метрики).
func (m *Manager) Registry() *Registry { return m.registry }

// Connect идемпотентен: если запись уже подключена или в процессе рукопожатия,
// возвращается текущий снимок без второго транспорта.
func (m *Manager) Connect(ctx context.Context, accountID string) (Snapshot, error) {
	if err := ValidateAccountID(accountID); err != nil {
		return Snapshot{}, err
	}
	if m.closed.Load() {
		return Snapshot{}, errors.Mark(errors.New("gateway is shutting down"), ErrTransport)
	}

	// не ждём блокировку аккаунта, который сейчас сносится
	if m.registry.Terminating(accountID) {
		return m.Status(accountID), ErrAlreadyTerminating
	}

	// Два быстрых connect одного аккаунта проходят строго по очереди.
	account_mutex.LockAccount(accountID)
	defer account_mutex.UnlockAccount(accountID)

	s, created, err := m.registry.getOrCreate(accountID, m.now())
	if err != nil {
		return Snapshot{}, err
	}
	if created {
		m.logger.Info("создана запись сессии", zap.String("account_id", accountID))
	}

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return s.Snapshot(), ErrAlreadyTerminating
	}
	next, ok := Transition(s.state, EventConnect)
	if !ok {
		// уже подключён или рукопожатие идёт
		s.mu.Unlock()
		return s.Snapshot(), nil
	}
	s.commitLocked(next, m.now())
	tr, gen, err := m.prepareTransportLocked(s)
	s.mu.Unlock()
	if err != nil {
		m.handleEvent(s, gen, Event{Kind: EventClose, Reason: ReasonStartFailed})
		return s.Snapshot(), wrapTransport(err, "create transport")
	}

	if err := m.startTransport(ctx, s, tr, gen); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// prepareTransportLocked создаёт новый транспорт и делает запись его владельцем.
// Вызывать под s.mu. Увеличение gen отрезает события всех прежних транспортов.
func (m *Manager) prepareTransportLocked(s *Session) (Transport, uint64, error) {
	s.gen++
	gen := s.gen
	tr, err := m.factory.New(s.accountID, func(ev Event) { m.handleEvent(s, gen, ev) })
	if err != nil {
		return nil, gen, err
	}
	s.transport = tr
	return tr, gen, nil
}

// startTransport запускает транспорт вне блокировки записи. Если за время запуска
// запись снесли или сменился владелец, запуск бросается, а транспорт освобождается.
func (m *Manager) startTransport(ctx context.Context, s *Session, tr Transport, gen uint64) error {
	startErr := tr.Start(ctx)

	if m.registry.Get(s.accountID) != s || !s.owns(gen) {
		m.logger.Info("запись больше не владеет транспортом, запуск брошен",
			zap.String("account_id", s.accountID), zap.Uint64("gen", gen))
		m.goSafe(s.accountID, "release abandoned transport", func() { m.releaseTransport(tr) })
		return nil
	}
	if startErr != nil {
		m.logger.Warn("транспорт не запустился", zap.String("account_id", s.accountID), zap.Error(startErr))
		m.handleEvent(s, gen, Event{Kind: EventClose, Reason: ReasonStartFailed})
		return wrapTransport(startErr, "start transport")
	}
	return nil
}

func (s *Session) owns(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state != Terminated
}

// handleEvent применяет событие транспорта к записи. Вызывается из цикла транспорта,
// поэтому всё медленное уходит в отдельные горутины.
func (m *Manager) handleEvent(s *Session, gen uint64, ev Event) {
	defer m.recoverPanic(s.accountID, "event "+ev.Kind.String())

	s.mu.Lock()
	if s.gen != gen || s.state == Terminated {
		s.mu.Unlock()
		m.logger.Debug("событие устаревшего транспорта проигнорировано",
			zap.String("account_id", s.accountID), zap.Stringer("event", ev.Kind))
		return
	}
	from := s.state
	next, ok := Transition(from, ev.Kind)
	if !ok {
		s.mu.Unlock()
		m.logger.Debug("событие не меняет состояние",
			zap.String("account_id", s.accountID), zap.Stringer("state", from), zap.Stringer("event", ev.Kind))
		return
	}
	switch ev.Kind {
	case EventQR:
		// новый QR всегда вытесняет старый; QR после переподключения значит
		// повторную привязку, и прежний номер больше не подтверждён
		s.pendingQR = ev.QR
		s.phone = ""
	case EventOpen:
		s.pendingQR = ""
		s.phone = ev.Phone
		s.reconnectAttempt = 0
	case EventClose:
		s.closeReason = ev.Reason
	}
	s.commitLocked(next, m.now())
	phone := s.phone
	s.mu.Unlock()

	m.logger.Info("переход состояния",
		zap.String("account_id", s.accountID),
		zap.Stringer("from", from),
		zap.Stringer("to", next),
		zap.Stringer("event", ev.Kind),
	)

	switch ev.Kind {
	case EventOpen:
		m.notifier.Notify(s.accountID, StatusConnected, phone)
	case EventClose:
		m.supervisor.HandleClose(s, gen, ev.Reason)
	}
}

// reconnect вызывается таймером супервизора.
func (m *Manager) reconnect(s *Session, gen uint64) {
	defer m.recoverPanic(s.accountID, "reconnect")

	if m.closed.Load() {
		return
	}
	if m.registry.Get(s.accountID) != s {
		m.logger.Info("аккаунт удалён до повтора, переподключение пропущено", zap.String("account_id", s.accountID))
		return
	}
	s.mu.Lock()
	if s.gen != gen || s.state != Initializing || s.terminal {
		s.mu.Unlock()
		return
	}
	tr, newGen, err := m.prepareTransportLocked(s)
	s.mu.Unlock()
	if err != nil {
		m.logger.Warn("не удалось создать транспорт при переподключении", zap.String("account_id", s.accountID), zap.Error(err))
		m.handleEvent(s, newGen, Event{Kind: EventClose, Reason: ReasonStartFailed})
		return
	}
	_ = m.startTransport(context.Background(), s, tr, newGen)
}

// Status никогда не блокируется: отдаёт последний зафиксированный снимок.
func (m *Manager) Status(accountID string) Snapshot {
	s := m.registry.Get(accountID)
	if s == nil {
		return DefaultSnapshot(accountID)
	}
	return s.Snapshot()
}

// connectedTransport возвращает транспорт, только если запись в Connected.
func (m *Manager) connectedTransport(accountID string) (Transport, error) {
	s := m.registry.Get(accountID)
	if s == nil {
		return nil, errors.Wrapf(ErrNotConnected, "account %s", accountID)
	}
	s.mu.Lock()
	state, tr := s.state, s.transport
	s.mu.Unlock()
	if state != Connected || tr == nil {
		return nil, errors.Wrapf(ErrNotConnected, "account %s is %s", accountID, state)
	}
	return tr, nil
}

// Send отправляет сообщение. Сбой транспорта не меняет состояние соединения.
func (m *Manager) Send(ctx context.Context, accountID, destination, text string) error {
	if err := ValidateAccountID(accountID); err != nil {
		return err
	}
	if destination == "" || text == "" {
		return errors.Mark(errors.New("phone and message are required"), ErrValidation)
	}
	tr, err := m.connectedTransport(accountID)
	if err != nil {
		return err
	}
	if err := tr.Send(ctx, destination, text); err != nil {
		m.logger.Warn("отправка не удалась", zap.String("account_id", accountID), zap.Error(err))
		return wrapSendFailed(err)
	}
	return nil
}

// lookup выполняет массовый запрос с ограниченным повтором на ErrNotReady.
func (m *Manager) lookup(ctx context.Context, accountID, op string, fn func(Transport) error) error {
	if err := ValidateAccountID(accountID); err != nil {
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.LookupDelay), uint64(m.opts.LookupAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		tr, err := m.connectedTransport(accountID)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = fn(tr)
		if err == nil || errors.Is(err, ErrNotReady) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	m.logger.Warn("запрос к транспорту не удался", zap.String("account_id", accountID), zap.String("op", op), zap.Error(err))
	return wrapTransport(err, op)
}

// CheckNumbers проверяет, зарегистрированы ли номера.
func (m *Manager) CheckNumbers(ctx context.Context, accountID string, numbers []string) ([]models.NumberCheck, error) {
	if len(numbers) == 0 {
		return nil, errors.Mark(errors.New("numbers are required"), ErrValidation)
	}
	var out []models.NumberCheck
	err := m.lookup(ctx, accountID, "check numbers", func(tr Transport) (err error) {
		out, err = tr.CheckNumbers(ctx, numbers)
		return err
	})
	return out, err
}

// Groups возвращает группы аккаунта.
func (m *Manager) Groups(ctx context.Context, accountID string) ([]models.Group, error) {
	var out []models.Group
	err := m.lookup(ctx, accountID, "fetch groups", func(tr Transport) (err error) {
		out, err = tr.Groups(ctx)
		return err
	})
	return out, err
}

// GroupParticipants возвращает участников группы.
func (m *Manager) GroupParticipants(ctx context.Context, accountID, groupID string) ([]models.Participant, error) {
	if groupID == "" {
		return nil, errors.Mark(errors.New("group_id is required"), ErrValidation)
	}
	var out []models.Participant
	err := m.lookup(ctx, accountID, "fetch group participants", func(tr Transport) (err error) {
		out, err = tr.GroupParticipants(ctx, groupID)
		return err
	})
	return out, err
}

// Disconnect доводит аккаунт до Terminated и возвращается только после полного сноса.
// Для неизвестного аккаунта сразу возвращает nil.
func (m *Manager) Disconnect(ctx context.Context, accountID string) error {
	if err := ValidateAccountID(accountID); err != nil {
		return err
	}
	s := m.registry.Get(accountID)
	if s == nil {
		return nil
	}
	m.markTerminal(s, ReasonLoggedOut, EventDisconnect)
	m.cleanup.Run(ctx, s)
	return nil
}

// markTerminal переводит запись в Closing с терминальным намерением.
func (m *Manager) markTerminal(s *Session, reason CloseReason, kind EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Terminated {
		return
	}
	s.terminal = true
	s.closeReason = reason
	if next, ok := Transition(s.state, kind); ok {
		s.commitLocked(next, m.now())
	}
}

func (m *Manager) teardownAsync(s *Session) {
	m.markTerminal(s, ReasonLoggedOut, EventDisconnect)
	m.goSafe(s.accountID, "teardown", func() { m.cleanup.Run(context.Background(), s) })
}

func (m *Manager) releaseTransport(tr Transport) {
	defer m.recoverPanic("", "release transport")
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ReleaseTimeout)
	defer cancel()
	if err := tr.Close(ctx); err != nil {
		m.logger.Warn("транспорт освобождён с ошибкой", zap.Error(err))
	}
}

// Restore поднимает сессии всех аккаунтов с сохранёнными учётными данными.
func (m *Manager) Restore(ctx context.Context, creds CredentialStore) int {
	ids, err := creds.List()
	if err != nil {
		m.logger.Error("не удалось прочитать сохранённые сессии", zap.Error(err))
		return 0
	}
	restored := 0
	for _, id := range ids {
		if _, err := m.Connect(ctx, id); err != nil {
			m.logger.Warn("сессия не восстановлена", zap.String("account_id", id), zap.Error(err))
			continue
		}
		restored++
	}
	m.logger.Info("восстановление сессий завершено", zap.Int("restored", restored), zap.Int("found", len(ids)))
	return restored
}

// Shutdown освобождает все транспорты без logout и без удаления учётных данных,
// чтобы при следующем запуске сессии восстановились.
func (m *Manager) Shutdown(ctx context.Context) {
	m.closed.Store(true)
	m.supervisor.Stop()

	for _, s := range m.registry.Sessions() {
		s.mu.Lock()
		s.gen++
		tr := s.transport
		s.transport = nil
		s.mu.Unlock()
		if tr == nil {
			continue
		}
		if err := tr.Close(ctx); err != nil {
			m.logger.Warn("транспорт не освобождён при остановке", zap.String("account_id", s.accountID), zap.Error(err))
		}
	}
	m.cleanup.Wait()
}

// goSafe запускает горутину, в которой паника одного аккаунта не роняет процесс.
func (m *Manager) goSafe(accountID, what string, fn func()) {
	go func() {
		defer m.recoverPanic(accountID, what)
		fn()
	}()
}

func (m *Manager) recoverPanic(accountID, what string) {
	if r := recover(); r != nil {
		m.logger.Error("паника перехвачена",
			zap.String("account_id", accountID),
			zap.String("where", what),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}
