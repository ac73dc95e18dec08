package telegram

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tgw_go/models"
	"tgw_go/pkg/session"
)

// Ошибки, после которых сессию не восстановить без нового входа по QR.
var loggedOutErrors = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"AUTH_KEY_DUPLICATED",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

// classifyClose переводит ошибку завершения клиента в причину закрытия.
func classifyClose(err error) session.CloseReason {
	if err == nil {
		return session.ReasonConnectionLost
	}
	if tgerr.IsCode(err, 401) || tgerr.Is(err, loggedOutErrors...) {
		return session.ReasonLoggedOut
	}
	return session.ReasonConnectionLost
}

// Transport держит сессию MTProto одного аккаунта. Все события уходят в sink
// из горутины run по одному.
type Transport struct {
	accountID string
	client    *telegram.Client
	loggedIn  qrlogin.LoggedIn
	sink      session.EventSink
	logger    *zap.Logger

	mu      sync.Mutex
	api     *tg.Client
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	closing atomic.Bool
}

func newTransport(accountID string, client *telegram.Client, loggedIn qrlogin.LoggedIn, sink session.EventSink, logger *zap.Logger) *Transport {
	return &Transport{
		accountID: accountID,
		client:    client,
		loggedIn:  loggedIn,
		sink:      sink,
		logger:    logger,
	}
}

// Start запускает цикл клиента в фоне. Сессия с диска подхватывается внутри client.Run.
func (t *Transport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing.Load() {
		return errors.New("transport is closed")
	}
	if t.started {
		return errors.New("transport already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.started = true
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, t.done)
	return nil
}

func (t *Transport) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("паника в цикле транспорта", zap.Any("panic", r))
			t.emit(session.Event{Kind: session.EventClose, Reason: session.ReasonConnectionLost})
		}
	}()

	err := t.client.Run(ctx, func(ctx context.Context) error {
		if err := t.authorize(ctx); err != nil {
			return err
		}
		self, err := t.client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "get self")
		}
		t.mu.Lock()
		t.api = tg.NewClient(t.client)
		t.mu.Unlock()

		t.logger.Info("канал открыт", zap.String("phone", self.Phone))
		t.emit(session.Event{Kind: session.EventOpen, Phone: self.Phone})
		<-ctx.Done()
		return ctx.Err()
	})

	t.mu.Lock()
	t.api = nil
	t.mu.Unlock()

	if t.closing.Load() {
		return
	}
	reason := classifyClose(err)
	t.logger.Warn("клиент остановился", zap.String("reason", string(reason)), zap.Error(err))
	t.emit(session.Event{Kind: session.EventClose, Reason: reason})
}

// authorize пропускает вход, если сессия на диске ещё действует, иначе ведёт вход по QR.
func (t *Transport) authorize(ctx context.Context) error {
	status, err := t.client.Auth().Status(ctx)
	if err != nil {
		return errors.Wrap(err, "auth status")
	}
	if status.Authorized {
		return nil
	}
	_, err = t.client.QR().Auth(ctx, t.loggedIn, func(ctx context.Context, token qrlogin.Token) error {
		t.emit(session.Event{Kind: session.EventQR, QR: token.URL()})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "qr login")
	}
	t.emit(session.Event{Kind: session.EventAuthenticated})
	return nil
}

func (t *Transport) emit(ev session.Event) {
	if t.closing.Load() {
		return
	}
	t.sink(ev)
}

// apiClient отдаёт RPC-клиент, только когда канал открыт.
func (t *Transport) apiClient() (*tg.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.api == nil {
		return nil, session.ErrNotReady
	}
	return t.api, nil
}

func (t *Transport) Logout(ctx context.Context) error {
	api, err := t.apiClient()
	if err != nil {
		return err
	}
	if _, err := api.AuthLogOut(ctx); err != nil {
		return errors.Wrap(err, "auth.logOut")
	}
	t.logger.Info("logout выполнен")
	return nil
}

// Close останавливает цикл и ждёт его выхода. Повторный вызов безопасен.
func (t *Transport) Close(ctx context.Context) error {
	t.closing.Store(true)
	t.mu.Lock()
	started, cancel, done := t.started, t.cancel, t.done
	t.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait transport loop")
	}
}

func (t *Transport) Send(ctx context.Context, destination, text string) error {
	api, err := t.apiClient()
	if err != nil {
		return err
	}
	user, err := resolvePhone(ctx, api, destination)
	if err != nil {
		return err
	}
	return sendText(ctx, api, user.AsInputPeer(), text)
}

func (t *Transport) CheckNumbers(ctx context.Context, numbers []string) ([]models.NumberCheck, error) {
	api, err := t.apiClient()
	if err != nil {
		return nil, err
	}
	return checkNumbers(ctx, api, numbers)
}

func (t *Transport) Groups(ctx context.Context) ([]models.Group, error) {
	api, err := t.apiClient()
	if err != nil {
		return nil, err
	}
	return fetchGroups(ctx, api)
}

func (t *Transport) GroupParticipants(ctx context.Context, groupID string) ([]models.Participant, error) {
	ref, err := parseGroupID(groupID)
	if err != nil {
		return nil, err
	}
	api, err := t.apiClient()
	if err != nil {
		return nil, err
	}
	return fetchParticipants(ctx, api, ref)
}
