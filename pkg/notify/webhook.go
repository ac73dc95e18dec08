// Package notify доставляет control plane изменения статуса аккаунтов.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"tgw_go/pkg/config"
	"tgw_go/pkg/metrics"
	"tgw_go/pkg/session"
)

const (
	statusAction   = "internal_status_update"
	defaultBacklog = 1024
)

// Recorder дублирует статусы в журнал. Необязателен.
type Recorder interface {
	RecordStatus(ctx context.Context, accountID, status, phone string) error
}

type payload struct {
	Secret    string `json:"secret"`
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
	Phone     string `json:"phone,omitempty"`
}

// Webhook отправляет уведомления из пула воркеров, не задерживая автомат сессии.
// Notify кладёт уведомление в ограниченную очередь, диспетчер раздаёт её воркерам.
// Доставка однократная: ошибка только логируется.
type Webhook struct {
	endpoint string
	secret   string
	timeout  time.Duration
	client   *http.Client
	pool     *ants.Pool
	recorder Recorder
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan payload
	done   chan struct{}
}

func NewWebhook(cfg config.ControlPlaneConfig, recorder Recorder, logger *zap.Logger) (*Webhook, error) {
	w := &Webhook{
		secret:   cfg.Secret,
		timeout:  cfg.Timeout,
		client:   &http.Client{},
		recorder: recorder,
		logger:   logger.Named("NOTIFY"),
	}
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse control plane url")
		}
		q := u.Query()
		q.Set("action", statusAction)
		u.RawQuery = q.Encode()
		w.endpoint = u.String()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	backlog := cfg.Backlog
	if backlog < 1 {
		backlog = defaultBacklog
	}
	// Submit блокируется до свободного воркера; ждёт только диспетчер.
	pool, err := ants.NewPool(workers,
		ants.WithPanicHandler(func(v any) {
			w.logger.Error("паника при отправке уведомления", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create notify pool")
	}
	w.pool = pool
	w.queue = make(chan payload, backlog)
	w.done = make(chan struct{})
	go w.dispatch()
	return w, nil
}

// Notify ставит уведомление в очередь и сразу возвращается.
// Уведомление отбрасывается, только если очередь заполнена или Webhook закрыт.
func (w *Webhook) Notify(accountID string, status session.NotifyStatus, phone string) {
	p := payload{Secret: w.secret, AccountID: accountID, Status: string(status), Phone: phone}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(p, errors.New("notifier is closed"))
		return
	}
	select {
	case w.queue <- p:
	default:
		w.drop(p, errors.Newf("backlog of %d is full", cap(w.queue)))
	}
}

func (w *Webhook) drop(p payload, reason error) {
	metrics.Notifications.WithLabelValues(p.Status, "dropped").Inc()
	w.logger.Warn("уведомление отброшено", zap.String("account_id", p.AccountID), zap.String("status", p.Status), zap.Error(reason))
}

func (w *Webhook) dispatch() {
	defer close(w.done)
	for p := range w.queue {
		if err := w.pool.Submit(func() { w.deliver(p) }); err != nil {
			w.drop(p, err)
		}
	}
}

func (w *Webhook) deliver(p payload) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if w.recorder != nil {
		if err := w.recorder.RecordStatus(ctx, p.AccountID, p.Status, p.Phone); err != nil {
			w.logger.Warn("статус не записан в журнал", zap.String("account_id", p.AccountID), zap.Error(err))
		}
	}
	if w.endpoint == "" {
		metrics.Notifications.WithLabelValues(p.Status, "skipped").Inc()
		return
	}

	if err := w.post(ctx, p); err != nil {
		metrics.Notifications.WithLabelValues(p.Status, "failed").Inc()
		w.logger.Warn("control plane не принял уведомление",
			zap.String("account_id", p.AccountID), zap.String("status", p.Status), zap.Error(err))
		return
	}
	metrics.Notifications.WithLabelValues(p.Status, "sent").Inc()
	w.logger.Info("уведомление доставлено", zap.String("account_id", p.AccountID), zap.String("status", p.Status))
}

func (w *Webhook) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post status")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("control plane answered %d", resp.StatusCode)
	}
	return nil
}

// Close ждёт отправки уже принятых уведомлений, но не дольше timeout.
// Уведомления, пришедшие после Close, отбрасываются.
func (w *Webhook) Close(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		return errors.Newf("notify backlog not drained in %s", timeout)
	}
	return w.pool.ReleaseTimeout(time.Until(deadline))
}
