package telegram

import (
	"github.com/cockroachdb/errors"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgw_go/pkg/config"
	"tgw_go/pkg/session"
)

// SessionFiles знает, где лежат файлы сессий аккаунтов.
type SessionFiles interface {
	Ensure(accountID string) error
	SessionPath(accountID string) string
}

// Factory создаёт транспорты MTProto для менеджера сессий.
type Factory struct {
	cfg    config.TelegramConfig
	files  SessionFiles
	logger *zap.Logger
}

func NewFactory(cfg config.TelegramConfig, files SessionFiles, logger *zap.Logger) *Factory {
	return &Factory{cfg: cfg, files: files, logger: logger.Named("TELEGRAM")}
}

// New готовит клиента, но не подключается: сеть поднимает Start.
func (f *Factory) New(accountID string, sink session.EventSink) (session.Transport, error) {
	if err := f.files.Ensure(accountID); err != nil {
		return nil, err
	}
	logger := f.logger.With(zap.String("account_id", accountID))

	d := tg.NewUpdateDispatcher()
	loggedIn := qrlogin.OnLoginToken(d)
	client, err := NewClient(ClientOptions{
		AppID:         f.cfg.AppID,
		AppHash:       f.cfg.AppHash,
		DeviceModel:   f.cfg.DeviceModel,
		Proxy:         f.cfg.Proxy,
		SessionPath:   f.files.SessionPath(accountID),
		UpdateHandler: d,
		Logger:        logger.Named("MTPROTO").WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "init client for %s", accountID)
	}
	return newTransport(accountID, client, loggedIn, sink, logger), nil
}
