package telegram

import (
	"fmt"
	"runtime"

	"github.com/cockroachdb/errors"
	tdsession "github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"tgw_go/models"
)

const appVersion = "1.0"

// ClientOptions описывает клиента MTProto одного аккаунта.
type ClientOptions struct {
	AppID         int
	AppHash       string
	DeviceModel   string
	Proxy         models.Proxy
	SessionPath   string
	UpdateHandler telegram.UpdateHandler
	Logger        *zap.Logger
}

// NewClient собирает клиента: файловое хранилище сессии, опциональный SOCKS5 и логгер.
func NewClient(opts ClientOptions) (*telegram.Client, error) {
	if opts.SessionPath == "" {
		return nil, errors.New("session path is empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tOpts := telegram.Options{
		SessionStorage: &tdsession.FileStorage{Path: opts.SessionPath},
		UpdateHandler:  opts.UpdateHandler,
		Logger:         logger,
		Device: telegram.DeviceConfig{
			DeviceModel:   opts.DeviceModel,
			SystemVersion: runtime.GOOS,
			AppVersion:    appVersion,
		},
	}
	if opts.Proxy.Enabled() {
		resolver, err := proxyResolver(opts.Proxy)
		if err != nil {
			return nil, err
		}
		tOpts.Resolver = resolver
		logger.Info("клиент пойдёт через прокси", zap.String("proxy", fmt.Sprintf("%s:%d", opts.Proxy.IP, opts.Proxy.Port)))
	}
	return telegram.NewClient(opts.AppID, opts.AppHash, tOpts), nil
}

func proxyResolver(p models.Proxy) (dcs.Resolver, error) {
	addr := fmt.Sprintf("%s:%d", p.IP, p.Port)
	var auth *proxy.Auth
	if p.Login != "" || p.Password != "" {
		auth = &proxy.Auth{User: p.Login, Password: p.Password}
	}
	d, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, errors.Wrap(err, "proxy dialer")
	}
	dc, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("proxy dialer missing context")
	}
	return dcs.Plain(dcs.PlainOptions{Dial: dc.DialContext}), nil
}
