package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tgw_go/internal/middleware"
	"tgw_go/internal/sessions"
	"tgw_go/pkg/config"
	"tgw_go/pkg/credentials"
	tgwlog "tgw_go/pkg/log"
	"tgw_go/pkg/metrics"
	"tgw_go/pkg/notify"
	"tgw_go/pkg/session"
	"tgw_go/pkg/storage"
	"tgw_go/pkg/telegram"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// логгера ещё нет
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := tgwlog.New(cfg.Logging)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("шлюз остановлен с ошибкой", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	creds, err := credentials.NewStore(cfg.Telegram.SessionsDir, logger)
	if err != nil {
		return err
	}

	// Журнал статусов необязателен: без DSN шлюз работает только с webhook.
	var (
		journal  sessions.Journal
		recorder notify.Recorder
	)
	if cfg.Database.DSN != "" {
		db, err := storage.Open(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		journal, recorder = db, db
		logger.Info("журнал статусов включён")
	}

	notifier, err := notify.NewWebhook(cfg.ControlPlane, recorder, logger)
	if err != nil {
		return err
	}

	manager := session.NewManager(session.Options{
		ReconnectDelay: cfg.Session.ReconnectDelay,
		LogoutTimeout:  cfg.Session.LogoutTimeout,
		LogoutSettle:   cfg.Session.LogoutSettle,
		ReleaseTimeout: cfg.Session.ReleaseTimeout,
		ReleaseSettle:  cfg.Session.ReleaseSettle,
		LookupAttempts: cfg.Session.LookupAttempts,
		LookupDelay:    cfg.Session.LookupDelay,
	}, telegram.NewFactory(cfg.Telegram, creds, logger), creds, notifier, logger)

	manager.Restore(ctx, creds)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           setupRouter(cfg, manager, journal, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("сервер запущен", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP-сервер остановлен не чисто", zap.Error(err))
	}
	manager.Shutdown(shutdownCtx)
	if err := notifier.Close(cfg.ControlPlane.Timeout); err != nil {
		logger.Warn("не все уведомления отправлены", zap.Error(err))
	}
	logger.Info("шлюз остановлен")
	return nil
}

// Настройка маршрутов
func setupRouter(cfg *config.Config, manager *session.Manager, journal sessions.Journal, registry *prometheus.Registry, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLog(logger))

	sessions.SetupHealth(r, manager.Registry())
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/", middleware.AuthRequired(cfg.Server.APIToken))
	sessions.SetupRoutes(api, manager, journal, logger)

	for _, route := range r.Routes() {
		logger.Debug("маршрут", zap.String("method", route.Method), zap.String("path", route.Path))
	}
	return r
}
