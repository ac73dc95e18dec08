// Package config загружает настройки шлюза из YAML-файла.
// Значения вида ${VAR} подставляются из окружения до разбора.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"tgw_go/models"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Session      SessionConfig      `yaml:"session"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIToken включает проверку Bearer-токена на всех маршрутах, кроме /health и /metrics.
	APIToken string `yaml:"api_token"`
}

type TelegramConfig struct {
	AppID       int          `yaml:"app_id"`
	AppHash     string       `yaml:"app_hash"`
	SessionsDir string       `yaml:"sessions_dir"`
	DeviceModel string       `yaml:"device_model"`
	Proxy       models.Proxy `yaml:"proxy"`
}

// SessionConfig задаёт задержки жизненного цикла сессий.
type SessionConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	LogoutTimeout  time.Duration `yaml:"logout_timeout"`
	LogoutSettle   time.Duration `yaml:"logout_settle"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
	ReleaseSettle  time.Duration `yaml:"release_settle"`
	LookupAttempts int           `yaml:"lookup_attempts"`
	LookupDelay    time.Duration `yaml:"lookup_delay"`
}

type ControlPlaneConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
	// Backlog ограничивает очередь уведомлений, ждущих свободного воркера.
	Backlog int `yaml:"backlog"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":3001"},
		Telegram: TelegramConfig{
			SessionsDir: "./sessions",
			DeviceModel: "tgw_go",
		},
		Session: SessionConfig{
			ReconnectDelay: 5 * time.Second,
			LogoutTimeout:  10 * time.Second,
			LogoutSettle:   2 * time.Second,
			ReleaseTimeout: 10 * time.Second,
			ReleaseSettle:  time.Second,
			LookupAttempts: 3,
			LookupDelay:    time.Second,
		},
		ControlPlane: ControlPlaneConfig{
			Timeout: 10 * time.Second,
			Workers: 16,
			Backlog: 1024,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load читает файл конфигурации поверх значений по умолчанию.
// Отсутствующий файл не ошибка: тогда работаем на умолчаниях и переменных окружения.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, errors.Wrap(err, "parsing config file")
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrap(err, "reading config file")
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars заменяет ${VAR} значением переменной окружения (пустой строкой, если не задана).
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

// applyEnv применяет переопределения из окружения (PORT, DATABASE_URL).
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

// Validate проверяет обязательные поля и диапазоны.
func (c *Config) Validate() error {
	if c.Telegram.AppID == 0 || c.Telegram.AppHash == "" {
		return errors.New("telegram.app_id and telegram.app_hash are required")
	}
	if c.Telegram.SessionsDir == "" {
		return errors.New("telegram.sessions_dir is required")
	}
	if c.Session.ReconnectDelay <= 0 {
		return errors.New("session.reconnect_delay must be positive")
	}
	if c.Session.LookupAttempts < 1 {
		return errors.New("session.lookup_attempts must be at least 1")
	}
	if c.ControlPlane.URL != "" && c.ControlPlane.Secret == "" {
		return errors.New("control_plane.secret is required when control_plane.url is set")
	}
	if c.ControlPlane.Workers < 1 {
		return errors.New("control_plane.workers must be at least 1")
	}
	if c.ControlPlane.Backlog < 1 {
		return errors.New("control_plane.backlog must be at least 1")
	}
	return nil
}
