package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DB ведёт журнал статусов аккаунтов в postgres.
type DB struct {
	Conn   *sql.DB
	logger *zap.Logger
}

func NewDB(conn *sql.DB, logger *zap.Logger) *DB {
	return &DB{Conn: conn, logger: logger.Named("DB")}
}

// Open подключается к postgres и проверяет соединение.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	conn.SetMaxOpenConns(8)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return NewDB(conn, logger), nil
}

func (db *DB) Close() error {
	return db.Conn.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS gateway_accounts (
    account_id TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    phone      TEXT,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema создаёт таблицу журнала, если её ещё нет.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Conn.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "create gateway_accounts")
	}
	return nil
}
