package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"tgw_go/models"
)

// ErrNotFound означает, что в журнале нет строки для аккаунта.
var ErrNotFound = errors.New("account not found in journal")

// UpsertAccountStatus записывает последний статус аккаунта. Пустой телефон не затирает известный.
func (db *DB) UpsertAccountStatus(ctx context.Context, accountID, status, phone string) error {
	_, err := db.Conn.ExecContext(ctx, `
        INSERT INTO gateway_accounts (account_id, status, phone, updated_at)
        VALUES ($1, $2, NULLIF($3, ''), NOW())
        ON CONFLICT (account_id) DO UPDATE
        SET status = EXCLUDED.status,
            phone = COALESCE(EXCLUDED.phone, gateway_accounts.phone),
            updated_at = NOW()`,
		accountID, status, phone,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert status of %s", accountID)
	}
	return nil
}

// RecordStatus пишет статус из уведомления в журнал.
func (db *DB) RecordStatus(ctx context.Context, accountID, status, phone string) error {
	if err := db.UpsertAccountStatus(ctx, accountID, status, phone); err != nil {
		return err
	}
	db.logger.Debug("статус записан", zap.String("account_id", accountID), zap.String("status", status))
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var (
		a     models.Account
		phone sql.NullString
	)
	if err := row.Scan(&a.AccountID, &a.Status, &phone, &a.UpdatedAt); err != nil {
		return models.Account{}, err
	}
	a.Phone = phone.String
	return a, nil
}

func (db *DB) GetAccountStatus(ctx context.Context, accountID string) (*models.Account, error) {
	row := db.Conn.QueryRowContext(ctx,
		"SELECT account_id, status, phone, updated_at FROM gateway_accounts WHERE account_id = $1", accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "account %s", accountID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get status of %s", accountID)
	}
	return &a, nil
}

// ListAccounts возвращает весь журнал по порядку account_id.
func (db *DB) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := db.Conn.QueryContext(ctx,
		"SELECT account_id, status, phone, updated_at FROM gateway_accounts ORDER BY account_id")
	if err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			db.logger.Warn("строка журнала пропущена", zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate accounts")
	}
	return out, nil
}
