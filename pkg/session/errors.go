package session

import (
	"github.com/cockroachdb/errors"
)

// Листовые ошибки слоя сессий. Обработчики HTTP классифицируют их через errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotConnected       = errors.New("account is not connected")
	ErrTransport          = errors.New("transport failure")
	ErrSendFailed         = errors.New("send failed")
	ErrAlreadyTerminating = errors.New("session teardown in progress")

	// ErrNotReady возвращает транспорт, когда канал ещё не открыт.
	// Это единственное состояние, на котором массовые запросы делают повтор.
	ErrNotReady = errors.New("transport not ready")
)

// MaxAccountIDLen ограничивает длину account_id в байтах.
const MaxAccountIDLen = 128

// ValidateAccountID проверяет только пустоту и длину: account_id непрозрачен для шлюза.
func ValidateAccountID(accountID string) error {
	if accountID == "" {
		return errors.Mark(errors.New("account_id is required"), ErrValidation)
	}
	if len(accountID) > MaxAccountIDLen {
		return errors.Mark(errors.Newf("account_id is longer than %d bytes", MaxAccountIDLen), ErrValidation)
	}
	return nil
}

// wrapTransport помечает ошибку транспорта, сохраняя исходную причину.
func wrapTransport(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrTransport)
}

// wrapSendFailed помечает ошибку сразу как ErrSendFailed и ErrTransport.
func wrapSendFailed(err error) error {
	return errors.Mark(wrapTransport(err, "send"), ErrSendFailed)
}
