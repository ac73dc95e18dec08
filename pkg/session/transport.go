package session

import (
	"context"

	"tgw_go/models"
)

// EventSink принимает события транспорта. Транспорт вызывает его последовательно,
// из одной горутины, по одному событию за раз.
type EventSink func(Event)

// Transport оборачивает внешний клиент чат-протокола. Им владеет ровно одна запись сессии.
type Transport interface {
	// Start загружает учётные данные и запускает цикл транспорта; дальше работа идёт в фоне.
	Start(ctx context.Context) error
	Send(ctx context.Context, destination, text string) error
	Logout(ctx context.Context) error
	// Close освобождает ресурсы и ждёт завершения цикла транспорта (или истечения ctx).
	// После Close событие close не отправляется.
	Close(ctx context.Context) error
	CheckNumbers(ctx context.Context, numbers []string) ([]models.NumberCheck, error)
	Groups(ctx context.Context) ([]models.Group, error)
	GroupParticipants(ctx context.Context, groupID string) ([]models.Participant, error)
}

// TransportFactory создаёт транспорт для аккаунта.
type TransportFactory interface {
	New(accountID string, sink EventSink) (Transport, error)
}

// TransportFactoryFunc адаптирует функцию к TransportFactory.
type TransportFactoryFunc func(accountID string, sink EventSink) (Transport, error)

func (f TransportFactoryFunc) New(accountID string, sink EventSink) (Transport, error) {
	return f(accountID, sink)
}

// NotifyStatus сообщается control plane.
type NotifyStatus string

const (
	StatusConnected    NotifyStatus = "connected"
	StatusDisconnected NotifyStatus = "disconnected"
)

// Notifier сообщает наружу о переходах. Реализация обязана не блокировать
// и не возвращать ошибок: сбои только логируются.
type Notifier interface {
	Notify(accountID string, status NotifyStatus, phone string)
}

// CredentialStore хранит учётные данные по account_id.
type CredentialStore interface {
	List() ([]string, error)
	Delete(accountID string) error
}
