package models

import "time"

// Account хранит последний известный статус аккаунта из журнала.
type Account struct {
	AccountID string    `json:"account_id"`
	Status    string    `json:"status"`
	Phone     string    `json:"phone,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
