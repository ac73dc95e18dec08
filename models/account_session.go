package models

// SessionStatus отдаётся эндпоинтом /status.
// QR содержит уже отрисованную картинку (data URL), сырой токен наружу не отдаётся.
type SessionStatus struct {
	QR               *string `json:"qr"`
	Connected        bool    `json:"connected"`
	Authenticating   bool    `json:"authenticating"`
	Phone            *string `json:"phone"`
	State            string  `json:"state"`
	ReconnectAttempt int     `json:"reconnect_attempt"`
}
