package models

// NumberCheck содержит результат проверки одного номера.
type NumberCheck struct {
	Input     string `json:"input"`
	Valid     bool   `json:"valid"`
	Formatted string `json:"formatted,omitempty"`
}

// Group описывает группу, в которой состоит аккаунт.
type Group struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ParticipantCount int    `json:"participantCount"`
	UnreadCount      int    `json:"unreadCount"`
}

type Participant struct {
	ID           string `json:"id"`
	User         string `json:"user"`
	Name         string `json:"name,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}
