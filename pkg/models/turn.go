package models

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single message within a session.
type Turn struct {
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	Model         string    `json:"model,omitempty"`
	TokenEstimate int       `json:"token_estimate,omitempty"`
}
