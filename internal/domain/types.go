package domain

import "time"

type UserID string
type ThreadID string
type RunID string
type AssistantID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Timestamp = time.Time
