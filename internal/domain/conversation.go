package domain

// Message is one persisted turn of a conversation (user or assistant).
// A stored Message is always complete; streaming state never reaches the store.
type Message struct {
	Role      Role
	Content   string
	Timestamp Timestamp
}

// Conversation is the per-user record: one remote thread and an append-only message log.
type Conversation struct {
	UserID   UserID
	ThreadID ThreadID
	Messages []Message

	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Assistant is the remote job definition the process submits every run against.
// It is provisioned once at startup and never mutated afterwards.
type Assistant struct {
	ID           AssistantID
	Name         string
	Model        string
	Instructions string
}
