package domain

type EventType string

const (
	EventStatus  EventType = "status"
	EventMessage EventType = "message"
	EventError   EventType = "error"
)

// Event is one frame pushed to the caller while a run is polled.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventMessage || e.Type == EventError
}

func StatusEvent(content string) Event  { return Event{Type: EventStatus, Content: content} }
func MessageEvent(content string) Event { return Event{Type: EventMessage, Content: content} }
func ErrorEvent(content string) Event   { return Event{Type: EventError, Content: content} }
