package client

import (
	"time"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// Entry is one line of the live transcript. IsPartial marks the placeholder
// assistant line that tracks run progress; it is never persisted.
type Entry struct {
	Role      domain.Role
	Content   string
	Timestamp time.Time
	IsPartial bool
}

// View is the consumer-side transcript of a conversation.
type View struct {
	Entries []Entry
	// Err holds the content of the last error event, cleared by the next turn.
	Err string

	now func() time.Time
}

func NewView(history []domain.Message) *View {
	v := &View{now: time.Now}
	for _, m := range history {
		v.Entries = append(v.Entries, Entry{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}
	return v
}

// AddUser records the caller's own message before it is sent.
func (v *View) AddUser(text string) {
	v.Err = ""
	v.Entries = append(v.Entries, Entry{Role: domain.RoleUser, Content: text, Timestamp: v.now()})
}

// Apply folds one stream event into the view and reports whether the turn is over.
func (v *View) Apply(ev domain.Event) bool {
	switch ev.Type {
	case domain.EventStatus:
		if p := v.partial(); p != nil {
			p.Content = ev.Content
			return false
		}
		v.Entries = append(v.Entries, Entry{
			Role:      domain.RoleAssistant,
			Content:   ev.Content,
			Timestamp: v.now(),
			IsPartial: true,
		})
		return false
	case domain.EventMessage:
		v.dropPartial()
		v.Entries = append(v.Entries, Entry{Role: domain.RoleAssistant, Content: ev.Content, Timestamp: v.now()})
		return true
	case domain.EventError:
		v.dropPartial()
		v.Err = ev.Content
		return true
	default:
		return false
	}
}

// Abort discards the partial line when a stream ends without a terminal event.
func (v *View) Abort(reason string) {
	v.dropPartial()
	v.Err = reason
}

// Status is the content of the partial line, if any.
func (v *View) Status() string {
	if p := v.partial(); p != nil {
		return p.Content
	}
	return ""
}

func (v *View) partial() *Entry {
	for i := range v.Entries {
		if v.Entries[i].IsPartial {
			return &v.Entries[i]
		}
	}
	return nil
}

func (v *View) dropPartial() {
	kept := v.Entries[:0]
	for _, e := range v.Entries {
		if !e.IsPartial {
			kept = append(kept, e)
		}
	}
	v.Entries = kept
}
