package live

import (
	"context"
	"encoding/json"
	"time"
)

// Kind names what changed.
type Kind string

const (
	EntryCreated   Kind = "entry.created"
	EntryUpdated   Kind = "entry.updated"
	EntryDeleted   Kind = "entry.deleted"
	StudentUpdated Kind = "student.updated"
)

// Event is one change pushed to the dashboards of a single student.
type Event struct {
	Kind      Kind            `json:"kind"`
	StudentID string          `json:"student_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}

// NewEvent builds an event carrying payload encoded as JSON.
func NewEvent(kind Kind, studentID string, payload any) Event {
	evt := Event{Kind: kind, StudentID: studentID, At: time.Now().UTC()}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			evt.Payload = raw
		}
	}
	return evt
}

// Publisher delivers events to subscribers. Delivery is best effort: callers
// log failures and never fail the user action because of them.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
