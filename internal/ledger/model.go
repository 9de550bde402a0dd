package ledger

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"servicehours/internal/apperr"
)

// DateLayout is the wire format of an entry's calendar date.
const DateLayout = "2006-01-02"

// MaxAttachments bounds the proof URLs one entry may carry.
const MaxAttachments = 5

// PunishmentTitle is the title of every admin-issued punishment entry.
const PunishmentTitle = "Punishment Hours"

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus accepts the three lifecycle states; the empty string means no filter.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusPending, StatusApproved, StatusRejected:
		return st, nil
	default:
		return "", apperr.Validation("unknown status %q", s)
	}
}

// Entry is one logged or punitive unit of service hours. Hours never change
// after creation; only Status, VerifierID and UpdatedAt do.
type Entry struct {
	ID           string
	StudentID    string
	Title        string
	Description  string
	Hours        float64
	Date         time.Time
	Status       Status
	IsPunishment bool
	VerifierID   string
	Attachments  []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type entryJSON struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Hours        float64   `json:"hours"`
	Date         string    `json:"date"`
	Status       Status    `json:"status"`
	IsPunishment bool      `json:"is_punishment"`
	VerifierID   string    `json:"verifier_id,omitempty"`
	Attachments  []string  `json:"attachments"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	attachments := e.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return json.Marshal(entryJSON{
		ID:           e.ID,
		StudentID:    e.StudentID,
		Title:        e.Title,
		Description:  e.Description,
		Hours:        e.Hours,
		Date:         e.Date.Format(DateLayout),
		Status:       e.Status,
		IsPunishment: e.IsPunishment,
		VerifierID:   e.VerifierID,
		Attachments:  attachments,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	})
}

// SubmitInput is what a student supplies when logging an activity.
type SubmitInput struct {
	Title       string
	Description string
	Hours       float64
	Date        time.Time
	Attachments []string
}

// Filter narrows a listing. Limit is clamped by the service.
type Filter struct {
	Status Status
	Cursor string
	Limit  int
}

// Page is one slice of a student's entries, newest date first.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

// Summary totals a student's hours per status.
type Summary struct {
	Approved float64 `json:"approved"`
	Pending  float64 `json:"pending"`
	Rejected float64 `json:"rejected"`
}

// Cursor marks the last entry of a page.
type Cursor struct {
	Date time.Time
	ID   string
}

type cursorJSON struct {
	D string `json:"d"`
	I string `json:"i"`
}

// EncodeCursor returns the opaque continuation token after e.
func EncodeCursor(e Entry) string {
	raw, _ := json.Marshal(cursorJSON{D: e.Date.Format(DateLayout), I: e.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	var c cursorJSON
	if err := json.Unmarshal(raw, &c); err != nil || c.I == "" {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	date, err := time.Parse(DateLayout, c.D)
	if err != nil {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	return Cursor{Date: date, ID: c.I}, nil
}
