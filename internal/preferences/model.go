package preferences

import "time"

// Request is a proposed class/location change awaiting an administrator.
// It is created by the student and consumed by an approve or reject; it is
// never updated in place.
type Request struct {
	ID               string    `json:"id"`
	StudentID        string    `json:"student_id"`
	StudentName      string    `json:"student_name"`
	StudentEmail     string    `json:"student_email"`
	RollNumber       string    `json:"roll_number"`
	ProposedClass    string    `json:"proposed_class"`
	ProposedLocation string    `json:"proposed_location"`
	CurrentClass     string    `json:"current_class"`
	CurrentLocation  string    `json:"current_location"`
	CreatedAt        time.Time `json:"created_at"`
}
