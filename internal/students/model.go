package students

import (
	"slices"
	"strings"
	"time"

	"servicehours/internal/apperr"
)

// AdminMarker fills the class and roll number of administrator records.
const AdminMarker = "ADMIN"

// Record is the per-principal profile and hour-total aggregate.
type Record struct {
	UID               string    `json:"uid"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PhotoURL          string    `json:"photo_url,omitempty"`
	Class             string    `json:"class"`
	Location          string    `json:"location"`
	RollNumber        string    `json:"roll_number"`
	TotalHours        float64   `json:"total_hours"`
	RequiredHours     float64   `json:"required_hours"`
	HasCompletedSetup bool      `json:"has_completed_setup"`
	IsAdmin           bool      `json:"is_admin"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RemainingHours is how many hours are still needed to meet the requirement.
func (r Record) RemainingHours() float64 {
	return max(0, r.RequiredHours-r.TotalHours)
}

// NeedsSetup reports whether the student still has to pick class and location.
func (r Record) NeedsSetup() bool {
	return !r.HasCompletedSetup && !r.IsAdmin
}

// Profile is the identity data a record is provisioned from.
type Profile struct {
	UID      string
	Email    string
	Name     string
	PhotoURL string
}

// NewRecord returns the default record for a first sign-in.
func NewRecord(p Profile, isAdmin bool, requiredHours float64, now time.Time) Record {
	rec := Record{
		UID:           p.UID,
		Name:          p.Name,
		Email:         p.Email,
		PhotoURL:      p.PhotoURL,
		RollNumber:    RollNumber(p.Email),
		RequiredHours: requiredHours,
		IsAdmin:       isAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if isAdmin {
		rec.RollNumber = AdminMarker
		rec.Class = AdminMarker
	}
	return rec
}

// RollNumber is the local part of an institutional email address.
func RollNumber(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Catalog lists the classes and locations a student may choose.
type Catalog struct {
	Classes   []string `json:"classes"`
	Locations []string `json:"locations"`
}

// Validate checks a class/location pair against the catalog.
func (c Catalog) Validate(class, location string) error {
	if !slices.Contains(c.Classes, class) {
		return apperr.Validation("unknown class %q", class)
	}
	if !slices.Contains(c.Locations, location) {
		return apperr.Validation("unknown location %q", location)
	}
	return nil
}
