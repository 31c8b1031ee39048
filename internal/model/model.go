// Package model defines the core domain types for the activity enrollment system.
package model

import "time"

// Activity is a scheduled, capacity-limited event open for enrollment.
type Activity struct {
	ID                  string         `json:"id"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	Type                ActivityType   `json:"type"`
	Location            string         `json:"location"`
	Price               float64        `json:"price"`
	ImageURL            string         `json:"imageUrl,omitempty"`
	StartTime           time.Time      `json:"startTime"`
	EndTime             time.Time      `json:"endTime"`
	MaxParticipants     int            `json:"maxParticipants"`
	CurrentParticipants int            `json:"currentParticipants"`
	Status              ActivityStatus `json:"status"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// Remaining returns the number of free slots.
func (a *Activity) Remaining() int {
	return a.MaxParticipants - a.CurrentParticipants
}

// IsFull returns true when no slots remain.
func (a *Activity) IsFull() bool {
	return a.CurrentParticipants >= a.MaxParticipants
}

// AcceptsEnrollment reports whether new registrations may be admitted.
func (a *Activity) AcceptsEnrollment() bool {
	return a.Status == ActivityOpen && !a.IsFull()
}

// Registration is a user's claim on one slot of an activity's capacity.
type Registration struct {
	ID         string             `json:"id"`
	UserID     string             `json:"userId"`
	ActivityID string             `json:"activityId"`
	Status     RegistrationStatus `json:"status"`
	Notes      string             `json:"notes,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// Active reports whether the registration still holds a capacity slot.
func (r *Registration) Active() bool {
	return r.Status != RegistrationCancelled
}

// Comment is a participant's rating and review of an activity.
type Comment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ActivityID string    `json:"activityId"`
	Rating     int       `json:"rating"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// User is an account that can enroll in activities.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	RealName     string    `json:"realName,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	CreditPoints int       `json:"creditPoints"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity is the authenticated caller as asserted by the token verifier.
type Identity struct {
	UserID   string
	Username string
	Role     Role
}

// IsAdmin reports whether the caller holds the administrative role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Page selects a window of a list ordered by creation time.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ActivityFilter narrows activity listings.
type ActivityFilter struct {
	Keyword   string
	Type      ActivityType
	Status    ActivityStatus
	StartFrom *time.Time
	StartTo   *time.Time
	Page
}

// RegistrationFilter narrows registration listings.
type RegistrationFilter struct {
	Status RegistrationStatus
	Page
}

// CounterDrift records a participant counter that disagreed with the
// registrations backing it.
type CounterDrift struct {
	ActivityID string `json:"activityId"`
	Recorded   int    `json:"recorded"`
	Actual     int    `json:"actual"`
}
