package model

import "strings"

// ActivityStatus is the lifecycle state of an activity.
type ActivityStatus string

const (
	ActivityPending   ActivityStatus = "pending"
	ActivityOpen      ActivityStatus = "open"
	ActivityFull      ActivityStatus = "full"
	ActivityClosed    ActivityStatus = "closed"
	ActivityCancelled ActivityStatus = "cancelled"
)

// ActivityStatuses lists every valid activity status.
var ActivityStatuses = []ActivityStatus{
	ActivityPending, ActivityOpen, ActivityFull, ActivityClosed, ActivityCancelled,
}

// Valid reports whether s is a known activity status.
func (s ActivityStatus) Valid() bool {
	for _, v := range ActivityStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ActivityType categorises an activity.
type ActivityType string

const (
	TypeBasketball ActivityType = "basketball"
	TypeFootball   ActivityType = "football"
	TypeBadminton  ActivityType = "badminton"
	TypeTennis     ActivityType = "tennis"
	TypeSwimming   ActivityType = "swimming"
	TypeYoga       ActivityType = "yoga"
	TypeFitness    ActivityType = "fitness"
	TypeOther      ActivityType = "other"
)

// RegistrationStatus is the lifecycle state of a registration.
//
// CANCELLED is terminal and is the only state that does not hold a slot.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "PENDING"
	RegistrationConfirmed RegistrationStatus = "CONFIRMED"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
)

// RegistrationStatuses lists every valid registration status.
var RegistrationStatuses = []RegistrationStatus{
	RegistrationPending, RegistrationConfirmed, RegistrationCancelled,
}

// ParseRegistrationStatus normalises s and reports whether it names a status.
func ParseRegistrationStatus(s string) (RegistrationStatus, bool) {
	st := RegistrationStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range RegistrationStatuses {
		if st == v {
			return st, true
		}
	}
	return "", false
}

// adminTransitions are the moves an administrator may make with a direct
// status change. CONFIRMED -> CANCELLED is only reachable through withdrawal.
var adminTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationPending: {RegistrationConfirmed, RegistrationCancelled},
}

// CanSetTo reports whether a direct status change from s to next is legal.
func (s RegistrationStatus) CanSetTo(next RegistrationStatus) bool {
	for _, v := range adminTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// Role is the authorization role of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)
