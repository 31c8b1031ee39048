package model

import "time"

// CreateActivityRequest is the payload for creating a new activity.
type CreateActivityRequest struct {
	Title           string       `json:"title" validate:"required,min=2,max=100"`
	Description     string       `json:"description" validate:"required,min=10,max=1000"`
	Type            ActivityType `json:"type" validate:"required,oneof=basketball football badminton tennis swimming yoga fitness other"`
	StartTime       time.Time    `json:"startTime" validate:"required"`
	EndTime         time.Time    `json:"endTime" validate:"required,gtfield=StartTime"`
	Location        string       `json:"location" validate:"required,min=2,max=200"`
	Price           float64      `json:"price" validate:"gte=0"`
	MaxParticipants int          `json:"maxParticipants" validate:"required,min=1,max=100"`
	ImageURL        string       `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

// UpdateActivityRequest is a partial update; nil fields are left unchanged.
type UpdateActivityRequest struct {
	Title           *string       `json:"title,omitempty" validate:"omitempty,min=2,max=100"`
	Description     *string       `json:"description,omitempty" validate:"omitempty,min=10,max=1000"`
	Type            *ActivityType `json:"type,omitempty" validate:"omitempty,oneof=basketball football badminton tennis swimming yoga fitness other"`
	StartTime       *time.Time    `json:"startTime,omitempty"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	Location        *string       `json:"location,omitempty" validate:"omitempty,min=2,max=200"`
	Price           *float64      `json:"price,omitempty" validate:"omitempty,gte=0"`
	MaxParticipants *int          `json:"maxParticipants,omitempty" validate:"omitempty,min=1,max=100"`
	ImageURL        *string       `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

// ChangeActivityStatusRequest moves an activity from one status to another.
// From is optional; when set the change only applies if the activity is
// still in that status.
type ChangeActivityStatusRequest struct {
	From ActivityStatus `json:"from,omitempty"`
	To   ActivityStatus `json:"to" validate:"required"`
}

// EnrollRequest is the payload for enrolling in an activity.
type EnrollRequest struct {
	ActivityID string `json:"activityId" validate:"required"`
	Notes      string `json:"notes,omitempty" validate:"max=200"`
}

// AmendRequest updates the notes of the caller's registration.
type AmendRequest struct {
	Notes string `json:"notes" validate:"max=200"`
}

// SetStatusRequest is the payload for an administrative status change.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// CommentRequest is the payload for creating or replacing a comment.
type CommentRequest struct {
	Rating  int    `json:"rating" validate:"min=1,max=5"`
	Content string `json:"content" validate:"min=5,max=500"`
}

// RegisterUserRequest is the payload for creating an account.
type RegisterUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=100"`
	RealName string `json:"realName,omitempty" validate:"omitempty,min=2,max=50"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,len=11,numeric,startswith=1"`
}

// LoginRequest is the payload for exchanging credentials for a token.
type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required"`
	Password        string `json:"password" validate:"required"`
}

// LoginResponse carries the authenticated user and a bearer token.
type LoginResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// ActivitySummary is the activity view embedded in registration projections.
type ActivitySummary struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Type      ActivityType `json:"type"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	Location  string       `json:"location"`
	ImageURL  string       `json:"imageUrl,omitempty"`
}

// UserSummary is the user view embedded in registration projections.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RealName string `json:"realName,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Author is the user view embedded in comment projections.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// RegistrationView is the projection returned by enrollment operations.
type RegistrationView struct {
	ID        string             `json:"id"`
	Status    RegistrationStatus `json:"status"`
	Notes     string             `json:"notes,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Activity  ActivitySummary    `json:"activity"`
	User      UserSummary        `json:"user"`
}

// CommentView is the projection returned by comment operations.
type CommentView struct {
	ID        string    `json:"id"`
	User      Author    `json:"user"`
	Rating    int       `json:"rating"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActivityDetail is an activity with its most recent comments.
type ActivityDetail struct {
	Activity
	AverageRating float64       `json:"averageRating"`
	Comments      []CommentView `json:"comments"`
}

// RegistrationList is one page of registrations.
type RegistrationList struct {
	Registrations []RegistrationView `json:"registrations"`
	Total         int                `json:"total"`
	Page          int                `json:"page"`
	Limit         int                `json:"limit"`
}

// CommentList is one page of comments.
type CommentList struct {
	Comments []CommentView `json:"comments"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
}

// ActivityList is one page of activities.
type ActivityList struct {
	Activities []Activity `json:"activities"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// NewActivitySummary projects a to its embedded summary.
func NewActivitySummary(a *Activity) ActivitySummary {
	return ActivitySummary{
		ID:        a.ID,
		Title:     a.Title,
		Type:      a.Type,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Location:  a.Location,
		ImageURL:  a.ImageURL,
	}
}

// NewUserSummary projects u to its embedded summary.
func NewUserSummary(u *User) UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.Username,
		RealName: u.RealName,
		Phone:    u.Phone,
		Email:    u.Email,
	}
}

// NewRegistrationView builds the projection for r.
func NewRegistrationView(r *Registration, a *Activity, u *User) RegistrationView {
	return RegistrationView{
		ID:        r.ID,
		Status:    r.Status,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Activity:  NewActivitySummary(a),
		User:      NewUserSummary(u),
	}
}

// NewCommentView builds the projection for c.
func NewCommentView(c *Comment, u *User) CommentView {
	return CommentView{
		ID:        c.ID,
		User:      Author{ID: u.ID, Username: u.Username, Avatar: u.Avatar},
		Rating:    c.Rating,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
