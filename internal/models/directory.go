package models

import "time"

// UserSummary is the public profile attached to chats and messages.
type UserSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Creator is the creator profile a chat is anchored on.
type Creator struct {
	ID                 string `json:"id"`
	UserID             string `json:"userId"`
	DisplayName        string `json:"displayName"`
	ProfileImage       string `json:"profileImage,omitempty"`
	VerificationStatus string `json:"verificationStatus,omitempty"`
	PrimaryCategory    string `json:"primaryCategory,omitempty"`
}

// Session is a login session owned by the identity service.
type Session struct {
	UserID       string
	RefreshToken string
	IsActive     bool
	ExpiresAt    time.Time
}

// Live reports whether the session can still authenticate requests.
func (s Session) Live(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}
