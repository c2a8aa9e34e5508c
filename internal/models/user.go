package models

import "time"

type UserRole string

const (
	UserRoleUser       UserRole = "user"
	UserRoleAdmin      UserRole = "admin"
	UserRoleSuperAdmin UserRole = "superadmin"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is a marketplace account. Sellers and buyers share the same row;
// admins moderate listings.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	DisplayName  string
	Role         UserRole
	Status       UserStatus
	AvatarURL    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user may moderate any listing.
func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin || u.Role == UserRoleSuperAdmin
}

func (u User) Active() bool {
	return u.Status == UserStatusActive
}

// Owns reports whether the listing belongs to the user.
func (u User) Owns(l Listing) bool {
	return u.ID != "" && l.UserID == u.ID
}

// Session is one signed-in device. The refresh token is stored hashed.
type Session struct {
	ID               string
	UserID           string
	DeviceID         string
	DeviceName       string
	RefreshTokenHash []byte
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	LastSeenAt       time.Time
	ExpiresAt        time.Time
}
