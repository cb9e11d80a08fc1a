package model

import (
	"fmt"
	"time"
)

// User is a member of the social graph. FollowerIDs and FollowingIDs are the two
// halves of the follow relation; B in A.FollowingIDs implies A in B.FollowerIDs.
type User struct {
	ID             string    `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	FullName       string    `db:"full_name" json:"full_name"`
	Bio            string    `db:"bio" json:"bio"`
	AvatarRef      *string   `db:"avatar_ref" json:"avatar_ref"`
	FollowerCount  int       `db:"follower_count" json:"follower_count"`
	FollowingCount int       `db:"following_count" json:"following_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	FollowerIDs  []string `db:"-" json:"follower_ids"`
	FollowingIDs []string `db:"-" json:"following_ids"`
}

// Summary returns the public summary of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		AvatarRef: u.AvatarRef,
	}
}

// UserSummary is the resolved identity shown next to posts, comments and follow lists.
type UserSummary struct {
	ID        string  `db:"id" json:"id" bson:"_id"`
	Username  string  `db:"username" json:"username" bson:"username"`
	FullName  string  `db:"full_name" json:"full_name" bson:"full_name"`
	AvatarRef *string `db:"avatar_ref" json:"avatar_ref" bson:"avatar_ref"`
}

// Profile is a user with resolved follow lists and their posts, newest first.
type Profile struct {
	User      *User         `json:"user"`
	Followers []UserSummary `json:"followers"`
	Following []UserSummary `json:"following"`
	Posts     []Post        `json:"posts"`
	// IsFollowing reports whether the authenticated reader follows this user.
	IsFollowing bool `json:"is_following"`
}

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	FullName string `json:"full_name" validate:"max=100"`
	Bio      string `json:"bio" validate:"max=500"`
}

// UpdateProfileRequest carries the profile fields to change. Nil fields are left as is.
type UpdateProfileRequest struct {
	FullName  *string `json:"full_name" validate:"omitempty,max=100"`
	Bio       *string `json:"bio" validate:"omitempty,max=500"`
	AvatarRef *string `json:"avatar_ref" validate:"omitempty,max=2048"`
}

// User constraints
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxFullNameLength = 100
	MaxBioLength      = 500
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

var (
	ErrUserNotFound     = fmt.Errorf("user not found: %w", ErrNotFound)
	ErrUsernameExists   = fmt.Errorf("username already exists: %w", ErrValidation)
	ErrInvalidUsername  = fmt.Errorf("username must be 3-30 letters, digits, '_' or '.': %w", ErrValidation)
	ErrFullNameTooLong  = fmt.Errorf("full name too long: %w", ErrValidation)
	ErrBioTooLong       = fmt.Errorf("bio too long: %w", ErrValidation)
	ErrEmptySearchQuery = fmt.Errorf("search query is required: %w", ErrValidation)
	ErrNotProfileOwner  = fmt.Errorf("not the owner of this profile: %w", ErrForbidden)

	ErrAvatarRefNotAllowed = fmt.Errorf("avatar ref must be an external URL or uploaded through the avatar endpoint: %w", ErrValidation)
)
