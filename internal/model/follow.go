package model

import "fmt"

// FollowResult is the outcome of a follow toggle.
type FollowResult struct {
	Following bool `json:"following"`
}

var (
	ErrCannotFollowSelf = fmt.Errorf("cannot follow yourself: %w", ErrValidation)
)
