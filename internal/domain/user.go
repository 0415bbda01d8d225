package domain

import "errors"

// ErrAccountNotFound is wrapped by identity directory adapters when the
// directory has no account for the requested username.
var ErrAccountNotFound = errors.New("identity account not found")

// Profile is the user's record in the primary profile store.
type Profile struct {
	ID         string
	Email      string
	PrimaryKey string
}

// DeletionOutcome holds the per-collection cascade counts of one deletion.
type DeletionOutcome struct {
	Conversations int
	Threads       int
}
