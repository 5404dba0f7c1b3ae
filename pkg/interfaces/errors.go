package interfaces

import "errors"

// Common errors shared by store implementations and their callers.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	ErrSelfVote = errors.New("cannot vote on your own message")

	ErrNothingToUpdate = errors.New("no fields to update")
)
