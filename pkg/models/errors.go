package models

import "errors"

var (
	// ErrInvalidTransition marks a status edge the state machine rejects.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateTransition marks a repeated delivery of the current status.
	ErrDuplicateTransition = errors.New("duplicate status transition")
)
