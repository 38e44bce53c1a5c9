package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the application-side lifecycle state of an image's description.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInQueue    Status = "in_queue"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusRemoving   Status = "removing"
	StatusFailed     Status = "failed"
)

// ValidStatus reports whether s is a member of the closed status set.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNotStarted, StatusInQueue, StatusProcessing, StatusDone, StatusRemoving, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a resting state: no further transition is
// expected without an explicit new enqueue.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusNotStarted
}

// transitions is the canonical edge set. Every status write goes through
// Transition; there is no other way to mutate an image's status.
var transitions = map[Status][]Status{
	StatusNotStarted: {StatusInQueue},
	StatusInQueue:    {StatusProcessing, StatusRemoving},
	StatusProcessing: {StatusDone, StatusFailed, StatusRemoving},
	StatusRemoving:   {StatusNotStarted, StatusFailed},
	StatusDone:       {StatusInQueue},
	StatusFailed:     {StatusInQueue},
}

// Transition validates the edge from → to. A self-edge is reported as a
// duplicate so callers can treat repeated callbacks as no-ops.
func Transition(from, to Status) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from == to {
		return ErrDuplicateTransition
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ImageItem is an image known to the application. The worker never writes
// these rows; it only reports outcomes through callbacks.
type ImageItem struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	Path        string    `db:"path"        json:"path"`
	ModelID     *string   `db:"model_id"    json:"model_id,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
	Status      Status    `db:"status"      json:"status"`
	// StatusSeq is a generation counter bumped on every enqueue. Callbacks
	// echo the seq of the job they belong to; anything else is stale.
	StatusSeq int64     `db:"status_seq" json:"status_seq"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
