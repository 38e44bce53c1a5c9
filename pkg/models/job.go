package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// ActiveJobStatus reports whether a job in this state still blocks a new
// enqueue for the same image.
func ActiveJobStatus(status string) bool {
	return status == JobStatusPending || status == JobStatusProcessing
}

// Job is one unit of queued inference work, owned by the worker's job store.
type Job struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	ImageID   uuid.UUID `db:"image_id"   json:"image_id"`
	ImagePath string    `db:"image_path" json:"image_path"`
	ModelID   string    `db:"model_id"   json:"model_id"`
	// Seq is the image's status_seq captured at enqueue time; it rides along
	// on every callback so the application can discard late results from
	// superseded jobs.
	Seq                    int64     `db:"seq"                      json:"seq"`
	Status                 string    `db:"status"                   json:"status"`
	CallbackStatusURL      string    `db:"callback_status_url"      json:"callback_status_url"`
	CallbackDescriptionURL string    `db:"callback_description_url" json:"callback_description_url"`
	CreatedAt              time.Time `db:"created_at"               json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"               json:"updated_at"`
}

// QueueSnapshot is the read-only view returned by check_queue.
type QueueSnapshot struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}
