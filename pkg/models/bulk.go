package models

import (
	"time"

	"github.com/google/uuid"
)

// BulkOperation is one batch of generation jobs tracked as a single
// aggregate. The target set is resolved when the operation starts and never
// changes afterwards, even if images are added or removed underneath it.
type BulkOperation struct {
	ID         uuid.UUID   `db:"id"          json:"id"`
	ModelID    string      `db:"model_id"    json:"model_id"`
	ImageIDs   []uuid.UUID `db:"image_ids"   json:"image_ids"`
	Cancelled  bool        `db:"cancelled"   json:"cancelled"`
	StartedAt  time.Time   `db:"started_at"  json:"started_at"`
	FinishedAt *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
}

// Live reports whether the operation still tracks in-flight work.
func (o *BulkOperation) Live() bool {
	return !o.Cancelled && o.FinishedAt == nil
}

// BulkProgress is the aggregate view polled by clients and pushed on the
// bulk progress topic. While the operation is live,
// Done+Failed+InQueue+Processing == Total.
type BulkProgress struct {
	OperationID uuid.UUID `json:"operation_id"`
	ModelID     string    `json:"model_id"`
	Total       int       `json:"total"`
	Done        int       `json:"done"`
	Failed      int       `json:"failed"`
	InQueue     int       `json:"in_queue"`
	Processing  int       `json:"processing"`
	Cancelled   bool      `json:"cancelled"`
	Finished    bool      `json:"finished"`
}

// Complete reports whether every job reached a terminal outcome.
func (p BulkProgress) Complete() bool {
	return p.Done+p.Failed == p.Total
}

// Settled reports whether the operation has no work left in flight. A
// member cancelled individually leaves the counted buckets entirely, so
// this is the condition that actually closes an operation; Complete alone
// would keep it live forever after such a cancel.
func (p BulkProgress) Settled() bool {
	return p.InQueue+p.Processing == 0
}
