package repository

import "time"

// Status is the lifecycle state of a batch.
type Status string

const (
	// StatusOpen means the batch accepts member mutations and may be
	// submitted for label processing.
	StatusOpen Status = "open"

	// StatusProcessing means a label job is in flight. Concurrent
	// process requests are rejected until the job completes.
	StatusProcessing Status = "processing"

	// StatusCompleted means a label job finished with at least one
	// successful member.
	StatusCompleted Status = "completed"

	// StatusDeleted marks a batch torn down mid-transaction. Deletes are
	// otherwise hard, so this status is never visible to readers.
	StatusDeleted Status = "deleted"
)

// MemberPair is a (shipment_id, rate_id) tuple belonging to a batch.
// RateID may be empty, meaning "no rate selected for this shipment".
type MemberPair struct {
	ShipmentID string `json:"shipment_id"`
	RateID     string `json:"rate_id"`
}

// Member is a persisted member pair, plus the label reference once a
// label job has produced one.
type Member struct {
	MemberPair

	LabelURL  string    `json:"label_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Batch is the durable record of a shipment batch.
type Batch struct {
	ID      int64  `json:"-"`
	BatchID string `json:"batch_id"`
	UserID  string `json:"user_id,omitempty"`
	Status  Status `json:"status"`

	ShipDate      *time.Time `json:"ship_date,omitempty"`
	LabelLayout   string     `json:"label_layout,omitempty"`
	LabelFormat   string     `json:"label_format,omitempty"`
	DisplayScheme string     `json:"display_scheme,omitempty"`

	MemberCount int `json:"member_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchError is one recorded failure for a batch. Errors are append-only:
// created once, never edited, removed only when the owning batch is
// deleted.
type BatchError struct {
	ID           int64     `json:"id"`
	ShipmentID   string    `json:"shipment_id,omitempty"`
	RateID       string    `json:"rate_id,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message"`
	ErrorType    string    `json:"error_type,omitempty"`
	Source       string    `json:"source,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LabelParams are the request parameters for a label-processing job.
type LabelParams struct {
	ShipDate      time.Time `json:"ship_date"`
	LabelLayout   string    `json:"label_layout"`
	LabelFormat   string    `json:"label_format"`
	DisplayScheme string    `json:"display_scheme"`
}
