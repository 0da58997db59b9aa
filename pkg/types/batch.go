// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// BatchStatus tracks a batch job through its lifecycle:
// submitted → running → completed | failed | canceled.
type BatchStatus string

const (
	BatchSubmitted BatchStatus = "submitted"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCanceled  BatchStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchCanceled:
		return true
	}
	return false
}

// BatchJob is the persisted metadata record of one asynchronous batch
// submission. It is the only durable state the orchestrator owns.
type BatchJob struct {
	// ID is the local job identifier.
	ID string `json:"id" yaml:"id" db:"id"`

	// BackendID is the identifier assigned by the remote batch API.
	BackendID string `json:"backend_id" yaml:"backend_id" db:"backend_id"`

	// Model is the model every request in the job was sent to.
	Model string `json:"model" yaml:"model" db:"model"`

	// Status is the current lifecycle state.
	Status BatchStatus `json:"status" yaml:"status" db:"status"`

	// CreatedAt is when the job was submitted.
	CreatedAt time.Time `json:"created_at" yaml:"created_at" db:"created_at"`

	// LastPolledAt is when the remote status was last checked.
	LastPolledAt time.Time `json:"last_polled_at" yaml:"last_polled_at" db:"last_polled_at"`

	// ItemCount is the number of prompts submitted (after deduplication).
	ItemCount int `json:"item_count" yaml:"item_count" db:"item_count"`

	// OutputLocation points at the remote results file, once known.
	OutputLocation string `json:"output_location,omitempty" yaml:"output_location,omitempty" db:"output_location"`

	// Error records why the job failed or was canceled. Empty otherwise.
	Error string `json:"error,omitempty" yaml:"error,omitempty" db:"error"`
}
