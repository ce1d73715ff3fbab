package domain

import "time"

// ImportStatus is the lifecycle state of an import session.
type ImportStatus string

const (
	ImportStatusRunning             ImportStatus = "Running"
	ImportStatusCompleted           ImportStatus = "Completed"
	ImportStatusCompletedWithErrors ImportStatus = "CompletedWithErrors"
	ImportStatusFailed              ImportStatus = "Failed"
	ImportStatusCancelled           ImportStatus = "Cancelled"
)

// Terminal reports whether the status ends polling for a session.
func (s ImportStatus) Terminal() bool {
	switch s {
	case ImportStatusCompleted, ImportStatusCompletedWithErrors, ImportStatusFailed, ImportStatusCancelled:
		return true
	}
	return false
}

// AggregateStatus tracks one target aggregate within a session.
type AggregateStatus string

const (
	AggregateStatusPending   AggregateStatus = "Pending"
	AggregateStatusRunning   AggregateStatus = "Running"
	AggregateStatusCompleted AggregateStatus = "Completed"
	AggregateStatusFailed    AggregateStatus = "Failed"
)

// AggregateProgress is the per-target-entity slice of an import session.
type AggregateProgress struct {
	Index       string          `json:"aggregate_index"`
	Name        string          `json:"aggregate_name"`
	Status      AggregateStatus `json:"status"`
	Processed   int             `json:"processed"`
	Total       *int            `json:"total,omitempty"`
	Inserted    int             `json:"inserted"`
	Updated     int             `json:"updated"`
	Skipped     int             `json:"skipped"`
	Errors      int             `json:"errors"`
	CurrentItem *string         `json:"current_item,omitempty"`
	Info        *string         `json:"info,omitempty"`
}

// ImportError is one user-visible error recorded against a session.
type ImportError struct {
	Aggregate *string `json:"aggregate,omitempty"`
	Message   string  `json:"message"`
	Details   *string `json:"details,omitempty"`
}

// ImportProgress is the server-reported status snapshot for an import
// session, polled by clients until a terminal status is reached.
type ImportProgress struct {
	SessionID      string              `json:"session_id"`
	Status         ImportStatus        `json:"status"`
	TotalProcessed int                 `json:"total_processed"`
	TotalInserted  int                 `json:"total_inserted"`
	TotalUpdated   int                 `json:"total_updated"`
	TotalErrors    int                 `json:"total_errors"`
	Aggregates     []AggregateProgress `json:"aggregates"`
	Errors         []ImportError       `json:"errors"`
	StartedAt      time.Time           `json:"started_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// NewImportProgress creates a running session snapshot.
func NewImportProgress(sessionID string) ImportProgress {
	now := time.Now().UTC()
	return ImportProgress{
		SessionID:  sessionID,
		Status:     ImportStatusRunning,
		Aggregates: []AggregateProgress{},
		Errors:     []ImportError{},
		StartedAt:  now,
		UpdatedAt:  now,
	}
}
