package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportedRecord is one row landed by an import session. Properties are
// keyed by field name; values are the string-normalized cell values.
type ImportedRecord struct {
	ID          uuid.UUID         `json:"id"`
	SessionID   string            `json:"session_id"`
	Aggregate   string            `json:"aggregate"`
	ExternalKey string            `json:"external_key"`
	Properties  map[string]string `json:"properties"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ImportLogEntry captures a row-level problem raised during an import.
type ImportLogEntry struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Aggregate string    `json:"aggregate"`
	FileName  string    `json:"file_name,omitempty"`
	RowNumber *int      `json:"row_number,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
