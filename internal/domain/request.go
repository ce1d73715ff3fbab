package domain

import (
	"errors"
	"strings"
	"time"
)

// ImportMode selects how a started import is driven.
type ImportMode string

const (
	ImportModeInteractive ImportMode = "Interactive"
	ImportModeScheduled   ImportMode = "Scheduled"
)

// ImportRequest is the body of an import start call. Optional period/date
// bounds vary per source: 1C-sourced imports use Period*, marketplace
// imports use Date*.
type ImportRequest struct {
	ConnectionID     string     `json:"connection_id"`
	TargetAggregates []string   `json:"target_aggregates"`
	Mode             ImportMode `json:"mode"`
	DeleteObsolete   bool       `json:"delete_obsolete,omitempty"`
	PeriodFrom       *time.Time `json:"period_from,omitempty"`
	PeriodTo         *time.Time `json:"period_to,omitempty"`
	DateFrom         *time.Time `json:"date_from,omitempty"`
	DateTo           *time.Time `json:"date_to,omitempty"`
}

// Validate catches request problems before any session is created.
func (r ImportRequest) Validate() error {
	if strings.TrimSpace(r.ConnectionID) == "" {
		return errors.New("connection id is required")
	}
	if len(r.TargetAggregates) == 0 {
		return errors.New("at least one target aggregate is required")
	}
	for _, target := range r.TargetAggregates {
		if strings.TrimSpace(target) == "" {
			return errors.New("target aggregate name cannot be empty")
		}
	}
	return nil
}

// Import start response tokens.
const (
	StartStatusStarted = "started"
	StartStatusFailed  = "failed"
)

// ImportResponse acknowledges an import start call.
type ImportResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}
