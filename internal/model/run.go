package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusProcessing RunStatus = "processing"
	RunStatusSuccess    RunStatus = "success"
	RunStatusPartial    RunStatus = "partial"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusFailed
}

// ResolutionStatus is the operator triage state of a run. The empty value
// means no triage is needed.
type ResolutionStatus string

const (
	ResolutionNone       ResolutionStatus = ""
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionIgnored    ResolutionStatus = "ignored"
)

// Run is one ingestion_logs entry.
type Run struct {
	ID              uuid.UUID        `json:"id"`
	Source          Source           `json:"source"`
	ClientID        uuid.UUID        `json:"client_id"`
	RunDate         time.Time        `json:"run_date"`
	FileName        string           `json:"file_name,omitempty"`
	Status          RunStatus        `json:"status"`
	Message         string           `json:"message,omitempty"`
	RecordsLoaded   int              `json:"records_loaded"`
	RecordsFailed   int              `json:"records_failed"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
	Resolution      ResolutionStatus `json:"resolution_status,omitempty"`
	ResolutionNotes string           `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy      string           `json:"resolved_by,omitempty"`
}
