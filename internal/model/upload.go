package model

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus tracks an uploaded source file through processing.
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadProcessed  UploadStatus = "processed"
	UploadFailed     UploadStatus = "failed"
)

// Upload is one uploaded_files entry.
type Upload struct {
	ID           uuid.UUID    `json:"id"`
	ClientID     uuid.UUID    `json:"client_id"`
	Source       Source       `json:"source"`
	FileName     string       `json:"file_name"`
	FilePath     string       `json:"file_path"`
	FileSize     int64        `json:"file_size"`
	Status       UploadStatus `json:"upload_status"`
	UploadedBy   string       `json:"uploaded_by,omitempty"`
	RecordsCount int          `json:"records_count"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
