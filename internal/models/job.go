package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one asynchronous generation request for a project.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	Kinds        []string        `json:"kinds"`
	RequestJSON  json.RawMessage `json:"request"`
	Initial      bool            `json:"initial"`
	Status       JobStatus       `json:"status"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// WebSocket message types
const (
	WSStatusUpdate   = "status_update"
	WSArtifactReady  = "artifact_ready"
	WSJobCompleted   = "job_completed"
	WSJobFailed      = "job_failed"
	WSProjectUpdated = "project_updated"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	JobID     uuid.UUID `json:"job_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Step      int       `json:"step"`
	TotalStep int       `json:"total_steps"`
	StepName  string    `json:"step_name"`
}

type ArtifactReadyEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Kind      string    `json:"kind"`
}

type CompletedEvent struct {
	JobID     uuid.UUID     `json:"job_id"`
	ProjectID uuid.UUID     `json:"project_id"`
	Status    ProjectStatus `json:"project_status,omitempty"`
	Failed    []string      `json:"failed_kinds,omitempty"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	Kind         string    `json:"kind,omitempty"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Kind      string            `json:"kind,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
