package models

import "github.com/google/uuid"

// Websocket event types pushed to the owner of a job.
const (
	EventStatusUpdate = "status_update"
	EventCompleted    = "completed"
	EventCancelled    = "cancelled"
	EventError        = "error"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	JobID                     uuid.UUID `json:"job_id"`
	Status                    string    `json:"status"`
	Attempt                   int       `json:"attempt"`
	StepName                  string    `json:"step_name"`
	EstimatedSecondsRemaining int       `json:"estimated_seconds_remaining"`
}

type CompletedEvent struct {
	JobID      uuid.UUID   `json:"job_id"`
	ResultIDs  []uuid.UUID `json:"result_ids"`
	ResultType string      `json:"result_type"`
}

type CancelledEvent struct {
	JobID uuid.UUID `json:"job_id"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}
