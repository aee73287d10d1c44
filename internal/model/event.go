package model

import "time"

// StageStatus is the lifecycle status of one stage invocation.
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
)

// StageEvent records one terminal stage transition. It is finalized exactly
// once, including on failure, and is immutable afterwards.
type StageEvent struct {
	Stage           string         `json:"stage"`
	Status          StageStatus    `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	DurationSeconds float64        `json:"duration"`
	Details         map[string]any `json:"details"`
}

// EventType tags the two wire event variants.
type EventType string

const (
	EventStage EventType = "stage"
	EventJob   EventType = "job"
)

// JobStatus is the lifecycle status carried by job events.
type JobStatus string

const (
	JobStarted   JobStatus = "started"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobClosed    JobStatus = "closed"
)

// Event is the wire payload streamed to progress subscribers: either a
// per-document stage event or a job lifecycle event. One JSON object per
// event, suitable for SSE framing.
type Event struct {
	Type EventType `json:"type"`

	// Job fields.
	JobID          string    `json:"job_id,omitempty"`
	JobStatus      JobStatus `json:"status,omitempty"`
	TotalDocuments int       `json:"total_documents,omitempty"`
	Result         any       `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`

	// Stage fields.
	DocumentID      string         `json:"document_id,omitempty"`
	Stage           string         `json:"stage,omitempty"`
	StageStatus     StageStatus    `json:"stage_status,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	DurationSeconds float64        `json:"duration,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// NewStageEvent wraps a finalized StageEvent for the wire, tagged with the
// originating document.
func NewStageEvent(documentID string, se StageEvent) Event {
	started := se.StartedAt
	finished := se.FinishedAt
	return Event{
		Type:            EventStage,
		DocumentID:      documentID,
		Stage:           se.Stage,
		StageStatus:     se.Status,
		StartedAt:       &started,
		FinishedAt:      &finished,
		DurationSeconds: se.DurationSeconds,
		Details:         se.Details,
	}
}

// NewJobEvent builds a job lifecycle event.
func NewJobEvent(jobID string, status JobStatus) Event {
	return Event{Type: EventJob, JobID: jobID, JobStatus: status}
}
