package resilience

import (
	"time"
)

// DLQEntry represents a document that failed processing and can be
// resubmitted later.
type DLQEntry struct {
	DocumentID   string    `json:"document_id"`
	Name         string    `json:"name,omitempty"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	FailedStage  string    `json:"failed_stage,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// NewDLQEntry builds a queue entry for a document failure, scheduling
// the next retry with a fixed one minute delay for transient errors.
func NewDLQEntry(documentID, name, stage string, err error, maxRetries int) DLQEntry {
	now := time.Now().UTC()
	entry := DLQEntry{
		DocumentID:   documentID,
		Name:         name,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		FailedStage:  stage,
		MaxRetries:   maxRetries,
		LastFailedAt: now,
	}
	if entry.ErrorType == "transient" {
		entry.NextRetryAt = now.Add(time.Minute)
	}
	return entry
}
