package resilience

import (
	"errors"
	"testing"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewDLQEntry(t *testing.T) {
	transient := NewDLQEntry("doc-1", "nota.xml", "auditoria", NewTransientError(errors.New("503"), 503), 3)
	if transient.ErrorType != "transient" {
		t.Errorf("ErrorType = %q, want transient", transient.ErrorType)
	}
	if transient.NextRetryAt.IsZero() {
		t.Error("transient entry should schedule a retry")
	}
	if !transient.CanRetry() {
		t.Error("fresh entry should be retryable")
	}

	permanent := NewDLQEntry("doc-2", "nota.xml", "ocr", errors.New("unsupported format"), 3)
	if permanent.ErrorType != "permanent" {
		t.Errorf("ErrorType = %q, want permanent", permanent.ErrorType)
	}
	if !permanent.NextRetryAt.IsZero() {
		t.Error("permanent entry should not schedule a retry")
	}
}
