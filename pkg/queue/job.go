package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status tracks a job through its backend-owned lifecycle.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
// Terminal records are never mutated by this library; a backend may still
// prune them.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the persistent record of one unit of work. The payload is opaque
// to the library; providers store and return it byte for byte.
type Job struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Queue        string            `json:"queue"`
	Payload      []byte            `json:"payload"`
	Status       Status            `json:"status"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	Priority     int               `json:"priority,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ScheduledFor time.Time         `json:"scheduled_for,omitzero"`
	ProcessedAt  time.Time         `json:"processed_at,omitzero"`
	CompletedAt  time.Time         `json:"completed_at,omitzero"`
	FailedAt     time.Time         `json:"failed_at,omitzero"`
}

// Validate checks the fields runtime behavior depends on.
func (j *Job) Validate() error {
	if j == nil {
		return NewDataError(CodeInvalidJob, "job is nil", nil)
	}
	if strings.TrimSpace(j.ID) == "" {
		return NewDataError(CodeInvalidJob, "job id is required", nil)
	}
	if strings.TrimSpace(j.Name) == "" {
		return NewDataError(CodeInvalidJob, "job name is required", nil)
	}
	if strings.TrimSpace(j.Queue) == "" {
		return NewDataError(CodeInvalidJob, "job queue is required", nil)
	}
	if len(j.Payload) == 0 {
		return NewDataError(CodeInvalidJob, "job payload is required", nil)
	}
	if j.Attempts < 0 {
		return NewDataError(CodeInvalidJob, "job attempts must be >= 0", nil)
	}
	if j.MaxAttempts < 0 {
		return NewDataError(CodeInvalidJob, "job max attempts must be >= 0", nil)
	}
	if j.MaxAttempts > 0 && j.Attempts > j.MaxAttempts {
		return NewDataError(CodeInvalidJob, "job attempts cannot exceed max attempts", nil)
	}
	return nil
}

// Clone returns a deep copy so providers and callers never share mutable
// payload or metadata state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Payload = cloneBytes(j.Payload)
	clone.Metadata = cloneMetadata(j.Metadata)
	return &clone
}

// ActiveJob is a Job plus the dispatch-scoped provider metadata (lease
// token, receipt handle, delivery token) required to settle this specific
// dispatch. The metadata is valid for exactly one fetch; reusing it after
// ack or nack is rejected by providers.
type ActiveJob struct {
	Job              *Job
	ProviderMetadata map[string]string
}

// Clone deep-copies the active job including its provider metadata.
func (a *ActiveJob) Clone() *ActiveJob {
	if a == nil {
		return nil
	}
	return &ActiveJob{
		Job:              a.Job.Clone(),
		ProviderMetadata: cloneMetadata(a.ProviderMetadata),
	}
}

// MarshalPayload serializes an arbitrary value as a job payload.
func MarshalPayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, NewDataError(CodeInvalidJob, "marshal job payload failed", err)
	}
	return data, nil
}

// UnmarshalPayload decodes a job payload into out.
func UnmarshalPayload(job *Job, out any) error {
	if job == nil || len(job.Payload) == 0 {
		return NewDataError(CodeInvalidJob, "job payload is empty", nil)
	}
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return NewDataError(CodeInvalidJob, "unmarshal job payload failed", err)
	}
	return nil
}

func cloneBytes(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}

func cloneMetadata(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
