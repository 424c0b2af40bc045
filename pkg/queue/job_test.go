package queue

import (
	"testing"
	"time"
)

func validJob() *Job {
	return &Job{
		ID:          "job-1",
		Name:        "send-email",
		Queue:       "mail",
		Payload:     []byte(`{"to":"a@example.com"}`),
		Status:      StatusWaiting,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Job)
		valid  bool
	}{
		{"valid", func(*Job) {}, true},
		{"missing id", func(j *Job) { j.ID = " " }, false},
		{"missing name", func(j *Job) { j.Name = "" }, false},
		{"missing queue", func(j *Job) { j.Queue = "" }, false},
		{"empty payload", func(j *Job) { j.Payload = nil }, false},
		{"negative attempts", func(j *Job) { j.Attempts = -1 }, false},
		{"attempts beyond max", func(j *Job) { j.Attempts = 4 }, false},
		{"attempts at max", func(j *Job) { j.Attempts = 3 }, true},
		{"unbounded attempts", func(j *Job) { j.MaxAttempts = 0; j.Attempts = 12 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job := validJob()
			tc.mutate(job)
			err := job.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid {
				if !IsKind(err, KindData) {
					t.Fatalf("expected data error, got %v", err)
				}
			}
		})
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	job := validJob()
	job.Metadata = map[string]string{"tenant": "acme"}

	clone := job.Clone()
	clone.Payload[0] = 'X'
	clone.Metadata["tenant"] = "other"

	if job.Payload[0] == 'X' {
		t.Fatal("payload shared between job and clone")
	}
	if job.Metadata["tenant"] != "acme" {
		t.Fatal("metadata shared between job and clone")
	}
}

func TestActiveJobCloneIsDeep(t *testing.T) {
	active := &ActiveJob{
		Job:              validJob(),
		ProviderMetadata: map[string]string{"lease": "token-1"},
	}
	clone := active.Clone()
	clone.ProviderMetadata["lease"] = "token-2"

	if active.ProviderMetadata["lease"] != "token-1" {
		t.Fatal("provider metadata shared between active job and clone")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusWaiting:   false,
		StatusDelayed:   false,
		StatusActive:    false,
		StatusCompleted: true,
		StatusFailed:    true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	type emailPayload struct {
		To string `json:"to"`
	}

	data, err := MarshalPayload(emailPayload{To: "a@example.com"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	job := validJob()
	job.Payload = data

	var decoded emailPayload
	if err := UnmarshalPayload(job, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.To != "a@example.com" {
		t.Fatalf("decoded payload = %+v", decoded)
	}
}
