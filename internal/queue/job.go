package queue

import "time"

type Job struct {
	ID           string  `json:"id"`
	Destination  string  `json:"destination"`
	Payload      Payload `json:"payload"`
	Retries      int     `json:"retries"`
	MaxRetries   int     `json:"maxRetries"`
	CreatedAt    int64   `json:"createdAt"`
	ProcessAfter int64   `json:"processAfter,omitempty"`
}

// Due reports whether the job may run at now.
func (j Job) Due(now time.Time) bool {
	return j.ProcessAfter == 0 || now.UnixMilli() >= j.ProcessAfter
}

type Status string

const (
	StatusEmpty        Status = "empty"
	StatusDeferred     Status = "deferred"
	StatusSucceeded    Status = "succeeded"
	StatusRetrying     Status = "retrying"
	StatusDeadLettered Status = "dead_lettered"
)

// MalformedJobID identifies entries whose JSON could not be decoded.
const MalformedJobID = "malformed"

// Result is the outcome of one ProcessNext call. Job is nil for StatusEmpty
// and StatusDeferred; Err carries the execution failure, if any.
type Result struct {
	Status Status
	Job    *Job
	Err    error
}

// Processed reports whether a job was taken off the queue and attempted.
func (r Result) Processed() bool {
	return r.Job != nil
}

func (r Result) Success() bool {
	return r.Status == StatusSucceeded
}
