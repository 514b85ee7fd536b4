package job

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusActive    Status = "ACTIVE"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

type Backoff struct {
	Kind  BackoffKind
	Delay time.Duration
}

// Next returns the delay before re-attempt number attempt (0-based:
// attempt 0 is the delay after the first failure).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch b.Kind {
	case BackoffExponential:
		return b.Delay << uint(attempt)
	default:
		return b.Delay
	}
}

// Job is one unit of asynchronous work. Status moves only forward:
// WAITING -> ACTIVE -> (SUCCEEDED | RETRYING -> ACTIVE | FAILED).
type Job struct {
	ID            string
	Queue         string
	Payload       []byte
	Attempts      int
	MaxRetries    int
	Backoff       Backoff
	Status        Status
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Option func(*Job)

func WithRetries(n int) Option {
	return func(j *Job) {
		if n >= 0 {
			j.MaxRetries = n
		}
	}
}

func WithBackoff(kind BackoffKind, delay time.Duration) Option {
	return func(j *Job) { j.Backoff = Backoff{Kind: kind, Delay: delay} }
}

func New(queue string, payload []byte, opts ...Option) *Job {
	j := &Job{
		ID:      uuid.NewString(),
		Queue:   queue,
		Payload: payload,
		Status:  StatusWaiting,
		Backoff: Backoff{Kind: BackoffFixed, Delay: time.Second},
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Exhausted reports whether the current attempt was the last allowed one
// (1 initial attempt + MaxRetries retries).
func (j *Job) Exhausted() bool { return j.Attempts >= j.MaxRetries+1 }
