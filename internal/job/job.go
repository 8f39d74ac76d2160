package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// absoluteTimeFloor is the smallest submitted time value treated as an
// absolute Unix timestamp; anything below it is an offset in seconds
// from the current instant.
const absoluteTimeFloor = 1_000_000_000

var (
	ErrEmptyDescription = errors.New("description must not be empty")
	ErrEmptyFunction    = errors.New("function must not be empty")
)

// Job is a unit of scheduled work. ExecutionTime is the earliest
// wall-clock instant (Unix seconds, UTC) at which the job becomes
// eligible; Priority breaks ties among simultaneously ready jobs.
type Job struct {
	ID            uuid.UUID `json:"id"`
	ExecutionTime int64     `json:"execution_time"`
	Priority      uint8     `json:"priority"`
	Description   string    `json:"description"`
	Function      string    `json:"function"`
	Status        Status    `json:"status"`
	MaxRetries    int       `json:"max_retries"`
	RetryCount    int       `json:"retry_count"`
}

func now() int64 { return time.Now().Unix() }

// New validates and builds a Pending job.
//
// executionTime must not be in the past; use ResolveTime to map
// front-end input (absolute timestamp or relative offset) first.
func New(executionTime int64, priority uint8, description, function string, maxRetries int) (Job, error) {
	if executionTime < now() {
		return Job{}, fmt.Errorf("execution_time %d is in the past", executionTime)
	}
	if description == "" {
		return Job{}, ErrEmptyDescription
	}
	if function == "" {
		return Job{}, ErrEmptyFunction
	}
	if maxRetries < 0 {
		return Job{}, fmt.Errorf("max_retries must be >= 0, got %d", maxRetries)
	}

	return Job{
		ID:            uuid.New(),
		ExecutionTime: executionTime,
		Priority:      priority,
		Description:   description,
		Function:      function,
		Status:        StatusPending,
		MaxRetries:    maxRetries,
	}, nil
}

// ResolveTime interprets a submitted time value: values at or above
// 10^9 are absolute Unix timestamps in seconds, smaller values are
// offsets in seconds from the current instant.
func ResolveTime(v int64) int64 {
	if v >= absoluteTimeFloor {
		return v
	}
	return now() + v
}

// Before reports whether j sorts ahead of other in dispatch order:
// earlier execution time first, then higher priority, then ID as a
// stable tiebreak.
func (j Job) Before(other Job) bool {
	if j.ExecutionTime != other.ExecutionTime {
		return j.ExecutionTime < other.ExecutionTime
	}
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	return j.ID.String() < other.ID.String()
}

// Ready reports whether the job is due at the given instant.
func (j Job) Ready(now int64) bool { return j.ExecutionTime <= now }

func (j *Job) MarkRunning() error {
	if j.Status != StatusPending {
		return fmt.Errorf("cannot mark %s job running", j.Status)
	}
	j.Status = StatusRunning
	return nil
}

func (j *Job) MarkSuccess() error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot mark %s job success", j.Status)
	}
	j.Status = StatusSuccess
	return nil
}

func (j *Job) MarkFailed() error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot mark %s job failed", j.Status)
	}
	j.Status = StatusFailed
	return nil
}

// MarkRequeued returns a dispatched job to the pending set, either on a
// retry or when dispatch is aborted. ExecutionTime is left unchanged.
func (j *Job) MarkRequeued() error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot requeue %s job", j.Status)
	}
	j.Status = StatusPending
	return nil
}

// ShouldRetry reports whether the retry budget allows another attempt.
func (j Job) ShouldRetry() bool { return j.RetryCount < j.MaxRetries }

// IncrementRetry consumes one retry. It never exceeds MaxRetries.
func (j *Job) IncrementRetry() error {
	if j.RetryCount >= j.MaxRetries {
		return fmt.Errorf("retry budget exhausted (%d/%d)", j.RetryCount, j.MaxRetries)
	}
	j.RetryCount++
	return nil
}
