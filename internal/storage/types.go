package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the run-history store.
//
// Driver values:
//   - "file": dependency-free append-only JSONL backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord captures one terminal job outcome.
// Keep it compact and schema-stable.
type RunRecord struct {
	JobID       string        `json:"job_id"`
	Description string        `json:"description"`
	Function    string        `json:"function"`
	Priority    int           `json:"priority"`
	Status      string        `json:"status"` // "Success" | "Failed"
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Started     time.Time     `json:"started"`
	Took        time.Duration `json:"took"`
}
