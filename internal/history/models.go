// Package history persists the reference backend's long-term memory: every
// agent cycle, executed remediation and human decision lands here. The
// console itself keeps no durable state; this ledger is what survives a
// backend restart.
package history

import (
	"encoding/json"
	"time"
)

// Kind categorizes ledger records.
type Kind string

const (
	// KindCycle is one full observe/reason/decide pass.
	KindCycle Kind = "cycle"
	// KindAction is an executed remediation.
	KindAction Kind = "action"
	// KindDecision is a human approve/reject on a parked proposal.
	KindDecision Kind = "decision"
)

// Record is one ledger entry.
type Record struct {
	ID         string          `json:"id" db:"id"`
	ThreadID   string          `json:"thread_id" db:"thread_id"`
	Kind       Kind            `json:"kind" db:"kind"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
	Summary    string          `json:"summary" db:"summary"`
	ActionType string          `json:"action_type,omitempty" db:"action_type"`
	Region     string          `json:"region,omitempty" db:"region"`
	Approved   *bool           `json:"approved,omitempty" db:"approved"`
	Detail     json.RawMessage `json:"detail,omitempty" db:"detail"`
}

// Store is the persistence interface for the ledger.
type Store interface {
	// Initialize creates tables and indexes.
	Initialize() error

	// Close cleanly shuts down the store.
	Close() error

	// Insert appends one record.
	Insert(r *Record) error

	// List returns the most recent records for a thread, newest first.
	// A zero limit means a default page of 50.
	List(threadID string, limit int) ([]*Record, error)

	// RecentActions returns the summaries of the latest executed actions,
	// newest first, for the decider's redundancy check.
	RecentActions(threadID string, limit int) ([]string, error)

	// PruneOlderThan deletes records older than the given number of days
	// and reports how many went.
	PruneOlderThan(days int) (int64, error)
}
