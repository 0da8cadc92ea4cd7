// Package audit keeps an append-only in-memory trail of security-relevant
// events: command executions, policy denials, playbook transitions.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one audit trail record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// Trail is a bounded append-only audit log. Safe for concurrent use.
type Trail struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	logger  *zap.Logger
}

// NewTrail creates a trail retaining at most max entries (oldest dropped).
func NewTrail(max int, logger *zap.Logger) *Trail {
	if max <= 0 {
		max = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{max: max, logger: logger}
}

// Record appends an entry and mirrors it to the structured log.
func (t *Trail) Record(actor, action, details string) {
	e := Entry{Timestamp: time.Now(), Actor: actor, Action: action, Details: details}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	if len(t.entries) > t.max {
		t.entries = t.entries[len(t.entries)-t.max:]
	}
	t.mu.Unlock()

	t.logger.Info("audit",
		zap.String("actor", actor),
		zap.String("action", action),
		zap.String("details", details),
	)
}

// Snapshot returns a copy of the trail, oldest first.
func (t *Trail) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of retained entries.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
