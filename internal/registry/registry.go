package registry

import (
	"errors"
	"sync"
	"time"
)

// Status is the control state of one stream.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"

	// StatusUnknown is returned for stream ids the registry has never seen
	// or has already swept.
	StatusUnknown Status = "unknown"
)

// Terminal reports whether the status never transitions further.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Valid reports whether s is a status an external controller may set.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

var (
	// ErrNotRegistered is returned when operating on an unknown stream id.
	ErrNotRegistered = errors.New("stream not registered")

	// ErrAlreadyRegistered is returned when registering a live stream id twice.
	ErrAlreadyRegistered = errors.New("stream already registered")

	// ErrTerminalStatus is returned when trying to move a stream out of a
	// terminal state.
	ErrTerminalStatus = errors.New("stream is in a terminal status")

	// ErrInvalidStatus is returned for status values outside the enum.
	ErrInvalidStatus = errors.New("invalid stream status")
)

type entry struct {
	status       Status
	lastActivity time.Time
}

// Entry is a read-only view of one registry row, used by control surfaces.
type Entry struct {
	StreamID     string    `json:"stream_id"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry is the process-wide store of stream control state. It is the
// only resource shared across streams: an external controller pauses or
// cancels a producer by writing here, never by holding a reference to it.
// The producer polls at the start of every fetch cycle, so a write is
// observed on the next cycle — eventually consistent, by contract.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nowFn   func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a registry row for a new stream in StatusRunning.
func (r *Registry) Register(streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[streamID]; exists {
		return ErrAlreadyRegistered
	}
	r.entries[streamID] = &entry{status: StatusRunning, lastActivity: r.nowFn()}
	return nil
}

// UpdateStatus sets a stream's status. Terminal states are sticky: once
// cancelled or completed a stream never transitions again.
func (r *Registry) UpdateStatus(streamID string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[streamID]
	if !ok {
		return ErrNotRegistered
	}
	if e.status.Terminal() && e.status != status {
		return ErrTerminalStatus
	}
	e.status = status
	e.lastActivity = r.nowFn()
	return nil
}

// GetStatus returns the stream's current status, or StatusUnknown for
// ids the registry does not hold. Reads count as activity so an actively
// polled stream is never swept.
func (r *Registry) GetStatus(streamID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[streamID]
	if !ok {
		return StatusUnknown
	}
	e.lastActivity = r.nowFn()
	return e.status
}

// Unregister removes a stream's row. Removing an unknown id is a no-op:
// the reaper and explicit teardown must be idempotent and independently
// callable.
func (r *Registry) Unregister(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, streamID)
}

// List returns a snapshot of all registry rows.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Entry{StreamID: id, Status: e.status, LastActivity: e.lastActivity})
	}
	return out
}

// Sweep removes rows with no activity within timeout and returns how many
// were removed. It only removes bookkeeping — it does not stop the
// stream's goroutines, which own their teardown independently.
func (r *Registry) Sweep(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.nowFn().Add(-timeout)
	removed := 0
	for id, e := range r.entries {
		if e.lastActivity.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
