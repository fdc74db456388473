package capture

import (
	"fmt"
	"sync"
)

type entry struct {
	status Status
	hash   string
}

// Registry tracks ticket status and result hashes in memory.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register records ticket as in progress.
func (r *Registry) Register(ticket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[ticket]; exists {
		return fmt.Errorf("register %s: %w", ticket, ErrDuplicateTicket)
	}
	r.entries[ticket] = entry{status: StatusInProgress}
	return nil
}

// Status returns the ticket's state, or StatusNoSuchCapture if unknown.
func (r *Registry) Status(ticket string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[ticket]
	if !ok {
		return StatusNoSuchCapture
	}
	return e.status
}

// Complete moves an in-progress ticket to completed and stores its hash. It
// returns false and changes nothing if the ticket is not in progress.
func (r *Registry) Complete(ticket, hash string) bool {
	return r.transition(ticket, entry{status: StatusCompleted, hash: hash})
}

// Fail moves an in-progress ticket to failed. It returns false and changes
// nothing if the ticket is not in progress.
func (r *Registry) Fail(ticket string) bool {
	return r.transition(ticket, entry{status: StatusFailed})
}

// Hash returns the stored hash of a completed ticket.
func (r *Registry) Hash(ticket string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[ticket]
	if !ok || e.status != StatusCompleted {
		return "", false
	}
	return e.hash, true
}

// Counts returns the number of tickets in each state.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int, 3)
	for _, e := range r.entries {
		counts[e.status]++
	}
	return counts
}

func (r *Registry) transition(ticket string, next entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[ticket]
	if !ok || cur.status != StatusInProgress {
		return false
	}
	r.entries[ticket] = next
	return true
}
