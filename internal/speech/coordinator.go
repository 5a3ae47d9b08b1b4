package speech

import (
	"log/slog"
	"sync"
)

// Coordinator enforces the single active-session policy: the shared audio
// output belongs to at most one speech session at a time. Starting a new
// session preempts the previous holder by invoking its teardown callback
// exactly once before the new session is registered.
//
// The Coordinator holds only an identifier and a teardown function — never a
// reference that would keep a finished session alive.
type Coordinator struct {
	mu       sync.Mutex
	activeID string
	teardown func()
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Acquire registers id as the active session. If another session holds the
// slot its teardown callback is invoked (exactly once) before registration.
// teardown may be nil.
func (c *Coordinator) Acquire(id string, teardown func()) {
	c.mu.Lock()
	prev := c.teardown
	prevID := c.activeID
	c.activeID = id
	c.teardown = teardown
	c.mu.Unlock()

	if prev != nil {
		slog.Debug("speech: preempting active session",
			"previous", prevID, "next", id)
		prev()
	}
}

// Release clears the slot without tearing anything down, used when a session
// ends normally. A release by a session that no longer holds the slot (it was
// already preempted) is a no-op.
func (c *Coordinator) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeID != id {
		return
	}
	c.activeID = ""
	c.teardown = nil
}

// ActiveID returns the id of the current holder, or empty.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}
