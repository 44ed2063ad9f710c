package resilience

import "sync"

// Controller tracks per-job retry attempts against a shared ceiling.
// It is safe for concurrent use by jobs running in parallel.
type Controller struct {
	mu       sync.Mutex
	attempts map[string]int
	policy   RetryPolicy
}

// NewController creates a Controller with the given policy.
func NewController(policy RetryPolicy) *Controller {
	policy.ApplyDefaults()
	return &Controller{
		attempts: make(map[string]int),
		policy:   policy,
	}
}

// Policy returns the controller's retry policy.
func (c *Controller) Policy() RetryPolicy { return c.policy }

// Attempt reports whether job id has attempts remaining below the ceiling.
func (c *Controller) Attempt(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[id] < c.policy.MaxAttempts
}

// Count returns the number of attempts recorded for job id.
func (c *Controller) Count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[id]
}

// Increment records one attempt for job id and returns the new count.
func (c *Controller) Increment(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[id]++
	return c.attempts[id]
}

// Reset clears the attempt counter for job id.
func (c *Controller) Reset(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, id)
}
