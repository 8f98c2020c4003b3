package task

import "sync"

// Counts is a snapshot of Counters.
type Counts struct {
	Success   int64 `json:"success"`
	BadInput  int64 `json:"bad_input"`
	Retryable int64 `json:"retryable"`
	Critical  int64 `json:"critical"`
}

// Errors returns the number of units that did not succeed.
func (c Counts) Errors() int64 {
	return c.BadInput + c.Retryable + c.Critical
}

// Total returns the number of observed units.
func (c Counts) Total() int64 {
	return c.Success + c.Errors()
}

// Counters aggregates outcomes from any number of goroutines.
type Counters struct {
	mu     sync.Mutex
	counts Counts
}

// Add counts one outcome and returns the counts after the update.
func (c *Counters) Add(kind Kind) Counts {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case KindSuccess:
		c.counts.Success++
	case KindBadInput:
		c.counts.BadInput++
	case KindRetryable:
		c.counts.Retryable++
	default:
		c.counts.Critical++
	}
	return c.counts
}

// Snapshot returns the current counts.
func (c *Counters) Snapshot() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}
