package metrics

import (
	"sync"
	"sync/atomic"
)

// statusCounters holds per-status counters plus a total. Kept
// simple/thread-safe for use from services and exposition.
type statusCounters struct {
	total    uint64
	mu       sync.Mutex
	byStatus map[string]uint64
}

func (c *statusCounters) inc(status string) {
	atomic.AddUint64(&c.total, 1)
	c.mu.Lock()
	if c.byStatus == nil {
		c.byStatus = make(map[string]uint64)
	}
	c.byStatus[status]++
	c.mu.Unlock()
}

func (c *statusCounters) snapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&c.total)
	c.mu.Lock()
	defer c.mu.Unlock()
	by = make(map[string]uint64, len(c.byStatus))
	for k, v := range c.byStatus {
		by[k] = v
	}
	return total, by
}

var (
	runs     statusCounters
	outcomes statusCounters
	rateDrop statusCounters
)

// IncAutomationRun counts one automation evaluation by result
// (executed, skipped_trigger, conditions_failed).
func IncAutomationRun(status string) { runs.inc(status) }

// AutomationRunSnapshot returns a copy of the evaluation counters.
func AutomationRunSnapshot() (uint64, map[string]uint64) { return runs.snapshot() }

// IncActionOutcome counts one dispatched action by outcome status.
func IncActionOutcome(status string) { outcomes.inc(status) }

// ActionOutcomeSnapshot returns a copy of the outcome counters.
func ActionOutcomeSnapshot() (uint64, map[string]uint64) { return outcomes.snapshot() }

// IncRateLimitDrop increments drop counters (HTTP 429) for the given
// prefix. Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rateDrop.inc(prefix)
}

// RateLimitSnapshot returns a copy of the current drop counters.
func RateLimitSnapshot() (uint64, map[string]uint64) { return rateDrop.snapshot() }
