package clientreport

import (
	"sync"
	"time"

	"github.com/faultline-dev/faultline-go/internal/ratelimit"
)

// Aggregator collects discarded-item outcomes. Each client owns one; there
// is no process-global instance. Safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	enabled  bool
	outcomes map[OutcomeKey]int64
	now      func() time.Time
}

// NewAggregator creates an enabled aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		enabled:  true,
		outcomes: make(map[OutcomeKey]int64),
		now:      time.Now,
	}
}

// SetEnabled turns outcome recording on or off.
func (a *Aggregator) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// RecordOutcome adds quantity discarded items to the (reason, category)
// bucket.
func (a *Aggregator) RecordOutcome(reason DiscardReason, category ratelimit.Category, quantity int64) {
	if quantity <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		return
	}
	a.outcomes[OutcomeKey{Reason: reason, Category: category}] += quantity
}

// RecordOne adds a single discarded item.
func (a *Aggregator) RecordOne(reason DiscardReason, category ratelimit.Category) {
	a.RecordOutcome(reason, category, 1)
}

// TakeReport removes all accumulated outcomes and returns them as a
// ClientReport, or nil when nothing was recorded.
func (a *Aggregator) TakeReport() *ClientReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.outcomes) == 0 {
		return nil
	}

	report := &ClientReport{Timestamp: a.now().UTC()}
	for key, quantity := range a.outcomes {
		report.DiscardedEvents = append(report.DiscardedEvents, DiscardedEvent{
			Reason:   key.Reason,
			Category: key.Category,
			Quantity: quantity,
		})
	}
	a.outcomes = make(map[OutcomeKey]int64)
	return report
}
