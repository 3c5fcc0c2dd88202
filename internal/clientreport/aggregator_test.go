package clientreport

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/faultline-dev/faultline-go/internal/protocol"
	"github.com/faultline-dev/faultline-go/internal/ratelimit"
)

func newFrozenAggregator(at time.Time) *Aggregator {
	a := NewAggregator()
	a.now = func() time.Time { return at }
	return a
}

func TestAggregatorBuckets(t *testing.T) {
	a := newFrozenAggregator(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	a.RecordOne(ReasonSampleRate, ratelimit.CategoryError)
	a.RecordOne(ReasonSampleRate, ratelimit.CategoryError)
	a.RecordOne(ReasonSampleRate, ratelimit.CategoryTransaction)
	a.RecordOutcome(ReasonQueueOverflow, ratelimit.CategoryError, 5)
	a.RecordOutcome(ReasonQueueOverflow, ratelimit.CategoryError, 0)
	a.RecordOutcome(ReasonQueueOverflow, ratelimit.CategoryError, -3)

	report := a.TakeReport()
	if report == nil {
		t.Fatal("no report despite recorded outcomes")
	}
	got := map[OutcomeKey]int64{}
	for _, row := range report.DiscardedEvents {
		got[OutcomeKey{Reason: row.Reason, Category: row.Category}] = row.Quantity
	}
	want := map[OutcomeKey]int64{
		{ReasonSampleRate, ratelimit.CategoryError}:       2,
		{ReasonSampleRate, ratelimit.CategoryTransaction}: 1,
		{ReasonQueueOverflow, ratelimit.CategoryError}:    5,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestTakeReportDrains(t *testing.T) {
	a := newFrozenAggregator(time.Now())
	a.RecordOne(ReasonBeforeSend, ratelimit.CategoryError)
	if a.TakeReport() == nil {
		t.Fatal("first take returned nil")
	}
	if report := a.TakeReport(); report != nil {
		t.Errorf("second take returned a stale report: %#v", report)
	}
}

func TestTakeReportEmpty(t *testing.T) {
	if report := NewAggregator().TakeReport(); report != nil {
		t.Errorf("empty aggregator produced a report: %#v", report)
	}
}

func TestDisabledAggregatorRecordsNothing(t *testing.T) {
	a := NewAggregator()
	a.SetEnabled(false)
	a.RecordOne(ReasonNetworkError, ratelimit.CategoryError)
	if report := a.TakeReport(); report != nil {
		t.Errorf("disabled aggregator produced a report: %#v", report)
	}
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	a := newFrozenAggregator(time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.RecordOne(ReasonRateLimit, ratelimit.CategoryTransaction)
			}
		}()
	}
	wg.Wait()

	report := a.TakeReport()
	if report == nil || len(report.DiscardedEvents) != 1 {
		t.Fatalf("report = %#v", report)
	}
	if report.DiscardedEvents[0].Quantity != 800 {
		t.Errorf("quantity = %d, want 800", report.DiscardedEvents[0].Quantity)
	}
}

func TestReportSerialization(t *testing.T) {
	report := &ClientReport{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		DiscardedEvents: []DiscardedEvent{
			{ReasonSampleRate, ratelimit.CategoryTransaction, 3},
			{ReasonBeforeSend, ratelimit.CategoryError, 1},
			{ReasonSampleRate, ratelimit.CategoryError, 2},
		},
	}
	item, err := report.ToEnvelopeItem(nil)
	if err != nil {
		t.Fatal(err)
	}
	if item.Header.Type != protocol.EnvelopeItemTypeClientReport {
		t.Errorf("item type = %q", item.Header.Type)
	}

	// Rows come out ordered by reason then category regardless of
	// recording order.
	want := `{"timestamp":"2024-03-01T12:00:00.000Z",` +
		`"discarded_events":[` +
		`{"reason":"before_send","category":"error","quantity":1},` +
		`{"reason":"sample_rate","category":"error","quantity":2},` +
		`{"reason":"sample_rate","category":"transaction","quantity":3}]}`
	if diff := cmp.Diff(want, string(item.Payload)); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	parsed, err := FromJSON(item.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Timestamp.Equal(report.Timestamp) {
		t.Errorf("timestamp = %v", parsed.Timestamp)
	}
	if len(parsed.DiscardedEvents) != 3 {
		t.Errorf("got %d rows, want 3", len(parsed.DiscardedEvents))
	}
}

func TestFromJSONRequiredFields(t *testing.T) {
	for _, data := range []string{
		`{}`,
		`{"timestamp":"2024-03-01T12:00:00.000Z","discarded_events":[{"category":"error"}]}`,
		`{"timestamp":"2024-03-01T12:00:00.000Z","discarded_events":[{"reason":"before_send"}]}`,
	} {
		if _, err := FromJSON([]byte(data)); err == nil {
			t.Errorf("no error for %s", data)
		}
	}
}
