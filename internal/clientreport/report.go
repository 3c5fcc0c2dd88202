// Package clientreport aggregates discarded-item outcomes and serializes
// them as client_report envelope items, so the collector can account for
// telemetry the SDK dropped on purpose.
package clientreport

import (
	"sort"
	"time"

	"github.com/faultline-dev/faultline-go/internal/protocol"
	"github.com/faultline-dev/faultline-go/internal/ratelimit"
	"github.com/faultline-dev/faultline-go/internal/wire"
)

// OutcomeKey uniquely identifies an outcome bucket for aggregation.
type OutcomeKey struct {
	Reason   DiscardReason
	Category ratelimit.Category
}

// DiscardedEvent is one aggregated discard outcome row.
type DiscardedEvent struct {
	Reason   DiscardReason
	Category ratelimit.Category
	Quantity int64
}

// ClientReport is the client_report payload: a timestamp plus the discard
// rows accumulated since the previous report.
type ClientReport struct {
	Timestamp       time.Time
	DiscardedEvents []DiscardedEvent
}

// WriteTo serializes the report. Rows are ordered by reason then category so
// output is stable.
func (r *ClientReport) WriteTo(w *wire.Writer) {
	rows := make([]DiscardedEvent, len(r.DiscardedEvents))
	copy(rows, r.DiscardedEvents)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Reason != rows[j].Reason {
			return rows[i].Reason < rows[j].Reason
		}
		return rows[i].Category < rows[j].Category
	})

	w.BeginObject()
	w.TimeAlways("timestamp", r.Timestamp)
	w.Key("discarded_events")
	w.BeginArray()
	for _, row := range rows {
		w.BeginObject()
		w.StringAlways("reason", string(row.Reason))
		w.StringAlways("category", string(row.Category))
		w.IntAlways("quantity", row.Quantity)
		w.EndObject()
	}
	w.EndArray()
	w.EndObject()
}

// FromJSON parses a serialized client report.
func FromJSON(data []byte) (*ClientReport, error) {
	node, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}

	ts, err := node.RequiredTime("timestamp")
	if err != nil {
		return nil, err
	}

	report := &ClientReport{Timestamp: ts}
	rows, _ := node.Get("discarded_events").Array()
	for _, row := range rows {
		reason, err := row.RequiredStr("reason")
		if err != nil {
			return nil, err
		}
		category, err := row.RequiredStr("category")
		if err != nil {
			return nil, err
		}
		quantity, _ := row.Get("quantity").Int64()
		report.DiscardedEvents = append(report.DiscardedEvents, DiscardedEvent{
			Reason:   DiscardReason(reason),
			Category: ratelimit.Category(category),
			Quantity: quantity,
		})
	}
	return report, nil
}

// ToEnvelopeItem serializes the report into a client_report envelope item.
func (r *ClientReport) ToEnvelopeItem(cfg *wire.Config) (*protocol.EnvelopeItem, error) {
	w := wire.NewWriter(cfg)
	r.WriteTo(w)
	payload, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	return protocol.NewEnvelopeItem(protocol.EnvelopeItemTypeClientReport, payload), nil
}
