// Package protocol implements the envelope framing layer: a header JSON
// object followed by length-prefixed typed items, newline separated.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

// Envelope is the outer wire container holding one or more typed items sent
// in one transmission.
//
// An envelope moves through three states: empty after NewEnvelope, building
// while items are appended, and sealed once it has been serialized. Items
// appended after sealing are rejected.
type Envelope struct {
	Header *EnvelopeHeader
	Items  []*EnvelopeItem

	sealed bool
}

// EnvelopeHeader is the leading JSON object of an envelope.
type EnvelopeHeader struct {
	// EventID ties the envelope to the event it carries, when it carries one.
	EventID string `json:"event_id,omitempty"`

	// SentAt is the send timestamp, used by the collector for clock drift
	// correction. Serialized in the protocol timestamp format, UTC.
	SentAt time.Time `json:"sent_at,omitempty"`

	// Sdk mirrors the sdk interface of the carried payload so item types
	// without their own sdk field (sessions, check-ins) still identify the
	// producer.
	Sdk *SdkMeta `json:"sdk,omitempty"`

	// Trace carries the trace linkage propagated with the envelope.
	Trace map[string]string `json:"trace,omitempty"`
}

// SdkMeta identifies the producing SDK in envelope headers.
type SdkMeta struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// EnvelopeItemType discriminates item payloads.
type EnvelopeItemType string

const (
	EnvelopeItemTypeEvent        EnvelopeItemType = "event"
	EnvelopeItemTypeTransaction  EnvelopeItemType = "transaction"
	EnvelopeItemTypeSession      EnvelopeItemType = "session"
	EnvelopeItemTypeCheckIn      EnvelopeItemType = "check_in"
	EnvelopeItemTypeAttachment   EnvelopeItemType = "attachment"
	EnvelopeItemTypeClientReport EnvelopeItemType = "client_report"
	EnvelopeItemTypeFeedback     EnvelopeItemType = "feedback"
)

// EnvelopeItemHeader is the JSON object preceding each item payload.
type EnvelopeItemHeader struct {
	// Type specifies the type of this item and its contents.
	Type EnvelopeItemType `json:"type"`

	// Length is the exact payload length in bytes. If absent, the payload
	// implicitly runs to the next newline; payloads that may contain
	// newlines must declare it.
	Length *int `json:"length,omitempty"`

	// Filename names an attachment payload.
	Filename string `json:"filename,omitempty"`

	// ContentType is the MIME type of the payload.
	ContentType string `json:"content_type,omitempty"`
}

// EnvelopeItem is a single typed, length-prefixed payload inside an
// envelope. Items of types unknown to this SDK version are preserved with
// their payload bytes untouched, so newer payloads can travel through older
// code.
type EnvelopeItem struct {
	Header  *EnvelopeItemHeader
	Payload []byte
}

// NewEnvelope creates an empty envelope with the given header.
func NewEnvelope(header *EnvelopeHeader) *Envelope {
	return &Envelope{
		Header: header,
		Items:  make([]*EnvelopeItem, 0),
	}
}

// AddItem appends an item. It fails once the envelope has been sealed by
// Serialize or WriteTo.
func (e *Envelope) AddItem(item *EnvelopeItem) error {
	if e.sealed {
		return fmt.Errorf("envelope is sealed, cannot add %q item", item.Header.Type)
	}
	e.Items = append(e.Items, item)
	return nil
}

// Serialize seals the envelope and renders it in the envelope format:
//
//	Headers "\n" { ItemHeaders "\n" Payload "\n" }
func (e *Envelope) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	headerBytes, err := json.Marshal(e.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope header: %w", err)
	}
	buf.Write(headerBytes)
	buf.WriteByte('\n')

	for _, item := range e.Items {
		if err := writeItem(&buf, item); err != nil {
			return nil, err
		}
	}

	e.sealed = true
	return buf.Bytes(), nil
}

// WriteTo seals the envelope and writes it to w. Item order is preserved
// exactly; items are never interleaved or reordered.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	data, err := e.Serialize()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func writeItem(buf *bytes.Buffer, item *EnvelopeItem) error {
	if item.Header == nil {
		return fmt.Errorf("envelope item has no header")
	}
	if item.Header.Length != nil && *item.Header.Length != len(item.Payload) {
		return fmt.Errorf("envelope item %q declares length %d but payload is %d bytes",
			item.Header.Type, *item.Header.Length, len(item.Payload))
	}

	headerBytes, err := json.Marshal(item.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal item header: %w", err)
	}
	buf.Write(headerBytes)
	buf.WriteByte('\n')
	buf.Write(item.Payload)
	buf.WriteByte('\n')
	return nil
}

// Size returns the total serialized size of the envelope in bytes.
func (e *Envelope) Size() (int, error) {
	data, err := e.Serialize()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// MarshalJSON renders the header with the protocol timestamp format for
// sent_at instead of encoding/json's default RFC 3339 nanoseconds.
func (h *EnvelopeHeader) MarshalJSON() ([]byte, error) {
	type header EnvelopeHeader
	var sentAt string
	if !h.SentAt.IsZero() {
		sentAt = h.SentAt.UTC().Format(wire.TimeFormat)
	}
	return json.Marshal(struct {
		*header
		SentAt string `json:"sent_at,omitempty"`
	}{
		header: (*header)(h),
		SentAt: sentAt,
	})
}

// UnmarshalJSON accepts any RFC 3339 sent_at precision.
func (h *EnvelopeHeader) UnmarshalJSON(data []byte) error {
	type header EnvelopeHeader
	aux := struct {
		*header
		SentAt string `json:"sent_at"`
	}{header: (*header)(h)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.SentAt != "" {
		t, err := time.Parse(time.RFC3339Nano, aux.SentAt)
		if err != nil {
			return fmt.Errorf("invalid sent_at: %w", err)
		}
		h.SentAt = t.UTC()
	}
	return nil
}

// NewEnvelopeItem creates an item of the given type with an exact declared
// payload length.
func NewEnvelopeItem(itemType EnvelopeItemType, payload []byte) *EnvelopeItem {
	length := len(payload)
	return &EnvelopeItem{
		Header: &EnvelopeItemHeader{
			Type:   itemType,
			Length: &length,
		},
		Payload: payload,
	}
}

// NewAttachmentItem creates an attachment item.
func NewAttachmentItem(filename, contentType string, payload []byte) *EnvelopeItem {
	length := len(payload)
	return &EnvelopeItem{
		Header: &EnvelopeItemHeader{
			Type:        EnvelopeItemTypeAttachment,
			Length:      &length,
			ContentType: contentType,
			Filename:    filename,
		},
		Payload: payload,
	}
}
