package faultline

import (
	"io"
	"time"

	"github.com/faultline-dev/faultline-go/internal/clientreport"
	"github.com/faultline-dev/faultline-go/internal/protocol"
	"github.com/faultline-dev/faultline-go/internal/wire"
)

// Envelope framing types, re-exported so applications and custom transports
// can build and inspect envelopes directly.
type (
	Envelope           = protocol.Envelope
	EnvelopeHeader     = protocol.EnvelopeHeader
	EnvelopeItem       = protocol.EnvelopeItem
	EnvelopeItemHeader = protocol.EnvelopeItemHeader
	EnvelopeItemType   = protocol.EnvelopeItemType
	SdkMeta            = protocol.SdkMeta
)

const (
	EnvelopeItemTypeEvent        = protocol.EnvelopeItemTypeEvent
	EnvelopeItemTypeTransaction  = protocol.EnvelopeItemTypeTransaction
	EnvelopeItemTypeSession      = protocol.EnvelopeItemTypeSession
	EnvelopeItemTypeCheckIn      = protocol.EnvelopeItemTypeCheckIn
	EnvelopeItemTypeAttachment   = protocol.EnvelopeItemTypeAttachment
	EnvelopeItemTypeClientReport = protocol.EnvelopeItemTypeClientReport
	EnvelopeItemTypeFeedback     = protocol.EnvelopeItemTypeFeedback
)

// NewEnvelope starts an empty envelope with the given header.
func NewEnvelope(header *EnvelopeHeader) *Envelope {
	return protocol.NewEnvelope(header)
}

// NewEnvelopeItem builds an item of the given type around a serialized
// payload.
func NewEnvelopeItem(itemType EnvelopeItemType, payload []byte) *EnvelopeItem {
	return protocol.NewEnvelopeItem(itemType, payload)
}

// ParseEnvelope parses a serialized envelope. Items of unknown type are
// preserved as opaque payloads.
func ParseEnvelope(data []byte) (*Envelope, error) {
	return protocol.Parse(data)
}

// ParseEnvelopeFrom parses an envelope from a stream.
func ParseEnvelopeFrom(r io.Reader) (*Envelope, error) {
	return protocol.ParseFrom(r)
}

// envelopeFromEvent packages an event, its attachments and an optional
// client report into one envelope. Transactions become transaction items,
// feedback events feedback items, everything else an event item.
func envelopeFromEvent(cfg *wire.Config, event *Event, sdk *SdkMeta, attachments []*Attachment, report *clientreport.ClientReport) (*Envelope, error) {
	payload, err := serializeWith(cfg, event.WriteTo)
	if err != nil {
		return nil, err
	}
	itemType := EnvelopeItemTypeEvent
	switch event.Type {
	case transactionType:
		itemType = EnvelopeItemTypeTransaction
	case feedbackType:
		itemType = EnvelopeItemTypeFeedback
	}

	envelope := NewEnvelope(&EnvelopeHeader{
		EventID: event.EventID.String(),
		SentAt:  time.Now().UTC(),
		Sdk:     sdk,
	})
	if err := envelope.AddItem(NewEnvelopeItem(itemType, payload)); err != nil {
		return nil, err
	}
	for _, a := range attachments {
		if err := envelope.AddItem(protocol.NewAttachmentItem(a.Filename, a.ContentType, a.Payload)); err != nil {
			return nil, err
		}
	}
	if report != nil {
		item, err := report.ToEnvelopeItem(cfg)
		if err != nil {
			return nil, err
		}
		if err := envelope.AddItem(item); err != nil {
			return nil, err
		}
	}
	return envelope, nil
}

// envelopeFromItem packages a single non-event item (session, check-in,
// client report) with the standard header.
func envelopeFromItem(item *EnvelopeItem, sdk *SdkMeta) (*Envelope, error) {
	envelope := NewEnvelope(&EnvelopeHeader{SentAt: time.Now().UTC(), Sdk: sdk})
	if err := envelope.AddItem(item); err != nil {
		return nil, err
	}
	return envelope, nil
}

func serializeWith(cfg *wire.Config, writeTo func(w *wire.Writer)) ([]byte, error) {
	w := wire.NewWriter(cfg)
	writeTo(w)
	return w.Bytes()
}
