package clientreport

// DiscardReason represents why an item was discarded before delivery.
type DiscardReason string

const (
	// ReasonQueueOverflow indicates the transport queue was full.
	ReasonQueueOverflow DiscardReason = "queue_overflow"

	// ReasonBeforeSend indicates the item was dropped by a BeforeSend callback.
	ReasonBeforeSend DiscardReason = "before_send"

	// ReasonEventProcessor indicates the item was dropped by an event processor.
	ReasonEventProcessor DiscardReason = "event_processor"

	// ReasonSampleRate indicates the item was dropped by sampling.
	ReasonSampleRate DiscardReason = "sample_rate"

	// ReasonRateLimit indicates the item was dropped while the collector
	// had the category rate limited.
	ReasonRateLimit DiscardReason = "ratelimit_backoff"

	// ReasonNetworkError indicates delivery failed with a connection error.
	ReasonNetworkError DiscardReason = "network_error"

	// ReasonSendError indicates the collector returned an error status.
	ReasonSendError DiscardReason = "send_error"

	// ReasonInternalError indicates an internal SDK error, such as a
	// transaction dropped for failing a consistency check.
	ReasonInternalError DiscardReason = "internal_sdk_error"
)
