package faultline

import (
	"regexp"
	"time"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

// Breadcrumb is a timestamped log-like trail entry preceding an event.
type Breadcrumb struct {
	Type      string
	Category  string
	Message   string
	Data      map[string]interface{}
	Level     Level
	Timestamp time.Time

	redacted bool
}

// urlPattern matches URL-like substrings for PII redaction.
var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s'"]+`)

const redactedPlaceholder = "[Filtered]"

// Redact permanently replaces URL-like substrings in the breadcrumb's
// message and string data values with a placeholder. Redaction is a one-way
// state flip: once redacted, a breadcrumb never exposes the original URLs
// again.
func (b *Breadcrumb) Redact() {
	if b.redacted {
		return
	}
	b.redacted = true
	b.Message = urlPattern.ReplaceAllString(b.Message, redactedPlaceholder)
	for k, v := range b.Data {
		if s, ok := v.(string); ok {
			b.Data[k] = urlPattern.ReplaceAllString(s, redactedPlaceholder)
		}
	}
}

// Redacted reports whether Redact has been applied.
func (b *Breadcrumb) Redacted() bool { return b.redacted }

// WriteTo serializes the breadcrumb. The timestamp uses the exact
// millisecond pattern the receiving service requires for breadcrumbs.
func (b *Breadcrumb) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.Time("timestamp", b.Timestamp)
	w.String("type", b.Type)
	w.String("category", b.Category)
	w.String("message", b.Message)
	w.DynamicMap("data", b.Data)
	w.String("level", string(b.Level))
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (b *Breadcrumb) MarshalJSON() ([]byte, error) {
	return serialize(b.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Breadcrumb) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	*b = *breadcrumbFromNode(n)
	return nil
}

func breadcrumbFromNode(n wire.Node) *Breadcrumb {
	b := &Breadcrumb{}
	b.Timestamp, _ = n.Get("timestamp").Time()
	b.Type, _ = n.Get("type").Str()
	b.Category, _ = n.Get("category").Str()
	b.Message, _ = n.Get("message").Str()
	b.Data = n.Get("data").DynamicMap()
	b.Level = levelFromNode(n.Get("level"))
	return b
}
