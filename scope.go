package faultline

import (
	"net/http"
	"sync"
	"time"

	"github.com/faultline-dev/faultline-go/internal/util"
)

// Scope holds the contextual data that gets merged onto every event
// captured while the scope is active: breadcrumbs, tags, user, request,
// contexts, attachments. Scopes stack: pushing clones the current scope, so
// data added in a narrower scope never leaks back out.
//
// All methods are safe for concurrent use.
type Scope struct {
	mu              sync.RWMutex
	breadcrumbs     []*Breadcrumb
	attachments     []*Attachment
	user            User
	tags            map[string]string
	extra           map[string]interface{}
	contexts        Contexts
	fingerprint     []string
	level           Level
	transaction     string
	request         *http.Request
	session         *SessionUpdate
	eventProcessors []EventProcessor
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{
		tags:     make(map[string]string),
		extra:    make(map[string]interface{}),
		contexts: make(Contexts),
	}
}

// AddBreadcrumb records a breadcrumb, evicting the oldest entry once limit
// is exceeded.
func (scope *Scope) AddBreadcrumb(breadcrumb *Breadcrumb, limit int) {
	if breadcrumb.Timestamp.IsZero() {
		breadcrumb.Timestamp = time.Now().UTC()
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	scope.breadcrumbs = append(scope.breadcrumbs, breadcrumb)
	if len(scope.breadcrumbs) > limit {
		scope.breadcrumbs = scope.breadcrumbs[1 : limit+1]
	}
}

// ClearBreadcrumbs drops all recorded breadcrumbs.
func (scope *Scope) ClearBreadcrumbs() {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.breadcrumbs = nil
}

// AddAttachment adds a file to be sent with the next events.
func (scope *Scope) AddAttachment(attachment *Attachment) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.attachments = append(scope.attachments, attachment)
}

// ClearAttachments drops all attachments.
func (scope *Scope) ClearAttachments() {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.attachments = nil
}

// Attachments returns the attachments currently on the scope.
func (scope *Scope) Attachments() []*Attachment {
	scope.mu.RLock()
	defer scope.mu.RUnlock()
	out := make([]*Attachment, len(scope.attachments))
	copy(out, scope.attachments)
	return out
}

// SetUser sets the user for the scope.
func (scope *Scope) SetUser(user User) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.user = user
}

// SetRequest records the HTTP request being handled.
func (scope *Scope) SetRequest(r *http.Request) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.request = r
}

// SetTag sets one tag.
func (scope *Scope) SetTag(key, value string) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.tags == nil {
		scope.tags = make(map[string]string)
	}
	scope.tags[key] = value
}

// SetTags merges tags into the scope.
func (scope *Scope) SetTags(tags map[string]string) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.tags == nil {
		scope.tags = make(map[string]string)
	}
	for k, v := range tags {
		scope.tags[k] = v
	}
}

// RemoveTag deletes one tag.
func (scope *Scope) RemoveTag(key string) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	delete(scope.tags, key)
}

// SetExtra sets one extra value.
func (scope *Scope) SetExtra(key string, value interface{}) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.extra == nil {
		scope.extra = make(map[string]interface{})
	}
	scope.extra[key] = value
}

// SetExtras merges extras into the scope.
func (scope *Scope) SetExtras(extra map[string]interface{}) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.extra == nil {
		scope.extra = make(map[string]interface{})
	}
	for k, v := range extra {
		scope.extra[k] = v
	}
}

// SetContext attaches a context under the given key.
func (scope *Scope) SetContext(key string, context Context) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.contexts == nil {
		scope.contexts = make(Contexts)
	}
	scope.contexts[key] = context
}

// RemoveContext deletes a context.
func (scope *Scope) RemoveContext(key string) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	delete(scope.contexts, key)
}

// SetFingerprint overrides the grouping fingerprint.
func (scope *Scope) SetFingerprint(fingerprint []string) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.fingerprint = fingerprint
}

// SetLevel forces the severity of events from this scope.
func (scope *Scope) SetLevel(level Level) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.level = level
}

// SetTransaction names the transaction events belong to.
func (scope *Scope) SetTransaction(name string) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.transaction = name
}

// Transaction returns the transaction name on the scope.
func (scope *Scope) Transaction() string {
	scope.mu.RLock()
	defer scope.mu.RUnlock()
	return scope.transaction
}

// SetSession binds the active session, so errors can bump its error count.
func (scope *Scope) SetSession(session *SessionUpdate) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.session = session
}

// Session returns the active session, if any.
func (scope *Scope) Session() *SessionUpdate {
	scope.mu.RLock()
	defer scope.mu.RUnlock()
	return scope.session
}

// AddEventProcessor appends a processor run on every event from this scope.
func (scope *Scope) AddEventProcessor(processor EventProcessor) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.eventProcessors = append(scope.eventProcessors, processor)
}

// Clear resets the scope to empty.
func (scope *Scope) Clear() {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.breadcrumbs = nil
	scope.attachments = nil
	scope.user = User{}
	scope.tags = make(map[string]string)
	scope.extra = make(map[string]interface{})
	scope.contexts = make(Contexts)
	scope.fingerprint = nil
	scope.level = ""
	scope.transaction = ""
	scope.request = nil
	scope.session = nil
	scope.eventProcessors = nil
}

// Clone returns a deep copy sharing no mutable state with the original.
func (scope *Scope) Clone() *Scope {
	scope.mu.RLock()
	defer scope.mu.RUnlock()

	clone := NewScope()
	clone.user = scope.user
	clone.breadcrumbs = make([]*Breadcrumb, len(scope.breadcrumbs))
	copy(clone.breadcrumbs, scope.breadcrumbs)
	clone.attachments = make([]*Attachment, len(scope.attachments))
	copy(clone.attachments, scope.attachments)
	for k, v := range scope.tags {
		clone.tags[k] = v
	}
	for k, v := range scope.extra {
		clone.extra[k] = util.Deepcopy(v)
	}
	clone.contexts = scope.contexts.Clone()
	clone.fingerprint = make([]string, len(scope.fingerprint))
	copy(clone.fingerprint, scope.fingerprint)
	clone.level = scope.level
	clone.transaction = scope.transaction
	clone.request = scope.request
	clone.session = scope.session
	clone.eventProcessors = append([]EventProcessor(nil), scope.eventProcessors...)
	return clone
}

// ApplyToEvent merges the scope onto the event. Values already present on
// the event win; scope contexts merge under the fill-unset rule, so the
// event keeps what it set and inherits the rest. Returns nil when a scope
// event processor dropped the event.
func (scope *Scope) ApplyToEvent(event *Event, hint *EventHint, maxBreadcrumbs int) *Event {
	scope.mu.RLock()
	defer scope.mu.RUnlock()

	if len(scope.breadcrumbs) > 0 {
		event.Breadcrumbs = append(event.Breadcrumbs, scope.breadcrumbs...)
		if len(event.Breadcrumbs) > maxBreadcrumbs {
			event.Breadcrumbs = event.Breadcrumbs[len(event.Breadcrumbs)-maxBreadcrumbs:]
		}
	}

	if len(scope.tags) > 0 {
		if event.Tags == nil {
			event.Tags = make(map[string]string, len(scope.tags))
		}
		for k, v := range scope.tags {
			if _, ok := event.Tags[k]; !ok {
				event.Tags[k] = v
			}
		}
	}

	if len(scope.extra) > 0 {
		if event.Extra == nil {
			event.Extra = make(map[string]interface{}, len(scope.extra))
		}
		for k, v := range scope.extra {
			if _, ok := event.Extra[k]; !ok {
				event.Extra[k] = v
			}
		}
	}

	if len(scope.contexts) > 0 {
		if event.Contexts == nil {
			event.Contexts = make(Contexts)
		}
		scope.contexts.CopyTo(event.Contexts)
	}

	if event.User.IsEmpty() {
		event.User = scope.user
	}

	if len(event.Fingerprint) == 0 {
		event.Fingerprint = append(event.Fingerprint, scope.fingerprint...)
	}

	if scope.level != "" {
		event.Level = scope.level
	}

	if event.Transaction == "" {
		event.Transaction = scope.transaction
	}

	if event.Request == nil && scope.request != nil {
		event.Request = NewRequest(scope.request)
	}

	for _, processor := range scope.eventProcessors {
		event = processor(event, hint)
		if event == nil {
			return nil
		}
	}

	return event
}
