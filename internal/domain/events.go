package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event type names. They are also the routing types on the wire.
const (
	EventCourseAdded          = "course.added"
	EventCourseRemoved        = "course.removed"
	EventCertificateIssued    = "certificate.issued"
	EventCertificateMinted    = "certificate.minted"
	EventOwnershipTransferred = "registry.ownership_transferred"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event represents a domain event
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
	// AggregateKey identifies the record that produced this event, e.g. "certificate:7"
	AggregateKey() string
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Aggregate string    `json:"aggregate"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType, aggregate string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: at,
		Aggregate: aggregate,
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateKey() string  { return e.Aggregate }

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes domain events
type EventHandler func(event Event)

// EventDispatcher manages in-process event subscriptions.
type EventDispatcher struct {
	mu          sync.RWMutex
	handlers    map[string][]EventHandler
	allHandlers []EventHandler
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allHandlers = append(d.allHandlers, handler)
}

// Publish dispatches an event to type-specific handlers, then to catch-all handlers.
func (d *EventDispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, h := range d.handlers[event.EventType()] {
		h(event)
	}
	for _, h := range d.allHandlers {
		h(event)
	}
}

// PublishAll dispatches multiple events in order
func (d *EventDispatcher) PublishAll(events []Event) {
	for _, event := range events {
		d.Publish(event)
	}
}

// -----------------------------------------------------------------------------
// Course Events
// -----------------------------------------------------------------------------

// CourseAddedEvent is published when the owner marks a course valid
type CourseAddedEvent struct {
	BaseEvent
	CourseID CourseID `json:"course_id"`
}

// NewCourseAddedEvent creates a new course added event
func NewCourseAddedEvent(id CourseID, at time.Time) CourseAddedEvent {
	return CourseAddedEvent{
		BaseEvent: NewBaseEvent(EventCourseAdded, "course:"+id.String(), at),
		CourseID:  id,
	}
}

// CourseRemovedEvent is published when the owner clears a course's validity
type CourseRemovedEvent struct {
	BaseEvent
	CourseID CourseID `json:"course_id"`
}

// NewCourseRemovedEvent creates a new course removed event
func NewCourseRemovedEvent(id CourseID, at time.Time) CourseRemovedEvent {
	return CourseRemovedEvent{
		BaseEvent: NewBaseEvent(EventCourseRemoved, "course:"+id.String(), at),
		CourseID:  id,
	}
}

// -----------------------------------------------------------------------------
// Certificate Events
// -----------------------------------------------------------------------------

// CertificateIssuedEvent is published when a pending certificate is recorded.
// Observers read the new id from here instead of querying the counter.
type CertificateIssuedEvent struct {
	BaseEvent
	Recipient     Address       `json:"recipient"`
	CourseID      CourseID      `json:"course_id"`
	CertificateID CertificateID `json:"certificate_id"`
	CourseTitle   string        `json:"course_title"`
	Level         string        `json:"level"`
}

// NewCertificateIssuedEvent creates a new certificate issued event
func NewCertificateIssuedEvent(cert *Certificate) CertificateIssuedEvent {
	return CertificateIssuedEvent{
		BaseEvent:     NewBaseEvent(EventCertificateIssued, "certificate:"+cert.ID.String(), cert.IssuedAt),
		Recipient:     cert.Recipient,
		CourseID:      cert.CourseID,
		CertificateID: cert.ID,
		CourseTitle:   cert.CourseTitle,
		Level:         cert.Level,
	}
}

// CertificateMintedEvent is published when a recipient claims a certificate
type CertificateMintedEvent struct {
	BaseEvent
	Owner         Address       `json:"owner"`
	CertificateID CertificateID `json:"certificate_id"`
	CourseID      CourseID      `json:"course_id"`
	TokenURI      string        `json:"token_uri"`
}

// NewCertificateMintedEvent creates a new certificate minted event
func NewCertificateMintedEvent(cert *Certificate, at time.Time) CertificateMintedEvent {
	return CertificateMintedEvent{
		BaseEvent:     NewBaseEvent(EventCertificateMinted, "certificate:"+cert.ID.String(), at),
		Owner:         cert.Owner,
		CertificateID: cert.ID,
		CourseID:      cert.CourseID,
		TokenURI:      cert.MetadataURI,
	}
}

// -----------------------------------------------------------------------------
// Registry Events
// -----------------------------------------------------------------------------

// OwnershipTransferredEvent is published when the registry owner changes
type OwnershipTransferredEvent struct {
	BaseEvent
	PreviousOwner Address `json:"previous_owner"`
	NewOwner      Address `json:"new_owner"`
}

// NewOwnershipTransferredEvent creates a new ownership transferred event
func NewOwnershipTransferredEvent(previous, next Address, at time.Time) OwnershipTransferredEvent {
	return OwnershipTransferredEvent{
		BaseEvent:     NewBaseEvent(EventOwnershipTransferred, "registry", at),
		PreviousOwner: previous,
		NewOwner:      next,
	}
}
