// Package events publishes document and annotation change notifications so
// other parts of the suite can refresh without polling.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	DocumentCreated      Type = "document.created"
	DocumentUpdated      Type = "document.updated"
	AssignmentsChanged   Type = "document.assignments_changed"
	RevisionRecorded     Type = "document.revision_recorded"
	AnnotationCreated    Type = "annotation.created"
	AnnotationUpdated    Type = "annotation.updated"
	AnnotationDeleted    Type = "annotation.deleted"
	AnnotationResolved   Type = "annotation.resolved"
	AnnotationUnresolved Type = "annotation.unresolved"
)

// Event is the payload published for every committed change.
type Event struct {
	Type         Type       `json:"type"`
	DocumentID   uuid.UUID  `json:"document_id"`
	AnnotationID *uuid.UUID `json:"annotation_id,omitempty"`
	Version      int        `json:"version,omitempty"`
	ActorID      int        `json:"actor_id,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Publisher delivers events. Publishing happens after commit and failures
// never roll back the change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
