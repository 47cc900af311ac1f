// Package annotations stores the pins users place on document pages.
//
// The store does no access filtering of its own. Callers check that the
// parent document is visible before calling it.
package annotations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"constructionpro/internal/events"
	"constructionpro/internal/logging"
	"constructionpro/internal/models"
)

// Observer counts annotation operations.
type Observer interface {
	RecordAnnotationOp(action string)
}

type Store struct {
	db       *models.DB
	events   events.Publisher
	observer Observer
	log      logging.Logger
	now      func() time.Time
}

type Option func(*Store)

func WithPublisher(p events.Publisher) Option {
	return func(s *Store) { s.events = p }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

func NewStore(db *models.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		events: events.Noop{},
		log:    logging.Discard(),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput places a new pin. Position is normalized to the page size.
type CreateInput struct {
	DocumentID uuid.UUID             `json:"-"`
	PageNumber int                   `json:"page_number" binding:"required,min=1"`
	X          float64               `json:"x" binding:"min=0,max=1"`
	Y          float64               `json:"y" binding:"min=0,max=1"`
	Kind       models.AnnotationKind `json:"kind" binding:"required"`
	Label      *string               `json:"label" binding:"omitempty,max=120"`
	Comment    *string               `json:"comment" binding:"omitempty,max=5000"`
	Linked     *models.LinkedEntity  `json:"linked_entity"`
	CreatedBy  int                   `json:"-"`
}

// UpdateInput is a partial edit. DocumentID and PageNumber exist only so a
// request that tries to move a pin can be rejected.
type UpdateInput struct {
	DocumentID   *uuid.UUID             `json:"document_id"`
	PageNumber   *int                   `json:"page_number"`
	X            *float64               `json:"x"`
	Y            *float64               `json:"y"`
	Kind         *models.AnnotationKind `json:"kind"`
	Label        *string                `json:"label"`
	Comment      *string                `json:"comment"`
	Linked       *models.LinkedEntity   `json:"linked_entity"`
	UnlinkEntity bool                   `json:"unlink_entity"`
}

// List returns the pins of a document ordered by page, then placement time.
// A nil page returns all pages.
func (s *Store) List(ctx context.Context, documentID uuid.UUID, page *int) ([]models.Annotation, error) {
	if page != nil && *page < 1 {
		return nil, invalid("page must be at least 1")
	}
	rows, err := s.db.WithContext(ctx).Annotations.ListForDocument(documentID, page)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	return rows, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Annotation, error) {
	return s.db.WithContext(ctx).Annotations.Get(id)
}

func (s *Store) Create(ctx context.Context, in CreateInput) (*models.Annotation, error) {
	a := &models.Annotation{
		DocumentID: in.DocumentID,
		PageNumber: in.PageNumber,
		X:          in.X,
		Y:          in.Y,
		Kind:       in.Kind,
		Label:      trimmed(in.Label),
		Comment:    trimmed(in.Comment),
		Linked:     in.Linked,
		CreatedBy:  in.CreatedBy,
	}
	if err := validate(a); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if _, err := db.Documents.Get(in.DocumentID); err != nil {
		return nil, err
	}
	if err := db.Annotations.Create(a); err != nil {
		return nil, fmt.Errorf("create annotation: %w", err)
	}

	s.done(ctx, "create", events.AnnotationCreated, a, in.CreatedBy)
	return a, nil
}

// Update merges the given fields into the stored pin and re-checks the
// whole result. Concurrent edits are not detected; the last write wins.
func (s *Store) Update(ctx context.Context, id uuid.UUID, in UpdateInput, actorID int) (*models.Annotation, error) {
	var a *models.Annotation
	err := s.db.Transaction(ctx, func(tx *models.DB) error {
		var err error
		if a, err = tx.Annotations.Get(id); err != nil {
			return err
		}

		if in.DocumentID != nil && *in.DocumentID != a.DocumentID {
			return invalid("annotations cannot move to another document")
		}
		if in.PageNumber != nil && *in.PageNumber != a.PageNumber {
			return invalid("annotations cannot move to another page")
		}

		if in.X != nil {
			a.X = *in.X
		}
		if in.Y != nil {
			a.Y = *in.Y
		}
		if in.Kind != nil {
			a.Kind = *in.Kind
		}
		if in.Label != nil {
			a.Label = trimmed(in.Label)
		}
		if in.Comment != nil {
			a.Comment = trimmed(in.Comment)
		}
		switch {
		case in.UnlinkEntity && in.Linked != nil:
			return invalid("linked_entity and unlink_entity are mutually exclusive")
		case in.UnlinkEntity:
			a.Linked = nil
		case in.Linked != nil:
			a.Linked = in.Linked
		}

		if err := validate(a); err != nil {
			return err
		}
		return tx.Annotations.Save(a)
	})
	if err != nil {
		return nil, err
	}

	s.done(ctx, "update", events.AnnotationUpdated, a, actorID)
	return a, nil
}

// Delete removes a pin for good.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, actorID int) error {
	db := s.db.WithContext(ctx)
	a, err := db.Annotations.Get(id)
	if err != nil {
		return err
	}
	if err := db.Annotations.Delete(id); err != nil {
		return err
	}
	s.done(ctx, "delete", events.AnnotationDeleted, a, actorID)
	return nil
}

// Resolve marks a pin resolved by userID. Resolving a resolved pin keeps the
// original resolution and succeeds.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, userID int) (*models.Annotation, error) {
	db := s.db.WithContext(ctx)
	a, err := db.Annotations.Get(id)
	if err != nil {
		return nil, err
	}
	if a.IsResolved() {
		return a, nil
	}

	at := s.now()
	if err := db.Annotations.SetResolution(id, &at, &userID); err != nil {
		return nil, err
	}
	a.ResolvedAt, a.ResolvedBy = &at, &userID

	s.done(ctx, "resolve", events.AnnotationResolved, a, userID)
	return a, nil
}

// Unresolve clears both resolution fields. It is a no-op on an open pin.
func (s *Store) Unresolve(ctx context.Context, id uuid.UUID, actorID int) (*models.Annotation, error) {
	db := s.db.WithContext(ctx)
	a, err := db.Annotations.Get(id)
	if err != nil {
		return nil, err
	}
	if !a.IsResolved() {
		return a, nil
	}

	if err := db.Annotations.SetResolution(id, nil, nil); err != nil {
		return nil, err
	}
	a.ResolvedAt, a.ResolvedBy = nil, nil

	s.done(ctx, "unresolve", events.AnnotationUnresolved, a, actorID)
	return a, nil
}

func (s *Store) done(ctx context.Context, action string, t events.Type, a *models.Annotation, actorID int) {
	if s.observer != nil {
		s.observer.RecordAnnotationOp(action)
	}

	id := a.ID
	err := s.events.Publish(ctx, events.Event{
		Type:         t,
		DocumentID:   a.DocumentID,
		AnnotationID: &id,
		ActorID:      actorID,
		OccurredAt:   s.now(),
	})
	if err != nil {
		s.log.Warn(ctx, "publish annotation event", "type", t, "annotation_id", a.ID, "error", err)
	}
	s.log.Debug(ctx, "annotation "+action, "annotation_id", a.ID, "document_id", a.DocumentID, "user_id", actorID)
}
