// Package revisions keeps the append-only version history of documents.
package revisions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"constructionpro/internal/common"
	"constructionpro/internal/events"
	"constructionpro/internal/logging"
	"constructionpro/internal/models"
)

// RecentLimit is the size of the short history shown next to a document.
const RecentLimit = 5

// Observer is notified once per committed revision.
type Observer interface {
	RecordRevision()
}

type Tracker struct {
	db       *models.DB
	events   events.Publisher
	observer Observer
	log      logging.Logger
}

type Option func(*Tracker)

func WithPublisher(p events.Publisher) Option {
	return func(t *Tracker) { t.events = p }
}

func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

func New(db *models.DB, opts ...Option) *Tracker {
	t := &Tracker{
		db:     db,
		events: events.Noop{},
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Initial describes version 1 of a freshly created document.
type Initial struct {
	DocumentID uuid.UUID
	StorageKey string
	FileSize   int64
	UploaderID int
}

// NewVersion describes a re-upload.
type NewVersion struct {
	DocumentID  uuid.UUID
	StorageKey  string
	FileSize    int64
	ChangeNotes string
	UploaderID  int
}

// RecordInitial creates version 1 in its own transaction.
func (t *Tracker) RecordInitial(ctx context.Context, in Initial) (*models.DocumentRevision, error) {
	var rev *models.DocumentRevision
	err := t.db.Transaction(ctx, func(tx *models.DB) error {
		var err error
		rev, err = RecordInitialTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	t.Committed(ctx, rev)
	return rev, nil
}

// RecordInitialTx creates version 1 inside the caller's transaction. It fails
// with common.ErrConflict when the document already has history.
func RecordInitialTx(tx *models.DB, in Initial) (*models.DocumentRevision, error) {
	if strings.TrimSpace(in.StorageKey) == "" {
		return nil, fmt.Errorf("%w: storage key is required", common.ErrValidation)
	}

	exists, err := tx.Revisions.Exists(in.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("check revisions: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: document %s already has revisions", common.ErrConflict, in.DocumentID)
	}

	rev := &models.DocumentRevision{
		DocumentID: in.DocumentID,
		Version:    1,
		StorageKey: in.StorageKey,
		FileSize:   in.FileSize,
		UploadedBy: in.UploaderID,
		IsLatest:   true,
	}
	if err := tx.Revisions.Create(rev); err != nil {
		return nil, fmt.Errorf("create revision: %w", err)
	}
	if err := tx.Documents.SetCurrentRevision(in.DocumentID, 1, in.StorageKey, in.FileSize); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return rev, nil
}

// RecordNewVersion appends max+1 to the document's history. The parent row
// is locked for the duration of the transaction, so concurrent uploads of
// one document are numbered one after another.
func (t *Tracker) RecordNewVersion(ctx context.Context, in NewVersion) (*models.DocumentRevision, error) {
	if strings.TrimSpace(in.StorageKey) == "" {
		return nil, fmt.Errorf("%w: storage key is required", common.ErrValidation)
	}

	var rev *models.DocumentRevision
	err := t.db.Transaction(ctx, func(tx *models.DB) error {
		doc, err := tx.Documents.GetForUpdate(in.DocumentID)
		if err != nil {
			return err
		}

		max, err := tx.Revisions.MaxVersion(doc.ID)
		if err != nil {
			return fmt.Errorf("read max version: %w", err)
		}
		next := max + 1

		if err := tx.Revisions.ClearLatest(doc.ID); err != nil {
			return fmt.Errorf("clear latest: %w", err)
		}

		rev = &models.DocumentRevision{
			DocumentID:  doc.ID,
			Version:     next,
			StorageKey:  in.StorageKey,
			FileSize:    in.FileSize,
			ChangeNotes: in.ChangeNotes,
			UploadedBy:  in.UploaderID,
			IsLatest:    true,
		}
		if err := tx.Revisions.Create(rev); err != nil {
			return fmt.Errorf("create revision %d: %w", next, err)
		}

		return tx.Documents.SetCurrentRevision(doc.ID, next, in.StorageKey, in.FileSize)
	})
	if err != nil {
		return nil, err
	}

	t.Committed(ctx, rev)
	return rev, nil
}

// List returns revisions newest first; limit <= 0 returns the full history.
func (t *Tracker) List(ctx context.Context, documentID uuid.UUID, limit int) ([]models.DocumentRevision, error) {
	return t.db.WithContext(ctx).Revisions.ListForDocument(documentID, limit)
}

// Recent returns the RecentLimit newest revisions.
func (t *Tracker) Recent(ctx context.Context, documentID uuid.UUID) ([]models.DocumentRevision, error) {
	return t.List(ctx, documentID, RecentLimit)
}

// Get returns one version of a document.
func (t *Tracker) Get(ctx context.Context, documentID uuid.UUID, version int) (*models.DocumentRevision, error) {
	return t.db.WithContext(ctx).Revisions.GetVersion(documentID, version)
}

// Committed reports a revision once its transaction has committed. Callers
// of RecordInitialTx invoke it themselves.
func (t *Tracker) Committed(ctx context.Context, rev *models.DocumentRevision) {
	if t.observer != nil {
		t.observer.RecordRevision()
	}
	err := t.events.Publish(ctx, events.Event{
		Type:       events.RevisionRecorded,
		DocumentID: rev.DocumentID,
		Version:    rev.Version,
		ActorID:    rev.UploadedBy,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.log.Warn(ctx, "publish revision event", "document_id", rev.DocumentID, "version", rev.Version, "error", err)
	}
}
