// Package documents implements the document library: access-filtered
// listing, creation with an initial revision, partial updates, restricted
// category assignments and re-uploads.
package documents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"constructionpro/internal/access"
	"constructionpro/internal/common"
	"constructionpro/internal/events"
	"constructionpro/internal/logging"
	"constructionpro/internal/models"
	"constructionpro/internal/revisions"
	"constructionpro/internal/storage"
)

// Observer is notified of committed document creations.
type Observer interface {
	RecordDocumentCreated(category string)
}

// Files is the part of the file store the service checks storage keys
// against.
type Files interface {
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	db       *models.DB
	tracker  *revisions.Tracker
	files    Files
	events   events.Publisher
	observer Observer
	log      logging.Logger
}

type Option func(*Service)

// WithFiles makes Create and Reupload require the object to exist.
func WithFiles(f Files) Option {
	return func(s *Service) { s.files = f }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(db *models.DB, tracker *revisions.Tracker, opts ...Option) *Service {
	s := &Service{
		db:      db,
		tracker: tracker,
		events:  events.Noop{},
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns one page of the documents the caller may see. The access
// scope is applied to the page, the total and the category histogram alike.
func (s *Service) List(ctx context.Context, caller *models.User, f ListFilter) (*ListResult, error) {
	if err := f.normalize(); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	scopes := []func(*gorm.DB) *gorm.DB{access.Scope(caller.Viewer())}
	if f.ProjectID != nil {
		scopes = append(scopes, models.InProject(*f.ProjectID))
	}
	if f.Search != "" {
		scopes = append(scopes, models.NameContains(f.Search))
	}
	if len(f.AssignedTo) > 0 {
		scopes = append(scopes, models.AssignedToAny(f.AssignedTo))
	}
	if !f.IncludeArchived {
		scopes = append(scopes, models.WithStatus(models.DocumentActive))
	}

	counts, err := db.Documents.CategoryCounts(scopes...)
	if err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}

	pageScopes := scopes
	if f.Category != nil {
		pageScopes = append(pageScopes[:len(scopes):len(scopes)], models.InCategory(*f.Category))
	}

	docs, total, err := db.Documents.Page((f.Page-1)*f.Limit, f.Limit, pageScopes...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if err := s.attachCounts(db, docs); err != nil {
		return nil, err
	}

	return &ListResult{
		Documents: docs,
		Pagination: Pagination{
			Page:       f.Page,
			Limit:      f.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(f.Limit))),
		},
		CategoryCounts: counts,
	}, nil
}

func (s *Service) attachCounts(db *models.DB, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}

	revs, err := db.Revisions.CountByDocuments(ids)
	if err != nil {
		return fmt.Errorf("count revisions: %w", err)
	}
	pins, err := db.Annotations.CountByDocuments(ids)
	if err != nil {
		return fmt.Errorf("count annotations: %w", err)
	}
	for i := range docs {
		docs[i].RevisionCount = revs[docs[i].ID]
		docs[i].AnnotationCount = pins[docs[i].ID]
	}
	return nil
}

// Get returns a document the caller may see. Invisible documents are
// reported as common.ErrNotFound.
func (s *Service) Get(ctx context.Context, caller *models.User, id uuid.UUID) (*models.Document, error) {
	db := s.db.WithContext(ctx)
	doc, err := db.Documents.GetVisible(id, access.Scope(caller.Viewer()))
	if err != nil {
		return nil, err
	}
	docs := []models.Document{*doc}
	if err := s.attachCounts(db, docs); err != nil {
		return nil, err
	}
	if docs[0].RecentRevisions, err = s.tracker.Recent(ctx, id); err != nil {
		return nil, fmt.Errorf("recent revisions: %w", err)
	}
	return &docs[0], nil
}

// Assignments lists the assignees of a visible document with their users.
func (s *Service) Assignments(ctx context.Context, caller *models.User, id uuid.UUID) ([]models.DocumentAssignment, error) {
	db := s.db.WithContext(ctx)
	if _, err := db.Documents.GetVisible(id, access.Scope(caller.Viewer())); err != nil {
		return nil, err
	}
	return db.Assignments.ListForDocument(id)
}

// Create registers an uploaded file as a document at version 1. The
// document, its first revision, its assignments and its metadata commit
// together.
func (s *Service) Create(ctx context.Context, caller *models.User, in CreateInput) (*models.Document, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if !caller.Role.AtLeast(access.RoleFieldWorker) {
		return nil, fmt.Errorf("%w: viewers cannot upload documents", common.ErrForbidden)
	}
	if err := checkAdminOnlyFields(caller, in.Category, in.AdminOnly); err != nil {
		return nil, err
	}
	if err := s.checkStorageKey(ctx, caller, in.StorageKey); err != nil {
		return nil, err
	}

	var (
		doc *models.Document
		rev *models.DocumentRevision
	)
	err := s.db.Transaction(ctx, func(tx *models.DB) error {
		if in.ProjectID != nil {
			if err := requireProject(tx, *in.ProjectID); err != nil {
				return err
			}
		}
		if err := validateAssignees(tx, in.Category, in.AssigneeIDs); err != nil {
			return err
		}

		doc = &models.Document{
			ProjectID:      in.ProjectID,
			Name:           in.Name,
			Description:    in.Description,
			Category:       in.Category,
			StorageKey:     in.StorageKey,
			FileSize:       in.FileSize,
			MimeType:       in.MimeType,
			Tags:           models.StringList(in.Tags),
			Latitude:       in.Latitude,
			Longitude:      in.Longitude,
			AdminOnly:      in.AdminOnly,
			CurrentVersion: 1,
			Status:         models.DocumentActive,
			UploadedBy:     caller.ID,
		}
		if err := tx.Documents.Create(doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}

		var err error
		rev, err = revisions.RecordInitialTx(tx, revisions.Initial{
			DocumentID: doc.ID,
			StorageKey: doc.StorageKey,
			FileSize:   doc.FileSize,
			UploaderID: caller.ID,
		})
		if err != nil {
			return err
		}

		if err := tx.Assignments.ReplaceForDocument(doc.ID, in.AssigneeIDs); err != nil {
			return fmt.Errorf("assign document: %w", err)
		}

		if in.Metadata != nil {
			meta := &models.DocumentMetadata{
				DocumentID:    doc.ID,
				SheetNumber:   in.Metadata.SheetNumber,
				Discipline:    in.Metadata.Discipline,
				Scale:         in.Metadata.Scale,
				PageCount:     in.Metadata.PageCount,
				RevisionLabel: in.Metadata.RevisionLabel,
			}
			if err := tx.Metadata.Upsert(meta); err != nil {
				return fmt.Errorf("save metadata: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.tracker.Committed(ctx, rev)
	if s.observer != nil {
		s.observer.RecordDocumentCreated(string(doc.Category))
	}
	s.publish(ctx, events.DocumentCreated, doc.ID, caller.ID)
	s.log.Info(ctx, "document created", "document_id", doc.ID, "category", doc.Category, "user_id", caller.ID)

	return s.reload(ctx, doc.ID)
}

// Update applies a partial change to a visible document.
func (s *Service) Update(ctx context.Context, caller *models.User, id uuid.UUID, in UpdateInput) (*models.Document, error) {
	if !caller.Role.AtLeast(access.RoleFieldWorker) {
		return nil, fmt.Errorf("%w: viewers cannot edit documents", common.ErrForbidden)
	}

	err := s.db.Transaction(ctx, func(tx *models.DB) error {
		doc, err := tx.Documents.GetVisible(id, access.Scope(caller.Viewer()))
		if err != nil {
			return err
		}

		values := map[string]interface{}{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: name cannot be empty", common.ErrValidation)
			}
			values["name"] = name
		}
		if in.Description != nil {
			values["description"] = *in.Description
		}
		if in.Tags != nil {
			values["tags"] = models.StringList(*in.Tags)
		}
		if in.Status != nil {
			if !in.Status.Valid() {
				return fmt.Errorf("%w: unknown status %q", common.ErrValidation, *in.Status)
			}
			values["status"] = *in.Status
		}
		if in.ProjectID != nil {
			if err := requireProject(tx, *in.ProjectID); err != nil {
				return err
			}
			values["project_id"] = *in.ProjectID
		}

		category, adminOnly := doc.Category, doc.AdminOnly
		if in.Category != nil {
			if !in.Category.Valid() {
				return fmt.Errorf("%w: unknown category %q", common.ErrValidation, *in.Category)
			}
			category = *in.Category
			values["category"] = category
		}
		if in.AdminOnly != nil {
			adminOnly = *in.AdminOnly
			values["admin_only"] = adminOnly
		}
		if (in.Category != nil && category != doc.Category) || (in.AdminOnly != nil && adminOnly != doc.AdminOnly) {
			if err := checkAdminOnlyFields(caller, category, adminOnly); err != nil {
				return err
			}
			if doc.Category.Restricted() && !caller.Role.IsAdmin() {
				return fmt.Errorf("%w: only admins can reclassify restricted documents", common.ErrForbidden)
			}
		}

		if len(values) == 0 {
			return nil
		}
		if err := tx.Documents.UpdateColumns(doc.ID, values); err != nil {
			return err
		}
		if doc.Category.Restricted() && !category.Restricted() {
			return tx.Assignments.ReplaceForDocument(doc.ID, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.DocumentUpdated, id, caller.ID)
	return s.reload(ctx, id)
}

// ReplaceAssignments sets the exact assignee set of a restricted document.
// Only admins may call it.
func (s *Service) ReplaceAssignments(ctx context.Context, caller *models.User, id uuid.UUID, userIDs []int) (*models.Document, error) {
	if !caller.Role.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can assign documents", common.ErrForbidden)
	}

	err := s.db.Transaction(ctx, func(tx *models.DB) error {
		doc, err := tx.Documents.Get(id)
		if err != nil {
			return err
		}
		if err := validateAssignees(tx, doc.Category, userIDs); err != nil {
			return err
		}
		return tx.Assignments.ReplaceForDocument(doc.ID, userIDs)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.AssignmentsChanged, id, caller.ID)
	return s.reload(ctx, id)
}

// Reupload records a new file version for a visible document.
func (s *Service) Reupload(ctx context.Context, caller *models.User, id uuid.UUID, in ReuploadInput) (*models.DocumentRevision, error) {
	if !caller.Role.AtLeast(access.RoleFieldWorker) {
		return nil, fmt.Errorf("%w: viewers cannot upload documents", common.ErrForbidden)
	}
	if _, err := s.db.WithContext(ctx).Documents.GetVisible(id, access.Scope(caller.Viewer())); err != nil {
		return nil, err
	}
	if err := s.checkStorageKey(ctx, caller, in.StorageKey); err != nil {
		return nil, err
	}
	return s.tracker.RecordNewVersion(ctx, revisions.NewVersion{
		DocumentID:  id,
		StorageKey:  in.StorageKey,
		FileSize:    in.FileSize,
		ChangeNotes: in.ChangeNotes,
		UploaderID:  caller.ID,
	})
}

// Revisions lists the history of a visible document, newest first.
func (s *Service) Revisions(ctx context.Context, caller *models.User, id uuid.UUID, limit int) ([]models.DocumentRevision, error) {
	if _, err := s.db.WithContext(ctx).Documents.GetVisible(id, access.Scope(caller.Viewer())); err != nil {
		return nil, err
	}
	return s.tracker.List(ctx, id, limit)
}

// Revision returns one version of a visible document; version 0 means the
// current one.
func (s *Service) Revision(ctx context.Context, caller *models.User, id uuid.UUID, version int) (*models.DocumentRevision, error) {
	doc, err := s.db.WithContext(ctx).Documents.GetVisible(id, access.Scope(caller.Viewer()))
	if err != nil {
		return nil, err
	}
	if version == 0 {
		version = doc.CurrentVersion
	}
	return s.tracker.Get(ctx, id, version)
}

// DiscardUpload deletes a file the caller uploaded but never filed.
func (s *Service) DiscardUpload(ctx context.Context, caller *models.User, key string) error {
	if !storage.OwnedBy(key, caller.ID) {
		return fmt.Errorf("%w: file was uploaded by another user", common.ErrForbidden)
	}
	if s.files == nil {
		return fmt.Errorf("%w: no file store configured", common.ErrInternal)
	}

	n, err := models.Count[models.DocumentRevision](s.db.WithContext(ctx).DB, "storage_key = ?", key)
	if err != nil {
		return fmt.Errorf("check file use: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: file belongs to a document revision", common.ErrConflict)
	}

	if err := s.files.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	s.log.Info(ctx, "upload discarded", "storage_key", key, "user_id", caller.ID)
	return nil
}

// checkStorageKey accepts only files the caller uploaded. With a file store
// configured the object must also exist.
func (s *Service) checkStorageKey(ctx context.Context, caller *models.User, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: storage_key is required", common.ErrValidation)
	}
	if !storage.OwnedBy(key, caller.ID) {
		return fmt.Errorf("%w: storage_key was not uploaded by this user", common.ErrForbidden)
	}
	if s.files == nil {
		return nil
	}
	ok, err := s.files.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check file: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no uploaded file at storage_key", common.ErrValidation)
	}
	return nil
}

func (s *Service) reload(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	db := s.db.WithContext(ctx)
	doc, err := db.Documents.GetVisible(id)
	if err != nil {
		return nil, err
	}
	docs := []models.Document{*doc}
	if err := s.attachCounts(db, docs); err != nil {
		return nil, err
	}
	return &docs[0], nil
}

func (s *Service) publish(ctx context.Context, t events.Type, id uuid.UUID, actor int) {
	err := s.events.Publish(ctx, events.Event{Type: t, DocumentID: id, ActorID: actor, OccurredAt: time.Now().UTC()})
	if err != nil {
		s.log.Warn(ctx, "publish document event", "type", t, "document_id", id, "error", err)
	}
}

// checkAdminOnlyFields rejects non-admin callers that try to create or move
// a document into a state only admins can see or manage.
func checkAdminOnlyFields(caller *models.User, category models.Category, adminOnly bool) error {
	if caller.Role.IsAdmin() {
		return nil
	}
	if adminOnly {
		return fmt.Errorf("%w: only admins can mark documents admin-only", common.ErrForbidden)
	}
	if category.Restricted() {
		return fmt.Errorf("%w: only admins can file %s documents", common.ErrForbidden, category)
	}
	return nil
}

// validateAssignees accepts the whole list or nothing.
func validateAssignees(tx *models.DB, category models.Category, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	if !category.Restricted() {
		return fmt.Errorf("%w: assignees are only allowed for %s documents", common.ErrValidation, models.CategoryBlasting)
	}

	eligible, err := tx.Users.FindEligibleAssignees(ids)
	if err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}
	ok := make(map[int]bool, len(eligible))
	for _, u := range eligible {
		ok[u.ID] = true
	}

	var invalid []string
	for _, id := range ids {
		if !ok[id] {
			invalid = append(invalid, fmt.Sprint(id))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: invalid assignee ids: %s (each must be an active user with blaster certification)",
			common.ErrValidation, strings.Join(invalid, ", "))
	}
	return nil
}

func requireProject(tx *models.DB, id uuid.UUID) error {
	ok, err := tx.Projects.Exists(id)
	if err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: project %s does not exist", common.ErrValidation, id)
	}
	return nil
}
