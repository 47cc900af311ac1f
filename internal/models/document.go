package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Document is a file registered against a project.
type Document struct {
	UUIDModel
	ProjectID      *uuid.UUID     `gorm:"type:uuid;column:project_id;index" json:"project_id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	Description    string         `gorm:"column:description" json:"description"`
	Category       Category       `gorm:"column:category;type:varchar(32);not null;index" json:"category"`
	StorageKey     string         `gorm:"column:storage_key;not null" json:"storage_key"`
	FileSize       int64          `gorm:"column:file_size" json:"file_size"`
	MimeType       string         `gorm:"column:mime_type" json:"mime_type"`
	Tags           StringList     `gorm:"column:tags;type:jsonb" json:"tags"`
	Latitude       *float64       `gorm:"column:latitude" json:"latitude"`
	Longitude      *float64       `gorm:"column:longitude" json:"longitude"`
	AdminOnly      bool           `gorm:"column:admin_only;not null" json:"admin_only"`
	CurrentVersion int            `gorm:"column:current_version;not null" json:"current_version"`
	Status         DocumentStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	UploadedBy     int            `gorm:"column:uploaded_by;not null" json:"uploaded_by"`
	Timestamps

	// Associations
	Project     *Project             `gorm:"foreignKey:ProjectID;constraint:OnDelete:SET NULL" json:"-"`
	Assignments []DocumentAssignment `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"assignments"`
	Metadata    *DocumentMetadata    `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"metadata,omitempty"`

	// Computed per listing
	RevisionCount   int64              `gorm:"-" json:"revision_count"`
	AnnotationCount int64              `gorm:"-" json:"annotation_count"`
	RecentRevisions []DocumentRevision `gorm:"-" json:"recent_revisions,omitempty"`
}

func (Document) TableName() string {
	return "documents"
}

// AssigneeIDs returns the ids of the loaded assignments.
func (d *Document) AssigneeIDs() []int {
	ids := make([]int, 0, len(d.Assignments))
	for _, a := range d.Assignments {
		ids = append(ids, a.UserID)
	}
	return ids
}

// Document filter scopes

func InProject(id uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("documents.project_id = ?", id)
	}
}

func InCategory(c Category) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("documents.category = ?", c)
	}
}

func WithStatus(s DocumentStatus) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("documents.status = ?", s)
	}
}

// NameContains is a case-insensitive substring match on the document name.
func NameContains(s string) func(*gorm.DB) *gorm.DB {
	pattern := "%" + strings.ToLower(s) + "%"
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("LOWER(documents.name) LIKE ?", pattern)
	}
}

// AssignedToAny keeps documents assigned to at least one of userIDs.
func AssignedToAny(userIDs []int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		sub := db.Session(&gorm.Session{NewDB: true}).
			Table("document_assignments").
			Select("1").
			Where("document_assignments.document_id = documents.id").
			Where("document_assignments.user_id IN ?", userIDs)
		return db.Where("EXISTS (?)", sub)
	}
}

// DocumentManager provides Django-like ORM methods for Document
type DocumentManager struct {
	db *gorm.DB
}

func NewDocumentManager(db *gorm.DB) *DocumentManager {
	return &DocumentManager{db: db}
}

// Create inserts the document row only; assignments and metadata are
// written by their own managers.
func (m *DocumentManager) Create(doc *Document) error {
	if doc.Status == "" {
		doc.Status = DocumentActive
	}
	return translate(m.db.Omit(clause.Associations).Create(doc).Error)
}

// Get retrieves a document by ID regardless of visibility.
func (m *DocumentManager) Get(id uuid.UUID) (*Document, error) {
	return GetObjectOr404[Document](m.db, "id = ?", id)
}

// GetVisible retrieves a document through the given scopes, with its
// assignments and metadata preloaded.
func (m *DocumentManager) GetVisible(id uuid.UUID, scopes ...func(*gorm.DB) *gorm.DB) (*Document, error) {
	return GetObjectOr404[Document](
		m.db.Scopes(scopes...).
			Preload("Assignments", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
			Preload("Assignments.User").
			Preload("Metadata"),
		"documents.id = ?", id,
	)
}

// GetForUpdate reads the document row holding a row lock until the
// surrounding transaction ends.
func (m *DocumentManager) GetForUpdate(id uuid.UUID) (*Document, error) {
	return GetObjectOr404[Document](
		m.db.Clauses(clause.Locking{Strength: "UPDATE"}),
		"id = ?", id,
	)
}

// Page returns one page of documents matching scopes, newest first, along
// with the total number of matches.
func (m *DocumentManager) Page(offset, limit int, scopes ...func(*gorm.DB) *gorm.DB) ([]Document, int64, error) {
	var total int64
	if err := m.db.Model(&Document{}).Scopes(scopes...).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var docs []Document
	err := m.db.Scopes(scopes...).
		Preload("Assignments", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		Preload("Assignments.User").
		Order("documents.created_at DESC").
		Order("documents.id").
		Offset(offset).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// CategoryCounts groups the documents matching scopes by category.
func (m *DocumentManager) CategoryCounts(scopes ...func(*gorm.DB) *gorm.DB) (map[Category]int64, error) {
	var rows []struct {
		Category Category
		Count    int64
	}
	err := m.db.Model(&Document{}).
		Scopes(scopes...).
		Select("documents.category AS category, COUNT(*) AS count").
		Group("documents.category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[Category]int64, len(rows))
	for _, r := range rows {
		counts[r.Category] = r.Count
	}
	return counts, nil
}

// UpdateColumns applies a partial update to one document.
func (m *DocumentManager) UpdateColumns(id uuid.UUID, values map[string]interface{}) error {
	values["updated_at"] = time.Now()
	res := m.db.Model(&Document{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}

// SetCurrentRevision points the document at its latest file.
func (m *DocumentManager) SetCurrentRevision(id uuid.UUID, version int, storageKey string, fileSize int64) error {
	return m.UpdateColumns(id, map[string]interface{}{
		"current_version": version,
		"storage_key":     storageKey,
		"file_size":       fileSize,
	})
}
