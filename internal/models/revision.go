package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentRevision is one immutable version of a document's file. Only the
// IsLatest pointer changes after insert.
type DocumentRevision struct {
	UUIDModel
	DocumentID  uuid.UUID `gorm:"type:uuid;column:document_id;not null;uniqueIndex:idx_document_revisions_version" json:"document_id"`
	Version     int       `gorm:"column:version;not null;uniqueIndex:idx_document_revisions_version" json:"version"`
	StorageKey  string    `gorm:"column:storage_key;not null" json:"storage_key"`
	FileSize    int64     `gorm:"column:file_size" json:"file_size"`
	ChangeNotes string    `gorm:"column:change_notes" json:"change_notes"`
	UploadedBy  int       `gorm:"column:uploaded_by;not null" json:"uploaded_by"`
	IsLatest    bool      `gorm:"column:is_latest;not null" json:"is_latest"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`

	Document *Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (DocumentRevision) TableName() string {
	return "document_revisions"
}

// RevisionManager provides Django-like ORM methods for DocumentRevision
type RevisionManager struct {
	db *gorm.DB
}

func NewRevisionManager(db *gorm.DB) *RevisionManager {
	return &RevisionManager{db: db}
}

func (m *RevisionManager) Create(rev *DocumentRevision) error {
	return translate(m.db.Omit("Document").Create(rev).Error)
}

// MaxVersion returns the highest recorded version, or 0 when none exist.
func (m *RevisionManager) MaxVersion(documentID uuid.UUID) (int, error) {
	var max int
	err := m.db.Model(&DocumentRevision{}).
		Where("document_id = ?", documentID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	return max, err
}

// ClearLatest unsets IsLatest on every revision of the document.
func (m *RevisionManager) ClearLatest(documentID uuid.UUID) error {
	return m.db.Model(&DocumentRevision{}).
		Where("document_id = ? AND is_latest = ?", documentID, true).
		Update("is_latest", false).Error
}

// ListForDocument returns revisions newest first. A non-positive limit
// returns all of them.
func (m *RevisionManager) ListForDocument(documentID uuid.UUID, limit int) ([]DocumentRevision, error) {
	var revs []DocumentRevision
	q := m.db.Where("document_id = ?", documentID).Order("version DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&revs).Error
	return revs, err
}

// GetVersion retrieves one revision of a document.
func (m *RevisionManager) GetVersion(documentID uuid.UUID, version int) (*DocumentRevision, error) {
	return GetObjectOr404[DocumentRevision](m.db, "document_id = ? AND version = ?", documentID, version)
}

func (m *RevisionManager) Exists(documentID uuid.UUID) (bool, error) {
	return Exists[DocumentRevision](m.db, "document_id = ?", documentID)
}

// CountByDocuments returns the number of revisions per document.
func (m *RevisionManager) CountByDocuments(ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	return countByDocument(m.db.Model(&DocumentRevision{}), ids)
}

func countByDocument(q *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	var rows []struct {
		DocumentID uuid.UUID
		Count      int64
	}
	err := q.Select("document_id, COUNT(*) AS count").
		Where("document_id IN ?", ids).
		Group("document_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.DocumentID] = r.Count
	}
	return counts, nil
}
