package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentMetadata holds drawing-specific attributes.
type DocumentMetadata struct {
	DocumentID    uuid.UUID `gorm:"type:uuid;column:document_id;primaryKey" json:"-"`
	SheetNumber   string    `gorm:"column:sheet_number" json:"sheet_number,omitempty"`
	Discipline    string    `gorm:"column:discipline" json:"discipline,omitempty"`
	Scale         string    `gorm:"column:scale" json:"scale,omitempty"`
	PageCount     *int      `gorm:"column:page_count" json:"page_count,omitempty"`
	RevisionLabel string    `gorm:"column:revision_label" json:"revision_label,omitempty"`
}

func (DocumentMetadata) TableName() string {
	return "document_metadata"
}

type MetadataManager struct {
	db *gorm.DB
}

func NewMetadataManager(db *gorm.DB) *MetadataManager {
	return &MetadataManager{db: db}
}

// Upsert writes the metadata row, replacing any existing one.
func (m *MetadataManager) Upsert(meta *DocumentMetadata) error {
	return translate(m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		UpdateAll: true,
	}).Create(meta).Error)
}

func (m *MetadataManager) Get(documentID uuid.UUID) (*DocumentMetadata, error) {
	return GetObjectOr404[DocumentMetadata](m.db, "document_id = ?", documentID)
}
