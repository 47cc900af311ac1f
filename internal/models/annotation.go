package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Linked entity types
const (
	LinkedIssue     = "issue"
	LinkedRFI       = "rfi"
	LinkedPunchList = "punchList"
)

// LinkedEntity references a tracked item the pin points at.
type LinkedEntity struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Annotation is a pin placed on one page of a document.
type Annotation struct {
	UUIDModel
	DocumentID uuid.UUID      `gorm:"type:uuid;column:document_id;not null;index:idx_annotations_document_page" json:"document_id"`
	PageNumber int            `gorm:"column:page_number;not null;index:idx_annotations_document_page" json:"page_number"`
	X          float64        `gorm:"column:x;not null" json:"x"`
	Y          float64        `gorm:"column:y;not null" json:"y"`
	Kind       AnnotationKind `gorm:"column:kind;type:varchar(20);not null" json:"kind"`
	Label      *string        `gorm:"column:label" json:"label"`
	Comment    *string        `gorm:"column:comment" json:"comment"`
	CreatedBy  int            `gorm:"column:created_by;not null" json:"created_by"`
	ResolvedAt *time.Time     `gorm:"column:resolved_at" json:"resolved_at"`
	ResolvedBy *int           `gorm:"column:resolved_by" json:"resolved_by"`
	Timestamps

	// Linked entity columns are null together.
	LinkedType   *string `gorm:"column:linked_type" json:"-"`
	LinkedID     *string `gorm:"column:linked_id" json:"-"`
	LinkedTitle  *string `gorm:"column:linked_title" json:"-"`
	LinkedStatus *string `gorm:"column:linked_status" json:"-"`

	Linked *LinkedEntity `gorm:"-" json:"linked_entity"`

	Document *Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Annotation) TableName() string {
	return "annotations"
}

// IsResolved reports whether the pin carries a resolution.
func (a *Annotation) IsResolved() bool {
	return a.ResolvedAt != nil
}

// BeforeSave flattens Linked into its columns.
func (a *Annotation) BeforeSave(tx *gorm.DB) error {
	if a.Linked == nil {
		a.LinkedType, a.LinkedID, a.LinkedTitle, a.LinkedStatus = nil, nil, nil, nil
		return nil
	}
	l := *a.Linked
	a.LinkedType, a.LinkedID, a.LinkedTitle, a.LinkedStatus = &l.Type, &l.ID, &l.Title, &l.Status
	return nil
}

// AfterFind rebuilds Linked from its columns.
func (a *Annotation) AfterFind(tx *gorm.DB) error {
	if a.LinkedType == nil {
		a.Linked = nil
		return nil
	}
	a.Linked = &LinkedEntity{
		Type:   *a.LinkedType,
		ID:     deref(a.LinkedID),
		Title:  deref(a.LinkedTitle),
		Status: deref(a.LinkedStatus),
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// AnnotationManager provides Django-like ORM methods for Annotation
type AnnotationManager struct {
	db *gorm.DB
}

func NewAnnotationManager(db *gorm.DB) *AnnotationManager {
	return &AnnotationManager{db: db}
}

func (m *AnnotationManager) Create(a *Annotation) error {
	return translate(m.db.Omit("Document").Create(a).Error)
}

func (m *AnnotationManager) Get(id uuid.UUID) (*Annotation, error) {
	return GetObjectOr404[Annotation](m.db, "id = ?", id)
}

// ListForDocument returns a document's pins ordered by page, then creation
// time. A nil page returns every page.
func (m *AnnotationManager) ListForDocument(documentID uuid.UUID, page *int) ([]Annotation, error) {
	q := m.db.Where("document_id = ?", documentID)
	if page != nil {
		q = q.Where("page_number = ?", *page)
	}

	var rows []Annotation
	err := q.Order("page_number").Order("created_at").Order("id").Find(&rows).Error
	return rows, err
}

// Save writes the editable columns of a; the last writer wins. The
// resolution columns belong to SetResolution and are never written here.
func (m *AnnotationManager) Save(a *Annotation) error {
	return translate(m.db.Omit("Document", "resolved_at", "resolved_by").Save(a).Error)
}

// SetResolution writes both resolution columns in a single UPDATE.
func (m *AnnotationManager) SetResolution(id uuid.UUID, at *time.Time, by *int) error {
	res := m.db.Model(&Annotation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"resolved_at": at,
		"resolved_by": by,
		"updated_at":  time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}

// Delete removes an annotation permanently.
func (m *AnnotationManager) Delete(id uuid.UUID) error {
	res := m.db.Where("id = ?", id).Delete(&Annotation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}

// CountByDocuments returns the number of pins per document.
func (m *AnnotationManager) CountByDocuments(ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	return countByDocument(m.db.Model(&Annotation{}), ids)
}
