package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"constructionpro/internal/access"
)

// Custom types to match the PostgreSQL check constraints
type Category string
type DocumentStatus string
type ProjectStatus string
type AnnotationKind string

const (
	// Document categories
	CategoryDrawings       Category = "DRAWINGS"
	CategorySpecifications Category = "SPECIFICATIONS"
	CategoryContracts      Category = "CONTRACTS"
	CategoryPermits        Category = "PERMITS"
	CategoryPhotos         Category = "PHOTOS"
	CategoryReports        Category = "REPORTS"
	CategorySafety         Category = "SAFETY"
	CategoryBlasting       Category = access.RestrictedCategory
	CategoryOther          Category = "OTHER"

	// Document status
	DocumentActive   DocumentStatus = "ACTIVE"
	DocumentArchived DocumentStatus = "ARCHIVED"

	// Project status
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"

	// Annotation kinds
	KindComment   AnnotationKind = "COMMENT"
	KindIssue     AnnotationKind = "ISSUE"
	KindRFI       AnnotationKind = "RFI"
	KindPunchList AnnotationKind = "PUNCH_LIST"
)

var Categories = []Category{
	CategoryDrawings, CategorySpecifications, CategoryContracts, CategoryPermits,
	CategoryPhotos, CategoryReports, CategorySafety, CategoryBlasting, CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Restricted reports whether c is the category gated by explicit assignment.
func (c Category) Restricted() bool {
	return c == CategoryBlasting
}

func (s DocumentStatus) Valid() bool {
	return s == DocumentActive || s == DocumentArchived
}

func (k AnnotationKind) Valid() bool {
	switch k {
	case KindComment, KindIssue, KindRFI, KindPunchList:
		return true
	}
	return false
}

// UUIDModel gives a model a client-generated UUID primary key.
type UUIDModel struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
}

// BeforeCreate hook for UUID generation
func (m *UUIDModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Timestamps contains the common bookkeeping columns.
type Timestamps struct {
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// JSONB handles JSON object storage
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("unsupported type for JSONB")
	}
}

// StringList stores a list of strings as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	default:
		return errors.New("unsupported type for StringList")
	}
}
