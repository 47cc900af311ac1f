package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentAssignment grants a user access to a restricted document.
type DocumentAssignment struct {
	UUIDModel
	DocumentID uuid.UUID `gorm:"type:uuid;column:document_id;not null;uniqueIndex:idx_document_assignments_pair" json:"document_id"`
	UserID     int       `gorm:"column:user_id;not null;uniqueIndex:idx_document_assignments_pair;index" json:"user_id"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

func (DocumentAssignment) TableName() string {
	return "document_assignments"
}

// AssignmentManager provides Django-like ORM methods for DocumentAssignment
type AssignmentManager struct {
	db *gorm.DB
}

func NewAssignmentManager(db *gorm.DB) *AssignmentManager {
	return &AssignmentManager{db: db}
}

// ReplaceForDocument makes userIDs the exact assignee set of a document.
// Run it inside a transaction.
func (m *AssignmentManager) ReplaceForDocument(documentID uuid.UUID, userIDs []int) error {
	if err := m.db.Where("document_id = ?", documentID).Delete(&DocumentAssignment{}).Error; err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}

	rows := make([]DocumentAssignment, 0, len(userIDs))
	seen := make(map[int]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, DocumentAssignment{DocumentID: documentID, UserID: id})
	}
	return BulkCreate(m.db.Omit(clause.Associations), rows)
}

// ListForDocument returns the assignments of a document with their users.
func (m *AssignmentManager) ListForDocument(documentID uuid.UUID) ([]DocumentAssignment, error) {
	var rows []DocumentAssignment
	err := m.db.Preload("User").
		Where("document_id = ?", documentID).
		Order("user_id").
		Find(&rows).Error
	return rows, err
}
