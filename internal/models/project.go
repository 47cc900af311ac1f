package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project groups documents; only the fields the document engine reads are mapped.
type Project struct {
	UUIDModel
	Name   string        `gorm:"column:name;not null" json:"name"`
	Status ProjectStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Timestamps
}

func (Project) TableName() string {
	return "projects"
}

// ProjectManager provides Django-like ORM methods for Project
type ProjectManager struct {
	db *gorm.DB
}

func NewProjectManager(db *gorm.DB) *ProjectManager {
	return &ProjectManager{db: db}
}

func (m *ProjectManager) Create(project *Project) error {
	if project.Status == "" {
		project.Status = ProjectActive
	}
	return translate(m.db.Create(project).Error)
}

func (m *ProjectManager) Get(id uuid.UUID) (*Project, error) {
	return GetObjectOr404[Project](m.db, "id = ?", id)
}

func (m *ProjectManager) Exists(id uuid.UUID) (bool, error) {
	return Exists[Project](m.db, "id = ?", id)
}
