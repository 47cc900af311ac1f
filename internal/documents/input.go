package documents

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"constructionpro/internal/common"
	"constructionpro/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ListFilter narrows a document listing. Every field is optional.
type ListFilter struct {
	ProjectID       *uuid.UUID
	Category        *models.Category
	Search          string
	AssignedTo      []int
	IncludeArchived bool
	Page            int
	Limit           int
}

func (f *ListFilter) normalize() error {
	if f.Category != nil && !f.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", common.ErrValidation, *f.Category)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	return nil
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type ListResult struct {
	Documents      []models.Document          `json:"documents"`
	Pagination     Pagination                 `json:"pagination"`
	CategoryCounts map[models.Category]int64 `json:"category_counts"`
}

type MetadataInput struct {
	SheetNumber   string `json:"sheet_number" binding:"max=64"`
	Discipline    string `json:"discipline" binding:"max=64"`
	Scale         string `json:"scale" binding:"max=64"`
	PageCount     *int   `json:"page_count" binding:"omitempty,min=1"`
	RevisionLabel string `json:"revision_label" binding:"max=64"`
}

// CreateInput is the typed form of a document creation request.
type CreateInput struct {
	ProjectID   *uuid.UUID      `json:"project_id"`
	Name        string          `json:"name" binding:"required,min=1,max=255"`
	StorageKey  string          `json:"storage_key" binding:"required"`
	FileSize    int64           `json:"file_size" binding:"min=0"`
	MimeType    string          `json:"mime_type" binding:"max=255"`
	Category    models.Category `json:"category"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags" binding:"max=50,dive,max=64"`
	Latitude    *float64        `json:"latitude" binding:"omitempty,min=-90,max=90"`
	Longitude   *float64        `json:"longitude" binding:"omitempty,min=-180,max=180"`
	AdminOnly   bool            `json:"admin_only"`
	AssigneeIDs []int           `json:"assignee_ids"`
	Metadata    *MetadataInput  `json:"metadata"`
}

func (in *CreateInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.StorageKey = strings.TrimSpace(in.StorageKey)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", common.ErrValidation)
	}
	if in.StorageKey == "" {
		return fmt.Errorf("%w: storage_key is required", common.ErrValidation)
	}
	if in.Category == "" {
		in.Category = models.CategoryOther
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", common.ErrValidation, in.Category)
	}
	if err := validateCoordinates(in.Latitude, in.Longitude); err != nil {
		return err
	}
	if in.Metadata != nil && in.Metadata.PageCount != nil && *in.Metadata.PageCount < 1 {
		return fmt.Errorf("%w: page_count must be at least 1", common.ErrValidation)
	}
	return nil
}

func validateCoordinates(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return fmt.Errorf("%w: latitude and longitude must be given together", common.ErrValidation)
	}
	if lat != nil && (*lat < -90 || *lat > 90) {
		return fmt.Errorf("%w: latitude out of range", common.ErrValidation)
	}
	if lng != nil && (*lng < -180 || *lng > 180) {
		return fmt.Errorf("%w: longitude out of range", common.ErrValidation)
	}
	return nil
}

// UpdateInput carries a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name        *string                `json:"name" binding:"omitempty,min=1,max=255"`
	Description *string                `json:"description"`
	Tags        *[]string              `json:"tags"`
	Category    *models.Category       `json:"category"`
	Status      *models.DocumentStatus `json:"status"`
	AdminOnly   *bool                  `json:"admin_only"`
	ProjectID   *uuid.UUID             `json:"project_id"`
}

// ReuploadInput describes a new file for an existing document.
type ReuploadInput struct {
	StorageKey  string `json:"storage_key" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"min=0"`
	ChangeNotes string `json:"change_notes" binding:"max=2000"`
}
