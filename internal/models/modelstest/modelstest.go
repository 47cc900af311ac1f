// Package modelstest provides in-memory databases and fixtures for tests
// that exercise the GORM models.
package modelstest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"constructionpro/internal/access"
	"constructionpro/internal/models"
)

var seq atomic.Int64

// New returns a migrated in-memory database closed at test cleanup. The pool
// holds a single connection so every query sees the same database.
func New(t testing.TB) *models.DB {
	t.Helper()

	db, err := models.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), logger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// User inserts an active user with the given role.
func User(t testing.TB, db *models.DB, role access.Role, blaster bool) *models.User {
	t.Helper()

	n := seq.Add(1)
	u := &models.User{
		Provider:   "google",
		ProviderID: fmt.Sprintf("provider-%d", n),
		Email:      fmt.Sprintf("user%d@example.com", n),
		Name:       fmt.Sprintf("User %d", n),
		Role:       role,
		IsBlaster:  blaster,
		IsActive:   true,
	}
	require.NoError(t, db.Users.Create(u))
	return u
}

// Project inserts an active project.
func Project(t testing.TB, db *models.DB) *models.Project {
	t.Helper()

	p := &models.Project{Name: fmt.Sprintf("Project %d", seq.Add(1))}
	require.NoError(t, db.Projects.Create(p))
	return p
}

// Document inserts a document at version 1 with a matching revision row.
// Assignees are written as given.
func Document(t testing.TB, db *models.DB, uploader *models.User, category models.Category, adminOnly bool, assignees ...int) *models.Document {
	t.Helper()

	key := fmt.Sprintf("documents/%d/%s/plan.pdf", uploader.ID, uuid.NewString())
	doc := &models.Document{
		Name:           fmt.Sprintf("Document %d", seq.Add(1)),
		Category:       category,
		StorageKey:     key,
		FileSize:       1024,
		MimeType:       "application/pdf",
		AdminOnly:      adminOnly,
		CurrentVersion: 1,
		UploadedBy:     uploader.ID,
	}
	require.NoError(t, db.Documents.Create(doc))
	require.NoError(t, db.Revisions.Create(&models.DocumentRevision{
		DocumentID: doc.ID,
		Version:    1,
		StorageKey: key,
		FileSize:   1024,
		UploadedBy: uploader.ID,
		IsLatest:   true,
	}))
	require.NoError(t, db.Assignments.ReplaceForDocument(doc.ID, assignees))
	return doc
}
