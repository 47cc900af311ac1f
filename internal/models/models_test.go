package models_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionpro/internal/access"
	"constructionpro/internal/common"
	"constructionpro/internal/models"
	"constructionpro/internal/models/modelstest"
)

func strPtr(s string) *string { return &s }

func TestUserUpsertFromProvider(t *testing.T) {
	db := modelstest.New(t)

	u, err := db.Users.UpsertFromProvider(models.User{Provider: "google", ProviderID: "abc", Email: "a@example.com", Name: "A"})
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.Equal(t, access.RoleViewer, u.Role)

	require.NoError(t, db.Users.SetRole(u.ID, access.RoleForeman, true))

	again, err := db.Users.UpsertFromProvider(models.User{Provider: "google", ProviderID: "abc", Email: "new@example.com", Name: "A2"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "new@example.com", again.Email)
	assert.Equal(t, access.RoleForeman, again.Role)
	assert.True(t, again.IsBlaster)
}

func TestUserGetMissing(t *testing.T) {
	db := modelstest.New(t)

	_, err := db.Users.Get(999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFindEligibleAssignees(t *testing.T) {
	db := modelstest.New(t)
	blaster := modelstest.User(t, db, access.RoleForeman, true)
	plain := modelstest.User(t, db, access.RoleForeman, false)
	inactive := modelstest.User(t, db, access.RoleForeman, true)
	require.NoError(t, db.Users.Deactivate(inactive.ID))

	users, err := db.Users.FindEligibleAssignees([]int{blaster.ID, plain.ID, inactive.ID, 4242})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, blaster.ID, users[0].ID)
}

func TestAssignmentsReplace(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	a := modelstest.User(t, db, access.RoleFieldWorker, true)
	b := modelstest.User(t, db, access.RoleFieldWorker, true)
	doc := modelstest.Document(t, db, admin, models.CategoryBlasting, false, a.ID)

	require.NoError(t, db.Assignments.ReplaceForDocument(doc.ID, []int{b.ID, b.ID}))

	rows, err := db.Assignments.ListForDocument(doc.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b.ID, rows[0].UserID)
	require.NotNil(t, rows[0].User)
	assert.Equal(t, b.Email, rows[0].User.Email)
}

func TestDocumentPageAndCounts(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	project := modelstest.Project(t, db)

	for i := 0; i < 3; i++ {
		doc := modelstest.Document(t, db, admin, models.CategoryDrawings, false)
		require.NoError(t, db.Documents.UpdateColumns(doc.ID, map[string]interface{}{"project_id": project.ID}))
	}
	modelstest.Document(t, db, admin, models.CategoryPermits, false)

	docs, total, err := db.Documents.Page(0, 2, models.InProject(project.ID))
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, docs, 2)

	counts, err := db.Documents.CategoryCounts()
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts[models.CategoryDrawings])
	assert.EqualValues(t, 1, counts[models.CategoryPermits])
}

func TestDocumentScopes(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	blaster := modelstest.User(t, db, access.RoleForeman, true)

	assigned := modelstest.Document(t, db, admin, models.CategoryBlasting, false, blaster.ID)
	modelstest.Document(t, db, admin, models.CategoryBlasting, false)
	require.NoError(t, db.Documents.UpdateColumns(assigned.ID, map[string]interface{}{"name": "North Wall Shot Plan"}))

	docs, total, err := db.Documents.Page(0, 10, models.AssignedToAny([]int{blaster.ID}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, assigned.ID, docs[0].ID)
	assert.Equal(t, []int{blaster.ID}, docs[0].AssigneeIDs())

	_, total, err = db.Documents.Page(0, 10, models.NameContains("shot PLAN"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, err = db.Documents.GetVisible(assigned.ID, access.Scope(blaster.Viewer()))
	require.NoError(t, err)

	other := modelstest.User(t, db, access.RoleForeman, true)
	_, err = db.Documents.GetVisible(assigned.ID, access.Scope(other.Viewer()))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRevisionQueries(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	doc := modelstest.Document(t, db, admin, models.CategoryDrawings, false)

	max, err := db.Revisions.MaxVersion(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, max)

	max, err = db.Revisions.MaxVersion(uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 0, max)

	err = db.Revisions.Create(&models.DocumentRevision{DocumentID: doc.ID, Version: 1, StorageKey: "dup", UploadedBy: admin.ID})
	assert.ErrorIs(t, err, common.ErrConflict)

	counts, err := db.Revisions.CountByDocuments([]uuid.UUID{doc.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[doc.ID])
}

func TestAnnotationLinkedEntityRoundTrip(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	doc := modelstest.Document(t, db, admin, models.CategoryDrawings, false)

	pin := &models.Annotation{
		DocumentID: doc.ID,
		PageNumber: 2,
		X:          0.25,
		Y:          0.75,
		Kind:       models.KindRFI,
		CreatedBy:  admin.ID,
		Linked:     &models.LinkedEntity{Type: models.LinkedRFI, ID: "rfi-7", Title: "Beam depth", Status: "OPEN"},
	}
	require.NoError(t, db.Annotations.Create(pin))

	got, err := db.Annotations.Get(pin.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Linked)
	assert.Equal(t, *pin.Linked, *got.Linked)
	assert.Nil(t, got.Comment)

	got.Linked = nil
	got.Comment = strPtr("see detail 4")
	require.NoError(t, db.Annotations.Save(got))

	got, err = db.Annotations.Get(pin.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Linked)
	assert.Nil(t, got.LinkedType)
	assert.Equal(t, "see detail 4", *got.Comment)
}

func TestAnnotationResolutionAndDelete(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	doc := modelstest.Document(t, db, admin, models.CategoryDrawings, false)

	pin := &models.Annotation{DocumentID: doc.ID, PageNumber: 1, X: 0, Y: 1, Kind: models.KindComment, Comment: strPtr("x"), CreatedBy: admin.ID}
	require.NoError(t, db.Annotations.Create(pin))

	now := time.Now().UTC()
	require.NoError(t, db.Annotations.SetResolution(pin.ID, &now, &admin.ID))
	got, err := db.Annotations.Get(pin.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved())
	assert.Equal(t, admin.ID, *got.ResolvedBy)

	require.NoError(t, db.Annotations.Delete(pin.ID))
	assert.ErrorIs(t, db.Annotations.Delete(pin.ID), common.ErrNotFound)
	assert.ErrorIs(t, db.Annotations.SetResolution(pin.ID, nil, nil), common.ErrNotFound)
}

func TestAnnotationSaveLeavesResolutionAlone(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	doc := modelstest.Document(t, db, admin, models.CategoryDrawings, false)

	pin := &models.Annotation{DocumentID: doc.ID, PageNumber: 1, X: 0.5, Y: 0.5, Kind: models.KindComment, Comment: strPtr("x"), CreatedBy: admin.ID}
	require.NoError(t, db.Annotations.Create(pin))

	stale, err := db.Annotations.Get(pin.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Annotations.SetResolution(pin.ID, &now, &admin.ID))

	stale.X = 0.1
	require.NoError(t, db.Annotations.Save(stale))

	got, err := db.Annotations.Get(pin.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got.X)
	assert.True(t, got.IsResolved())
	assert.Equal(t, admin.ID, *got.ResolvedBy)

	// The same holds the other way round: a stale resolved copy cannot
	// bring back a cleared resolution.
	stale, err = db.Annotations.Get(pin.ID)
	require.NoError(t, err)
	require.NoError(t, db.Annotations.SetResolution(pin.ID, nil, nil))
	require.NoError(t, db.Annotations.Save(stale))

	got, err = db.Annotations.Get(pin.ID)
	require.NoError(t, err)
	assert.False(t, got.IsResolved())
	assert.Nil(t, got.ResolvedBy)
}

func TestAnnotationListOrdering(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	doc := modelstest.Document(t, db, admin, models.CategoryDrawings, false)

	base := time.Now().Add(-time.Hour)
	for i, page := range []int{3, 1, 1, 2} {
		pin := &models.Annotation{
			DocumentID: doc.ID, PageNumber: page, X: 0.5, Y: 0.5,
			Kind: models.KindComment, Comment: strPtr("c"), CreatedBy: admin.ID,
			Timestamps: models.Timestamps{CreatedAt: base.Add(time.Duration(i) * time.Minute)},
		}
		require.NoError(t, db.Annotations.Create(pin))
	}

	all, err := db.Annotations.ListForDocument(doc.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	pages := []int{all[0].PageNumber, all[1].PageNumber, all[2].PageNumber, all[3].PageNumber}
	assert.Equal(t, []int{1, 1, 2, 3}, pages)
	assert.True(t, all[0].CreatedAt.Before(all[1].CreatedAt))

	one := 1
	firstPage, err := db.Annotations.ListForDocument(doc.ID, &one)
	require.NoError(t, err)
	assert.Len(t, firstPage, 2)
}

func TestDeleteDocumentCascades(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)
	blaster := modelstest.User(t, db, access.RoleForeman, true)
	doc := modelstest.Document(t, db, admin, models.CategoryBlasting, false, blaster.ID)

	require.NoError(t, db.DB.Delete(&models.Document{}, "id = ?", doc.ID).Error)

	n, err := models.Count[models.DocumentAssignment](db.DB, "document_id = ?", doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = models.Count[models.DocumentRevision](db.DB, "document_id = ?", doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransactionRollsBack(t *testing.T) {
	db := modelstest.New(t)
	admin := modelstest.User(t, db, access.RoleAdmin, false)

	err := db.Transaction(t.Context(), func(tx *models.DB) error {
		doc := &models.Document{Name: "tmp", Category: models.CategoryOther, StorageKey: "k", CurrentVersion: 1, UploadedBy: admin.ID}
		require.NoError(t, tx.Documents.Create(doc))
		return common.ErrValidation
	})
	assert.ErrorIs(t, err, common.ErrValidation)

	n, err := models.Count[models.Document](db.DB)
	require.NoError(t, err)
	assert.Zero(t, n)
}
