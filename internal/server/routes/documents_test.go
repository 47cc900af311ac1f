package routes_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionpro/internal/access"
	"constructionpro/internal/documents"
	"constructionpro/internal/models"
	"constructionpro/internal/models/modelstest"
	"constructionpro/internal/storage"
)

var pdf = []byte("%PDF-1.7\nshot pattern")

func TestRequiresSession(t *testing.T) {
	s := newTestServer(t)
	anon := s.anonymous(t)

	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/documents", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/user", nil).Code)

	gone := modelstest.User(t, s.db, access.RoleForeman, false)
	require.NoError(t, s.db.Users.Deactivate(gone.ID))
	assert.Equal(t, http.StatusUnauthorized, s.as(t, gone).do(http.MethodGet, "/api/documents", nil).Code)
}

// A restricted document followed from creation to annotation resolution.
func TestRestrictedDocumentLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := s.as(t, modelstest.User(t, s.db, access.RoleAdmin, false))
	userX := modelstest.User(t, s.db, access.RoleForeman, true)
	x := s.as(t, userX)
	y := s.as(t, modelstest.User(t, s.db, access.RoleForeman, true))
	z := s.as(t, modelstest.User(t, s.db, access.RoleSuperintendent, false))

	rec := admin.upload("shot-14.pdf", pdf)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	uploaded := decode[storage.UploadResult](t, rec)

	rec = admin.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"name":         "Shot 14 blast plan",
		"storage_key":  uploaded.Key,
		"file_size":    uploaded.FileSize,
		"mime_type":    uploaded.MimeType,
		"category":     "BLASTING",
		"assignee_ids": []int{userX.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[documentResponse](t, rec).Document
	assert.Equal(t, 1, doc.CurrentVersion)
	docPath := "/api/documents/" + doc.ID.String()

	for name, c := range map[string]*client{"admin": admin, "assignee": x} {
		assert.Equal(t, http.StatusOK, c.do(http.MethodGet, docPath, nil).Code, name)
		list := decode[documents.ListResult](t, c.do(http.MethodGet, "/api/documents", nil))
		assert.Len(t, list.Documents, 1, name)
		assert.EqualValues(t, 1, list.CategoryCounts[models.CategoryBlasting], name)
	}
	for name, c := range map[string]*client{"unassigned blaster": y, "no special access": z} {
		assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, docPath, nil).Code, name)
		list := decode[documents.ListResult](t, c.do(http.MethodGet, "/api/documents?category=blasting", nil))
		assert.Empty(t, list.Documents, name)
		assert.Zero(t, list.CategoryCounts[models.CategoryBlasting], name)
		assert.Zero(t, list.Pagination.Total, name)
	}

	rec = x.do(http.MethodPost, docPath+"/revisions", map[string]interface{}{"storage_key": uploaded.Key})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the uploader may file a storage key")

	rec = x.upload("shot-14-rev.pdf", pdf)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[storage.UploadResult](t, rec)

	rec = x.do(http.MethodPost, docPath+"/revisions", map[string]interface{}{
		"storage_key":  second.Key,
		"change_notes": "moved hole 3",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	history := decode[struct {
		Revisions []models.DocumentRevision `json:"revisions"`
	}](t, admin.do(http.MethodGet, docPath+"/revisions", nil)).Revisions
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.True(t, history[0].IsLatest)
	assert.Equal(t, 1, history[1].Version)
	assert.Equal(t, uploaded.Key, history[1].StorageKey)

	got := decode[documentResponse](t, admin.do(http.MethodGet, docPath, nil)).Document
	assert.Equal(t, 2, got.CurrentVersion)
	require.Len(t, got.RecentRevisions, 2)
	assert.Equal(t, second.Key, got.RecentRevisions[0].StorageKey)

	link := decode[struct {
		URL     string `json:"url"`
		Version int    `json:"version"`
	}](t, admin.do(http.MethodGet, docPath+"/download?version=1", nil))
	assert.Equal(t, 1, link.Version)
	assert.Contains(t, link.URL, uploaded.Key)

	rec = x.do(http.MethodPost, docPath+"/annotations", map[string]interface{}{
		"page_number": 1,
		"x":           0.5,
		"y":           0.5,
		"kind":        "PUNCH_LIST",
		"linked_entity": map[string]string{
			"type": "punchList", "id": "PL-88", "title": "Re-drill hole 3", "status": "open",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pin := decode[annotationResponse](t, rec).Annotation
	pinPath := "/api/annotations/" + pin.ID.String()

	assert.Equal(t, http.StatusNotFound, y.do(http.MethodGet, docPath+"/annotations", nil).Code)
	assert.Equal(t, http.StatusNotFound, y.do(http.MethodPost, pinPath+"/resolve", nil).Code)

	for i := 0; i < 2; i++ {
		rec = x.do(http.MethodPost, pinPath+"/resolve", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resolved := decode[annotationResponse](t, rec).Annotation
		require.NotNil(t, resolved.ResolvedAt)
		require.NotNil(t, resolved.ResolvedBy)
		assert.Equal(t, userX.ID, *resolved.ResolvedBy)
	}

	rec = x.do(http.MethodPost, pinPath+"/unresolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decode[annotationResponse](t, rec).Annotation
	assert.Nil(t, open.ResolvedAt)
	assert.Nil(t, open.ResolvedBy)

	list := decode[struct {
		Annotations []models.Annotation `json:"annotations"`
	}](t, admin.do(http.MethodGet, docPath+"/annotations?page=1", nil)).Annotations
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Linked)
	assert.Equal(t, "PL-88", list[0].Linked.ID)
}

func TestCreateDocumentRequestValidation(t *testing.T) {
	s := newTestServer(t)
	admin := s.as(t, modelstest.User(t, s.db, access.RoleAdmin, false))
	uncertified := modelstest.User(t, s.db, access.RoleForeman, false)

	rec := admin.do(http.MethodPost, "/api/documents", map[string]interface{}{"name": "No file"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	uploaded := decode[storage.UploadResult](t, admin.upload("shot.pdf", pdf))
	rec = admin.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"name": "Shot", "storage_key": uploaded.Key, "category": "BLASTING", "assignee_ids": []int{uncertified.ID, 9999},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	msg := decode[map[string]string](t, rec)["error"]
	assert.Contains(t, msg, fmt.Sprint(uncertified.ID))
	assert.Contains(t, msg, "9999")

	rec = admin.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"name": "Pinned", "storage_key": "k", "latitude": 120.0, "longitude": 10.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	viewer := s.as(t, modelstest.User(t, s.db, access.RoleViewer, false))
	rec = viewer.do(http.MethodPost, "/api/documents", map[string]interface{}{"name": "Plan", "storage_key": "k"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListQueryValidation(t *testing.T) {
	s := newTestServer(t)
	c := s.as(t, modelstest.User(t, s.db, access.RoleForeman, false))

	for _, q := range []string{"project_id=nope", "assigned_to=1,x", "page=-1", "category=MEMES"} {
		rec := c.do(http.MethodGet, "/api/documents?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := c.do(http.MethodGet, "/api/documents?limit=5&page=2&search=plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[documents.ListResult](t, rec)
	assert.Equal(t, 2, res.Pagination.Page)
	assert.Equal(t, 5, res.Pagination.Limit)
}

func TestDocumentByIDErrors(t *testing.T) {
	s := newTestServer(t)
	c := s.as(t, modelstest.User(t, s.db, access.RoleForeman, false))

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/documents/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/documents/"+uuid.NewString(), nil).Code)
}

func TestUpdateAndAssignments(t *testing.T) {
	s := newTestServer(t)
	adminUser := modelstest.User(t, s.db, access.RoleAdmin, false)
	admin := s.as(t, adminUser)
	blaster := modelstest.User(t, s.db, access.RoleFieldWorker, true)
	foreman := s.as(t, modelstest.User(t, s.db, access.RoleForeman, false))
	doc := modelstest.Document(t, s.db, adminUser, models.CategoryBlasting, false)
	path := "/api/documents/" + doc.ID.String()

	rec := foreman.do(http.MethodPut, path+"/assignments", map[string]interface{}{"assignee_ids": []int{blaster.ID}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(http.MethodPut, path+"/assignments", map[string]interface{}{"assignee_ids": []int{blaster.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assigned := decode[documentResponse](t, rec).Document
	assert.Equal(t, []int{blaster.ID}, assigned.AssigneeIDs())

	rec = s.as(t, blaster).do(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.as(t, blaster).do(http.MethodGet, path+"/assignments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[struct {
		Assignments []models.DocumentAssignment `json:"assignments"`
	}](t, rec).Assignments
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].User)
	assert.Equal(t, blaster.Email, rows[0].User.Email)
	assert.Equal(t, http.StatusNotFound, foreman.do(http.MethodGet, path+"/assignments", nil).Code)

	rec = admin.do(http.MethodPatch, path, map[string]interface{}{"name": "Shot 15", "status": "ARCHIVED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[documentResponse](t, rec).Document
	assert.Equal(t, "Shot 15", updated.Name)
	assert.Equal(t, models.DocumentArchived, updated.Status)

	rec = admin.do(http.MethodPatch, path, map[string]interface{}{"status": "SHREDDED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadEncryptedFileIsStreamed(t *testing.T) {
	s := newTestServer(t)
	s.files.encrypted = true
	user := modelstest.User(t, s.db, access.RoleForeman, false)
	c := s.as(t, user)

	uploaded := decode[storage.UploadResult](t, c.upload("plan.pdf", pdf))
	rec := c.do(http.MethodPost, "/api/documents", map[string]interface{}{"name": "Plan", "storage_key": uploaded.Key})
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decode[documentResponse](t, rec).Document

	rec = c.do(http.MethodGet, "/api/documents/"+doc.ID.String()+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pdf, rec.Body.Bytes())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment"))
	assert.Zero(t, s.files.presigned)
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t)
	c := s.as(t, modelstest.User(t, s.db, access.RoleForeman, false))

	assert.Equal(t, http.StatusBadRequest, c.upload("tool.exe", []byte("MZ")).Code)
	assert.Equal(t, http.StatusBadRequest, c.upload("fake.pdf", []byte("not a pdf")).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, c.upload("huge.pdf", append([]byte("%PDF"), make([]byte, 2<<20)...)).Code)

	viewer := s.as(t, modelstest.User(t, s.db, access.RoleViewer, false))
	assert.Equal(t, http.StatusForbidden, viewer.upload("plan.pdf", pdf).Code)
}

func TestCreateRejectsStorageKeysOfOtherUploaders(t *testing.T) {
	s := newTestServer(t)
	admin := s.as(t, modelstest.User(t, s.db, access.RoleAdmin, false))
	blasterUser := modelstest.User(t, s.db, access.RoleForeman, true)
	blaster := s.as(t, blasterUser)

	uploaded := decode[storage.UploadResult](t, admin.upload("shot.pdf", pdf))
	rec := admin.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"name": "Shot", "storage_key": uploaded.Key, "category": "BLASTING", "assignee_ids": []int{blasterUser.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = blaster.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"name": "Shot copy", "storage_key": uploaded.Key, "category": "DRAWINGS",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = blaster.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"name": "Ghost", "storage_key": storage.ObjectKey(blasterUser.ID, "ghost.pdf"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscardUpload(t *testing.T) {
	s := newTestServer(t)
	owner := s.as(t, modelstest.User(t, s.db, access.RoleForeman, false))
	other := s.as(t, modelstest.User(t, s.db, access.RoleForeman, false))

	filed := decode[storage.UploadResult](t, owner.upload("filed.pdf", pdf))
	rec := owner.do(http.MethodPost, "/api/documents", map[string]interface{}{"name": "Filed", "storage_key": filed.Key})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	spare := decode[storage.UploadResult](t, owner.upload("spare.pdf", pdf))

	assert.Equal(t, http.StatusBadRequest, owner.do(http.MethodDelete, "/api/uploads", nil).Code)
	assert.Equal(t, http.StatusForbidden, other.do(http.MethodDelete, "/api/uploads?key="+spare.Key, nil).Code)
	assert.Equal(t, http.StatusConflict, owner.do(http.MethodDelete, "/api/uploads?key="+filed.Key, nil).Code)
	assert.Equal(t, http.StatusNoContent, owner.do(http.MethodDelete, "/api/uploads?key="+spare.Key, nil).Code)

	ok, err := s.files.Exists(context.Background(), spare.Key)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.files.Exists(context.Background(), filed.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}
