package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"constructionpro/internal/annotations"
	"constructionpro/internal/auth"
	"constructionpro/internal/common"
	"constructionpro/internal/database"
	"constructionpro/internal/documents"
	"constructionpro/internal/logging"
	"constructionpro/internal/models"
	"constructionpro/internal/models/modelstest"
	"constructionpro/internal/revisions"
	"constructionpro/internal/server/routes"
	"constructionpro/internal/storage"
)

type fakeDB struct{ db *models.DB }

func (f fakeDB) Health() map[string]string { return map[string]string{"status": "up"} }
func (f fakeDB) Models() *models.DB { return f.db }
func (f fakeDB) RunMigrations() error { return nil }
func (f fakeDB) Close() error { return nil }

// memFiles is an in-memory storage.FileStore.
type memFiles struct {
	mu        sync.Mutex
	objects   map[string][]byte
	encrypted bool
	presigned int
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}}
}

func (m *memFiles) Upload(_ context.Context, in storage.UploadInput) (*storage.UploadResult, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	mime, err := storage.DetectType(in.Filename, data)
	if err != nil {
		return nil, err
	}
	key := storage.ObjectKey(in.UploaderID, in.Filename)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return &storage.UploadResult{Key: key, FileSize: int64(len(data)), MimeType: mime, UploadedAt: time.Now()}, nil
}

func (m *memFiles) Download(_ context.Context, key string) (*storage.DownloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, key)
	}
	return &storage.DownloadResult{Data: data, FileSize: int64(len(data)), MimeType: "application/pdf"}, nil
}

func (m *memFiles) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presigned++
	return fmt.Sprintf("https://files.test/%s?expires=%d", key, int(ttl.Seconds())), nil
}

func (m *memFiles) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memFiles) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memFiles) Encrypted() bool { return m.encrypted }

type testServer struct {
	db        *models.DB
	docs      *documents.Service
	pins      *annotations.Store
	files     *memFiles
	presigner *storage.Presigner
	engine    *gin.Engine
}

func (s *testServer) GetDB() database.Service { return fakeDB{s.db} }
func (s *testServer) GetDocuments() *documents.Service { return s.docs }
func (s *testServer) GetAnnotations() *annotations.Store { return s.pins }
func (s *testServer) GetFileStore() storage.FileStore { return s.files }
func (s *testServer) GetPresigner() *storage.Presigner { return s.presigner }
func (s *testServer) GetLogger() logging.Logger { return logging.Discard() }
func (s *testServer) FrontendURL() string { return "http://frontend.test" }
func (s *testServer) MaxUploadBytes() int64 { return 1 << 20 }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := modelstest.New(t)
	files := newMemFiles()
	s := &testServer{
		db:        db,
		docs:      documents.NewService(db, revisions.New(db), documents.WithFiles(files)),
		pins:      annotations.NewStore(db),
		files:     files,
		presigner: storage.NewPresigner(files, nil, 10*time.Minute, nil),
	}

	r := gin.New()
	r.Use(sessions.Sessions("test-session", cookie.NewStore([]byte("test-secret"))))
	r.GET("/test/login/:id", func(c *gin.Context) {
		id, _ := strconv.Atoi(c.Param("id"))
		session := sessions.Default(c)
		session.Set(auth.SessionUserID, id)
		_ = session.Save()
		c.Status(http.StatusNoContent)
	})

	routes.NewUserRoutes(s).RegisterRoutes(r)
	routes.NewDocumentRoutes(s).RegisterRoutes(r)
	routes.NewAnnotationRoutes(s).RegisterRoutes(r)
	routes.NewUploadRoutes(s).RegisterRoutes(r)
	s.engine = r
	return s
}

// client issues requests with the session cookie of one user.
type client struct {
	t       *testing.T
	engine  *gin.Engine
	cookies []*http.Cookie
}

func (s *testServer) as(t *testing.T, user *models.User) *client {
	t.Helper()
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/test/login/%d", user.ID), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	return &client{t: t, engine: s.engine, cookies: rec.Result().Cookies()}
}

func (s *testServer) anonymous(t *testing.T) *client {
	return &client{t: t, engine: s.engine}
}

func (c *client) send(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.engine.ServeHTTP(rec, req)
	return rec
}

func (c *client) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *client) upload(filename string, content []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(c.t, err)
	_, err = part.Write(content)
	require.NoError(c.t, err)
	require.NoError(c.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type documentResponse struct {
	Document models.Document `json:"document"`
}

type annotationResponse struct {
	Annotation models.Annotation `json:"annotation"`
}
