package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionpro/internal/common"
	"constructionpro/internal/config"
	"constructionpro/internal/resilience"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(config.FieldSyncConfig{
		APIBaseURL:    srv.URL,
		SessionCookie: "sess-123",
		RatePerSecond: 1000,
	}, WithExecutor(resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
	}, nil)))
	require.NoError(t, err)
	return c, srv
}

// requestLog records requests from the handler goroutine.
type requestLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *requestLog) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *requestLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(config.FieldSyncConfig{APIBaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = New(config.FieldSyncConfig{APIBaseURL: "http://example.com/"})
	assert.NoError(t, err)
}

func TestCreateAnnotationSendsSessionAndBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/documents/doc-1/annotations", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		cookie, err := r.Cookie(SessionCookieName)
		if assert.NoError(t, err) {
			assert.Equal(t, "sess-123", cookie.Value)
		}

		var in AnnotationInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, 2, in.PageNumber)
		assert.Equal(t, "ISSUE", in.Kind)
		assert.Nil(t, in.Linked)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"annotation": map[string]any{
			"id": "pin-1", "document_id": "doc-1", "page_number": in.PageNumber,
			"x": in.X, "y": in.Y, "kind": in.Kind, "comment": in.Comment,
		}})
	}))

	comment := "crack in slab"
	pin, err := c.CreateAnnotation(context.Background(), "doc-1", AnnotationInput{
		PageNumber: 2, X: 0.25, Y: 0.75, Kind: "ISSUE", Comment: &comment,
	})
	require.NoError(t, err)
	assert.Equal(t, "pin-1", pin.ID)
	assert.Equal(t, 0.75, pin.Y)
	require.NotNil(t, pin.Comment)
	assert.Equal(t, comment, *pin.Comment)
	assert.False(t, pin.IsResolved())
}

func TestAnnotationEndpoints(t *testing.T) {
	var seen requestLog
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.add(r.Method + " " + r.URL.RequestURI())
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"annotations":[{"id":"a"},{"id":"b"}]}`))
		default:
			_, _ = w.Write([]byte(`{"annotation":{"id":"a","resolved_at":"2026-01-02T03:04:05Z","resolved_by":4}}`))
		}
	}))
	ctx := context.Background()

	pins, err := c.ListAnnotations(ctx, "doc-1", 3)
	require.NoError(t, err)
	assert.Len(t, pins, 2)

	_, err = c.ListAnnotations(ctx, "doc-1", 0)
	require.NoError(t, err)

	pin, err := c.ResolveAnnotation(ctx, "a")
	require.NoError(t, err)
	assert.True(t, pin.IsResolved())

	_, err = c.UnresolveAnnotation(ctx, "a")
	require.NoError(t, err)

	x := 0.5
	_, err = c.UpdateAnnotation(ctx, "a", AnnotationPatch{X: &x})
	require.NoError(t, err)

	require.NoError(t, c.DeleteAnnotation(ctx, "a"))

	assert.Equal(t, []string{
		"GET /api/documents/doc-1/annotations?page=3",
		"GET /api/documents/doc-1/annotations",
		"POST /api/annotations/a/resolve",
		"POST /api/annotations/a/unresolve",
		"PATCH /api/annotations/a",
		"DELETE /api/annotations/a",
	}, seen.get())
}

func TestAPIErrorsMapToSentinels(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusNotFound)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":"Annotation not found"}`))
	}))

	_, err := c.ResolveAnnotation(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Annotation not found", apiErr.Message)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")

	status.Store(http.StatusBadRequest)
	_, err = c.ResolveAnnotation(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestServerErrorsAreTransientAndRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))

	err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestCreatesAreSentOnce(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	ctx := context.Background()

	_, err := c.CreateAnnotation(ctx, "doc-1", AnnotationInput{PageNumber: 1, X: 0.5, Y: 0.5, Kind: "issue"})
	require.Error(t, err)
	assert.True(t, IsTransient(err), "the queue still retries it later")
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.CreateResource(ctx, "dailyLog", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())

	// Edits are safe to repeat and keep their retries.
	_, err = c.UpdateResource(ctx, "dailyLog", "log-1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestCreateFailuresStillTripTheBreaker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(config.FieldSyncConfig{APIBaseURL: srv.URL, RatePerSecond: 1000}, WithExecutor(resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		BreakerEnabled:      true,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  time.Minute,
	}, nil)))
	require.NoError(t, err)
	ctx := context.Background()

	for range 2 {
		_, err = c.CreateAnnotation(ctx, "doc-1", AnnotationInput{PageNumber: 1, Kind: "issue"})
		var te *TransportError
		require.ErrorAs(t, err, &te)
	}

	_, err = c.CreateAnnotation(ctx, "doc-1", AnnotationInput{PageNumber: 1, Kind: "issue"})
	assert.True(t, resilience.IsCircuitOpen(err))
	assert.True(t, IsTransient(err))
}

func TestTransportErrorIsTransient(t *testing.T) {
	c, srv := newTestClient(t, http.NotFoundHandler())
	srv.Close()

	err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestResourceEndpoints(t *testing.T) {
	var seen, bodies requestLog
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.add(r.Method + " " + r.URL.Path)
		var raw json.RawMessage
		if r.ContentLength > 0 {
			_ = json.NewDecoder(r.Body).Decode(&raw)
		}
		bodies.add(string(raw))
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	ctx := context.Background()

	out, err := c.CreateResource(ctx, "dailyLog", json.RawMessage(`{"weather":"rain"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))

	_, err = c.UpdateResource(ctx, "punchList", "p 1", json.RawMessage(`{"done":true}`))
	require.NoError(t, err)
	require.NoError(t, c.DeleteResource(ctx, "equipment", "e1"))
	require.NoError(t, c.SubmitResource(ctx, "timeEntry", "t1", nil))

	assert.Equal(t, []string{
		"POST /api/daily-logs",
		"PATCH /api/punch-list/p 1",
		"DELETE /api/equipment/e1",
		"POST /api/time-entries/t1/submit",
	}, seen.get())
	assert.Equal(t, []string{`{"weather":"rain"}`, `{"done":true}`, "", ""}, bodies.get())
}

func TestResourceValidation(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	ctx := context.Background()

	_, err := c.CreateResource(ctx, "spaceship", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownResource)
	assert.ErrorIs(t, err, common.ErrValidation)

	err = c.DeleteResource(ctx, "incident", " ")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.False(t, IsTransient(err))
}
