package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionpro/internal/config"
	"constructionpro/internal/logging"
)

type apiStub struct {
	mu   sync.Mutex
	seen []string
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.seen = append(s.seen, r.Method+" "+r.URL.Path)
	s.mu.Unlock()

	switch r.URL.Path {
	case "/health":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case "/api/daily-logs":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"log-1"}`))
	default:
		http.NotFound(w, r)
	}
}

func (s *apiStub) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func testConfig(t *testing.T, apiURL string) *config.FieldSyncConfig {
	t.Helper()
	return &config.FieldSyncConfig{
		APIBaseURL:     apiURL,
		QueuePath:      filepath.Join(t.TempDir(), "queue.db"),
		RequestTimeout: 5 * time.Second,
		ProbeInterval:  time.Second,
		RatePerSecond:  1000,
	}
}

func runCmd(t *testing.T, cfg *config.FieldSyncConfig, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), cfg, logging.Discard(), args, &out)
	return out.String(), err
}

func TestRunQueuesAndSyncs(t *testing.T) {
	api := &apiStub{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg := testConfig(t, srv.URL)

	out, err := runCmd(t, cfg, "enqueue", "-op", "create", "-type", "dailyLog", "-payload", `{"weather":"rain"}`)
	require.NoError(t, err)
	var queued struct {
		ID           string `json:"id"`
		ResourceType string `json:"resource_type"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &queued))
	assert.NotEmpty(t, queued.ID)
	assert.Equal(t, "dailyLog", queued.ResourceType)

	out, err = runCmd(t, cfg, "status")
	require.NoError(t, err)
	var status struct {
		Status struct {
			Pending int `json:"pending"`
		} `json:"status"`
		Pending []struct {
			ID string `json:"id"`
		} `json:"pending"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Status.Pending)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, queued.ID, status.Pending[0].ID)

	out, err = runCmd(t, cfg, "sync")
	require.NoError(t, err)
	var result struct {
		Synced int `json:"synced"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Failed)
	assert.Contains(t, api.requests(), "POST /api/daily-logs")

	out, err = runCmd(t, cfg, "clear-failed")
	require.NoError(t, err)
	assert.Equal(t, "removed 0 exhausted operations\n", out)
}

func TestRunRejectsBadUsage(t *testing.T) {
	srv := httptest.NewServer(&apiStub{})
	t.Cleanup(srv.Close)
	cfg := testConfig(t, srv.URL)

	out, err := runCmd(t, cfg)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, out, "usage: fieldsync")

	out, err = runCmd(t, cfg, "teleport")
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, out, "commands:")

	_, err = runCmd(t, cfg, "retry")
	assert.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, cfg, "pin", "-page", "2")
	assert.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, cfg, "enqueue", "-op", "create", "-type", "spaceship")
	assert.Error(t, err)
}
