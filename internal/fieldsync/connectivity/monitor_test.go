package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionpro/internal/logging"
)

func TestSetNotifiesOnlyOnEdges(t *testing.T) {
	m := NewMonitor(nil, time.Second, logging.Discard())
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(false) // already offline
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	default:
	}

	m.Set(true)
	m.Set(true)
	c := <-ch
	assert.True(t, c.Online)
	select {
	case c := <-ch:
		t.Fatalf("duplicate change %+v", c)
	default:
	}
	assert.True(t, m.Online())
}

func TestSlowSubscriberSeesLatestState(t *testing.T) {
	m := NewMonitor(nil, time.Second, logging.Discard())
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	c := <-ch
	assert.True(t, c.Online)
}

func TestUnsubscribe(t *testing.T) {
	m := NewMonitor(nil, time.Second, logging.Discard())
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	m.Set(true)
	select {
	case c := <-ch:
		t.Fatalf("unexpected change after unsubscribe %+v", c)
	default:
	}
}

func TestCheckUsesProber(t *testing.T) {
	var healthy atomic.Bool
	m := NewMonitor(ProberFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	}), time.Second, logging.Discard())

	assert.False(t, m.Check(context.Background()))
	healthy.Store(true)
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.Online())
}

func TestRunProbesUntilCancelled(t *testing.T) {
	var probes atomic.Int32
	m := NewMonitor(ProberFunc(func(context.Context) error {
		probes.Add(1)
		return nil
	}), 5*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, m.Online())
}

func TestHTTPProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.Client(), srv.URL+"/health")
	assert.NoError(t, p.Probe(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, p.Probe(context.Background()))

	srv.Close()
	assert.Error(t, p.Probe(context.Background()))
}
