// Package agent wires the field sync components together: the local queue
// store, the API client, the connectivity monitor and the replay handlers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"constructionpro/internal/config"
	"constructionpro/internal/fieldsync/annotator"
	"constructionpro/internal/fieldsync/apiclient"
	"constructionpro/internal/fieldsync/connectivity"
	"constructionpro/internal/fieldsync/syncqueue"
	"constructionpro/internal/logging"
	"constructionpro/internal/metrics"
)

type Agent struct {
	cfg     *config.FieldSyncConfig
	log     logging.Logger
	store   *syncqueue.Store
	client  *apiclient.Client
	monitor *connectivity.Monitor
	queue   *syncqueue.Queue
	pins    *syncqueue.AnnotationHandler
	metrics *metrics.QueueMetrics
}

type Option func(*agentOptions)

type agentOptions struct {
	httpClient *http.Client
	prober     connectivity.Prober
}

// WithHTTPClient sets the client used for API calls and health probes.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *agentOptions) { o.httpClient = hc }
}

// WithProber replaces the health-endpoint prober.
func WithProber(p connectivity.Prober) Option {
	return func(o *agentOptions) { o.prober = p }
}

// New opens the queue database and loads what is left from earlier runs.
// Nothing is replayed until a drain is triggered.
func New(ctx context.Context, cfg *config.FieldSyncConfig, log logging.Logger, opts ...Option) (*Agent, error) {
	o := agentOptions{httpClient: &http.Client{Timeout: cfg.RequestTimeout}}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := apiclient.New(*cfg, apiclient.WithHTTPClient(o.httpClient), apiclient.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if o.prober == nil {
		o.prober = connectivity.NewHTTPProber(o.httpClient, strings.TrimRight(cfg.APIBaseURL, "/")+"/health")
	}

	store, err := syncqueue.OpenStore(ctx, cfg.QueuePath)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:     cfg,
		log:     log,
		store:   store,
		client:  client,
		monitor: connectivity.NewMonitor(o.prober, cfg.ProbeInterval, log),
		pins:    syncqueue.NewAnnotationHandler(client),
		metrics: metrics.NewQueueMetrics(),
	}

	registry := syncqueue.NewDefaultRegistry(client)
	registry.Register(syncqueue.ResourceAnnotation, a.pins)

	a.queue = syncqueue.New(store, registry, a.monitor,
		syncqueue.WithLogger(log),
		syncqueue.WithMetrics(a.metrics),
		syncqueue.WithNotifier(logNotifier{log: log}),
	)
	if err := a.queue.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) Close() error {
	return a.store.Close()
}

func (a *Agent) Queue() *syncqueue.Queue {
	return a.queue
}

func (a *Agent) Monitor() *connectivity.Monitor {
	return a.monitor
}

// MetricsHandler serves the queue metrics in the Prometheus text format.
func (a *Agent) MetricsHandler() http.Handler {
	return a.metrics.Handler()
}

// Editor returns an annotation editor for documentID. Queued placements that
// sync are reported back to the most recently created editor.
func (a *Agent) Editor(ctx context.Context, documentID string) (*annotator.Editor, error) {
	ed := annotator.NewEditor(documentID, a.client, a.queue, a.monitor, annotator.WithLogger(a.log))
	a.pins.OnCreated = ed.Confirm
	if a.monitor.Online() {
		if err := ed.Load(ctx); err != nil {
			return nil, err
		}
	}
	return ed, nil
}

// Sync probes once and, if the API answers, drains the queue.
func (a *Agent) Sync(ctx context.Context) syncqueue.Result {
	a.monitor.Check(ctx)
	return a.queue.Process(ctx, syncqueue.TriggerManual)
}

// Watch keeps probing the API and drains the queue on every reconnect until
// ctx is done. A non-empty metricsAddr serves the queue metrics there; a bad
// address fails Watch before anything starts, and a failed metrics server
// stops the rest.
func (a *Agent) Watch(ctx context.Context, metricsAddr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn()
			errCh <- err
			cancel()
		}()
	}

	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.MetricsHandler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		run(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	run(func() error { return a.queue.Run(ctx) })
	run(func() error { return a.monitor.Run(ctx) })

	// Anything left over from an earlier run goes out once we are online.
	if a.monitor.Check(ctx) {
		a.queue.OnLaunch(ctx)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

type logNotifier struct {
	log logging.Logger
}

func (n logNotifier) Synced(count int) {
	n.log.Info(context.Background(), "data synced", "operations", count)
}

func (n logNotifier) Failed(count int) {
	n.log.Warn(context.Background(), fmt.Sprintf("%d operations failed", count), "operations", count)
}
