// Package server assembles the API: storage backends, services and the gin
// router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions/cookie"
	"github.com/redis/go-redis/v9"

	"constructionpro/internal/annotations"
	"constructionpro/internal/auth"
	"constructionpro/internal/config"
	"constructionpro/internal/database"
	"constructionpro/internal/documents"
	"constructionpro/internal/events"
	"constructionpro/internal/logging"
	"constructionpro/internal/metrics"
	"constructionpro/internal/models"
	"constructionpro/internal/resilience"
	"constructionpro/internal/revisions"
	"constructionpro/internal/storage"
)

type Server struct {
	cfg         *config.ServerConfig
	log         logging.Logger
	db          database.Service
	files       storage.FileStore
	presigner   *storage.Presigner
	documents   *documents.Service
	annotations *annotations.Store
	metrics     *metrics.HTTPServerMetrics
	sessions    cookie.Store
	closers     []func()
}

// Deps are the external collaborators of a Server.
type Deps struct {
	DB        database.Service
	Files     storage.FileStore
	URLCache  *storage.URLCache // optional
	Publisher events.Publisher  // optional
}

// New wires the services on top of deps.
func New(cfg *config.ServerConfig, log logging.Logger, deps Deps) *Server {
	m := metrics.NewHTTPServerMetrics()
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}

	db := deps.DB.Models()
	tracker := revisions.New(db,
		revisions.WithPublisher(publisher),
		revisions.WithObserver(m),
		revisions.WithLogger(log),
	)

	return &Server{
		cfg:       cfg,
		log:       log,
		db:        deps.DB,
		files:     deps.Files,
		presigner: storage.NewPresigner(deps.Files, deps.URLCache, cfg.PresignTTL, m),
		documents: documents.NewService(db, tracker,
			documents.WithFiles(deps.Files),
			documents.WithPublisher(publisher),
			documents.WithObserver(m),
			documents.WithLogger(log),
		),
		annotations: annotations.NewStore(db,
			annotations.WithPublisher(publisher),
			annotations.WithObserver(m),
			annotations.WithLogger(log),
		),
		metrics:  m,
		sessions: cookie.NewStore([]byte(cfg.SessionSecret)),
	}
}

// NewServer connects to every backend named in cfg and returns the HTTP
// server together with the Server that owns those connections.
func NewServer(ctx context.Context, cfg *config.ServerConfig, log logging.Logger) (*http.Server, *Server, error) {
	db, err := database.New(ctx, database.Options{
		DSN:          cfg.Database.DSN,
		LogLevel:     models.ParseLogLevel(cfg.Database.LogLevel),
		MaxOpenConns: 25,
		MaxIdleConns: 5,
	})
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { _ = db.Close() }}
	fail := func(err error) (*http.Server, *Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(); err != nil {
			return fail(err)
		}
		log.Info(ctx, "database migrations applied")
	}

	files, err := storage.NewS3Service(ctx, storage.S3Config{
		Bucket:        cfg.Storage.Bucket,
		Region:        cfg.Storage.Region,
		EndpointURL:   cfg.Storage.EndpointURL,
		EncryptionKey: cfg.Storage.EncryptionKey,
	})
	if err != nil {
		return fail(fmt.Errorf("initialize S3 service: %w", err))
	}

	deps := Deps{DB: db, Files: files}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = rdb.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The cache is an optimization; run without it.
			log.Warn(ctx, "redis unavailable, presigned URLs will not be cached", "addr", cfg.RedisAddr, "error", err)
		} else {
			deps.URLCache = storage.NewURLCache(rdb)
		}
	}

	if cfg.NATSURL != "" {
		executor := resilience.NewExecutor(resilience.DefaultConfig(), log)
		pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.EventsSubject, log, events.Options{Executor: executor})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pub.Close)
		deps.Publisher = pub
	}

	s := New(cfg, log, deps)
	s.closers = closers

	if err := auth.InitGothProviders(cfg.OAuth, s.sessions); err != nil {
		if !errors.Is(err, auth.ErrNoProviders) {
			return fail(err)
		}
		log.Warn(ctx, "no oauth providers configured, login is disabled")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return httpServer, s, nil
}

// Close releases backend connections in reverse order of creation.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *Server) GetDB() database.Service {
	return s.db
}

func (s *Server) GetDocuments() *documents.Service {
	return s.documents
}

func (s *Server) GetAnnotations() *annotations.Store {
	return s.annotations
}

func (s *Server) GetFileStore() storage.FileStore {
	return s.files
}

func (s *Server) GetPresigner() *storage.Presigner {
	return s.presigner
}

func (s *Server) GetLogger() logging.Logger {
	return s.log
}

func (s *Server) FrontendURL() string {
	return s.cfg.FrontendURL
}

func (s *Server) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}
