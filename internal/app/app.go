// Package app wires the configured collaborators into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docvault-server/internal/config"
	"docvault-server/internal/domain"
	"docvault-server/internal/handler"
	"docvault-server/internal/logger"
	"docvault-server/internal/metrics"
	"docvault-server/internal/repository"
	"docvault-server/internal/service"
	"docvault-server/internal/websocket"
	"docvault-server/pkg/hash"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns everything built from one Config. New does all the wiring, Start
// only serves.
type App struct {
	cfg       *config.Config
	log       *logger.Logger
	store     repository.DocumentStore
	types     *domain.TypeRegistry
	documents *service.DocumentService
	wsManager *websocket.Manager
	server    *http.Server
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	types, err := cfg.DocumentTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to load document types: %w", err)
	}

	var (
		reg      *prometheus.Registry
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		gatherer = reg
	}

	backend, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	store := repository.NewInstrumentedStore(backend, cfg.Store.Backend, m, log)

	documents := service.NewDocumentService(store, log, m)
	auth := service.NewAuthService(documents, hash.NewHasher(hash.DefaultCost), cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)

	wsManager := websocket.NewManager(websocket.Options{
		MaxConnPerUser: cfg.WebSocket.MaxConnPerUser,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
	}, log, m)
	documents.SetNotifier(wsManager)

	router := handler.NewRouter(handler.RouterDeps{
		Types:                types,
		Documents:            documents,
		Auth:                 auth,
		WebSocket:            wsManager,
		WebSocketReadBuffer:  cfg.WebSocket.ReadBufferSize,
		WebSocketWriteBuffer: cfg.WebSocket.WriteBufferSize,
		JWTSecret:            cfg.JWT.Secret,
		CORS: handler.CORSOptions{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
		},
		Metrics:     m,
		Gatherer:    gatherer,
		MetricsPath: cfg.Metrics.Path,
		Log:         log,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		types:     types,
		documents: documents,
		wsManager: wsManager,
		server: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// OpenStore opens the backend named by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.DocumentStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return repository.NewMemoryStore(), nil
	case config.BackendSQLite:
		store, err := repository.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	case config.BackendCouch:
		client, err := kivik.New("couch", cfg.Database.URL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
		}
		store, err := repository.NewCouchStore(ctx, client, cfg.Database.Name, log)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to open couch store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Types() *domain.TypeRegistry {
	return a.types
}

// Start serves until ctx is cancelled, then shuts down within the configured
// timeout. It returns nil after a clean shutdown.
func (a *App) Start(ctx context.Context) error {
	wsCtx, stopWS := context.WithCancel(context.Background())
	defer stopWS()
	go a.wsManager.Run(wsCtx)

	errCh := make(chan error, 1)
	go func() {
		a.log.LogServerStart(a.server.Addr, a.cfg.Store.Backend)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.LogServerShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	return a.store.Close()
}
