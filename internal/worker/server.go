package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/worker/sse"
)

// Service is the worker's HTTP surface: the scrape endpoint, the
// read-only query API, and the live tail feed.
type Service struct {
	version string
	cfg     *config.Config

	store       *sqlite.Store
	sessions    *sqlite.SessionStore
	invocations *sqlite.InvocationStore
	toolUses    *sqlite.ToolUseStore

	agg         *metrics.Aggregator
	exporter    *metrics.Exporter
	loop        *Loop
	broadcaster *sse.Broadcaster

	router    chi.Router
	server    *http.Server
	ready     atomic.Bool
	startTime time.Time
}

// NewService wires the service over an open store.
func NewService(cfg *config.Config, store *sqlite.Store, agg *metrics.Aggregator,
	exporter *metrics.Exporter, loop *Loop, broadcaster *sse.Broadcaster, version string) *Service {

	svc := &Service{
		version:     version,
		cfg:         cfg,
		store:       store,
		sessions:    sqlite.NewSessionStore(store),
		invocations: sqlite.NewInvocationStore(store),
		toolUses:    sqlite.NewToolUseStore(store),
		agg:         agg,
		exporter:    exporter,
		loop:        loop,
		broadcaster: broadcaster,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	svc.setupRoutes()
	svc.ready.Store(true)
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Method(http.MethodGet, "/metrics", s.exporter.Handler())
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{sessionID}", s.handleSession)
		r.Get("/sessions/{sessionID}/invocations", s.handleSessionInvocations)
		r.Get("/sessions/{sessionID}/tools", s.handleSessionTools)
		r.Get("/agents/{agentName}/prompts", s.handleAgentPrompts)
		r.Get("/search", s.handleSearch)
		r.Get("/events", s.handleEvents)
		r.Get("/tail", s.broadcaster.ServeHTTP)
	})
}

// Router exposes the mux for tests.
func (s *Service) Router() chi.Router { return s.router }

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("http server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("worker: shutdown http server: %w", err)
		}
		return nil
	}
}
