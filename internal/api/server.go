package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/threadgate/internal/auth"
	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/notify"
	"github.com/mattjoyce/threadgate/internal/thread"
	"github.com/mattjoyce/threadgate/internal/threads"
	"github.com/mattjoyce/threadgate/internal/visibility"
)

// ThreadStore is the thread persistence used by the handlers.
type ThreadStore interface {
	Create(ctx context.Context, req threads.CreateRequest) (*thread.Thread, error)
	Load(ctx context.Context, id int64) (*thread.Thread, error)
	Pending(ctx context.Context) ([]thread.Summary, error)
	Assign(ctx context.Context, id int64, state thread.State, agentID int64) error
}

// OperatorDirectory resolves operators by session id and by operator code.
type OperatorDirectory interface {
	OperatorByID(ctx context.Context, id int64) (*thread.Operator, error)
	OperatorByCode(ctx context.Context, code string) (*thread.Operator, error)
}

// EventDispatcher runs the listeners of a named event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event string, args any) bool
}

// RoutingNotifier is told about threads opened with an operator code.
type RoutingNotifier interface {
	ThreadRouted(ctx context.Context, ev notify.ThreadRoutedV1, correlationID string) error
}

// Config holds API server configuration.
type Config struct {
	Listen string
	Tokens []auth.TokenConfig
	// Visibility is the filter configuration, consulted when an operator
	// takes a thread. Nil means the filter is disabled and routed threads
	// may be taken by anyone.
	Visibility *visibility.Config
}

// Server is the operator and visitor HTTP API.
type Server struct {
	config     Config
	threads    ThreadStore
	operators  OperatorDirectory
	dispatcher EventDispatcher
	hub        *events.Hub
	notifier   RoutingNotifier
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a server. notifier may be nil.
func New(config Config, store ThreadStore, operators OperatorDirectory, dispatcher EventDispatcher, hub *events.Hub, notifier RoutingNotifier, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:     config,
		threads:    store,
		operators:  operators,
		dispatcher: dispatcher,
		hub:        hub,
		notifier:   notifier,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.requireScopes(auth.ScopeThreadsRW)).Post("/threads", s.handleCreateThread)
		r.With(s.requireScopes(auth.ScopeThreadsRO)).Get("/threads/pending", s.handlePendingThreads)
		r.With(s.requireScopes(auth.ScopeThreadsRW)).Post("/threads/{threadID}/take", s.handleTakeThread)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		sess, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := auth.SessionFromContext(r.Context())
			if !sess.Allowed(scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
