package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/usecase/convert"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const maxEventSize = 1 << 20

// EventHandler converts the objects named by a trigger event
type EventHandler interface {
	HandleEvent(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error)
}

// Server receives object-created notifications over HTTP and runs the conversion
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     *slog.Logger
	handler EventHandler
}

// New creates a new HTTP server listening on addr
func New(addr string, handler EventHandler, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     logger.With("component", "server"),
		handler: handler,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler exposes the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/events", func(r chi.Router) {
		r.Post("/s3", s.eventHandler(convert.ParseS3Event))
		r.Post("/gcs", s.eventHandler(convert.ParseGCSEvent))
		r.Post("/", s.eventHandler(convert.ParseEvent))
	})
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return goerr.Wrap(err, "HTTP server stopped", goerr.V("addr", s.server.Addr))
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.log.With("request_id", middleware.GetReqID(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logging.With(r.Context(), logger)))

		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type eventResponse struct {
	Results []*convert.Result `json:"results"`
	Error   string            `json:"error,omitempty"`
}

func (s *Server) eventHandler(parse func([]byte) ([]convert.ObjectRef, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventSize))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, eventResponse{Error: "event body too large"})
			return
		}

		refs, err := parse(body)
		if err != nil {
			logging.From(ctx).Warn("invalid event", logging.ErrAttr(err))
			status := http.StatusInternalServerError
			if errors.Is(err, model.ErrInvalidEvent) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, eventResponse{Error: err.Error()})
			return
		}

		results, err := s.handler.HandleEvent(ctx, refs)
		if results == nil {
			results = []*convert.Result{}
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, eventResponse{Results: results, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, eventResponse{Results: results})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
