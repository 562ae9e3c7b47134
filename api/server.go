// Package api exposes the document store and QA features over HTTP REST.
//
// Endpoints:
//
//	GET    /health                          liveness probe
//	GET    /ready                           readiness probe
//	GET    /api/documents                   list visible documents
//	POST   /api/documents                   create document (version 1)
//	GET    /api/documents/search            ranked search
//	GET    /api/documents/{id}              fetch document
//	PUT    /api/documents/{id}              update metadata
//	DELETE /api/documents/{id}              delete document
//	GET    /api/documents/{id}/versions     version history
//	POST   /api/documents/{id}/versions     create version
//	GET    /api/documents/{id}/versions/{n} fetch one version
//	POST   /api/documents/{id}/embed        refresh embedding
//	POST   /api/qa/ask                      one-shot question
//	POST   /api/qa/chat                     create chat session
//	POST   /api/qa/chat/{id}                submit turn
//	DELETE /api/qa/chat/{id}                close session
//	GET    /api/qa/history                  requester's QA audit trail
//	GET    /api/qa/suggested-questions      starter questions
//	POST   /api/qa/feedback                 record answer feedback
//
// The requester is identified by the X-User-ID header; there is no
// authentication layer in front of it.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/quillhq/quill/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8480"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 60 * time.Second
	IdleTimeout  = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health    *HealthHandler
	documents *DocumentHandler
	qa        *QAHandler
}

// NewServer registers all routes and returns the server.
func NewServer(health *HealthHandler, documents *DocumentHandler, qa *QAHandler, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		logger:    logger,
		health:    health,
		documents: documents,
		qa:        qa,
	}

	s.health.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)
	s.qa.RegisterRoutes(mux)

	return s
}

// Handler returns the mux with middleware applied.
// Middleware order: recovery, then logging, then handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
