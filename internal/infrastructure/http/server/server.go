package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"3tcapital/ms_emision_electronica/internal/infrastructure/config"
	httperrors "3tcapital/ms_emision_electronica/internal/infrastructure/http"
	"3tcapital/ms_emision_electronica/internal/infrastructure/http/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// DocumentHandler serves the tenant document API.
type DocumentHandler interface {
	CreateSale(w http.ResponseWriter, r *http.Request)
	CreateCreditNote(w http.ResponseWriter, r *http.Request)
	GetDocument(w http.ResponseWriter, r *http.Request)
	ListErrors(w http.ResponseWriter, r *http.Request)
	Retry(w http.ResponseWriter, r *http.Request)
	Void(w http.ResponseWriter, r *http.Request)
	Notify(w http.ResponseWriter, r *http.Request)
}

// Server wraps the HTTP server and its authenticator.
type Server struct {
	log        *slog.Logger
	cfg        config.HTTPSettings
	httpServer *http.Server
	auth       *middleware.JWTAuthenticator
}

// Options configures a Server. DocumentHandler may be nil, in which case the API answers 503.
type Options struct {
	Config          config.AppConfig
	Logger          *slog.Logger
	HealthHandler   http.Handler
	DocumentHandler DocumentHandler
}

// New builds the router and the HTTP server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}

	auth, err := middleware.NewJWTAuthenticator(opts.Config.Auth, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(auth.Middleware)

	r.Method(http.MethodGet, "/health", opts.HealthHandler)

	docs := opts.DocumentHandler
	if docs == nil {
		docs = unavailableDocuments{log: opts.Logger}
	}

	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(auth.TenantScope("tenantID"))

		r.Get("/documents/{documentID}", docs.GetDocument)
		r.Get("/documents/{documentID}/errors", docs.ListErrors)
		r.Post("/documents/{documentID}/void", docs.Void)

		// These run the workflow inline.
		r.Group(func(r chi.Router) {
			r.Use(middleware.IssueTimeout(opts.Config.HTTP.IssueTimeout))
			r.Post("/sales", docs.CreateSale)
			r.Post("/sales/{documentID}/credit-notes", docs.CreateCreditNote)
			r.Post("/documents/{documentID}/retry", docs.Retry)
			r.Post("/documents/{documentID}/notify", docs.Notify)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Config.HTTP.Port),
		Handler:      r,
		ReadTimeout:  opts.Config.HTTP.ReadTimeout,
		WriteTimeout: writeTimeout(opts.Config.HTTP),
		IdleTimeout:  opts.Config.HTTP.IdleTimeout,
	}

	return &Server{log: opts.Logger, cfg: opts.Config.HTTP, httpServer: srv, auth: auth}, nil
}

// writeTimeout keeps the server from cutting a response the issue routes are still allowed to produce.
func writeTimeout(cfg config.HTTPSettings) time.Duration {
	if cfg.IssueTimeout > cfg.WriteTimeout && cfg.WriteTimeout > 0 {
		return cfg.IssueTimeout + 5*time.Second
	}
	return cfg.WriteTimeout
}

// Run serves until ctx ends, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx := context.Background()
		if s.cfg.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.cfg.ShutdownTimeout)
			defer cancel()
		}
		s.log.Info("HTTP server shutting down")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Close stops the JWKS refresher.
func (s *Server) Close() {
	s.auth.Close()
}

// unavailableDocuments answers every document route with 503.
type unavailableDocuments struct {
	log *slog.Logger
}

func (u unavailableDocuments) write(w http.ResponseWriter) {
	httperrors.WriteError(w, http.StatusServiceUnavailable, "Servicio no disponible", []string{"La emisión de documentos no está configurada"}, u.log)
}

func (u unavailableDocuments) CreateSale(w http.ResponseWriter, _ *http.Request)       { u.write(w) }
func (u unavailableDocuments) CreateCreditNote(w http.ResponseWriter, _ *http.Request) { u.write(w) }
func (u unavailableDocuments) GetDocument(w http.ResponseWriter, _ *http.Request)      { u.write(w) }
func (u unavailableDocuments) ListErrors(w http.ResponseWriter, _ *http.Request)       { u.write(w) }
func (u unavailableDocuments) Retry(w http.ResponseWriter, _ *http.Request)            { u.write(w) }
func (u unavailableDocuments) Void(w http.ResponseWriter, _ *http.Request)             { u.write(w) }
func (u unavailableDocuments) Notify(w http.ResponseWriter, _ *http.Request)           { u.write(w) }
