// Package web serves the browser UI and JSON API on top of the workflow sessions.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/raine/microstock-tagger/internal/media"
	"github.com/raine/microstock-tagger/internal/storage"
	"github.com/raine/microstock-tagger/internal/workflow"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// UsageReporter reads the usage ledger.
type UsageReporter interface {
	Summary(ctx context.Context, since time.Time) (*storage.UsageSummary, error)
	Recent(ctx context.Context, limit int) ([]storage.UsageRecord, error)
}

// Options configures the web server.
type Options struct {
	Port           string
	Sessions       *workflow.Manager
	Previews       media.Store
	Usage          UsageReporter // nil when the ledger is disabled
	MaxUploadBytes int64
	SessionSecret  string
	SecureCookies  bool
}

// Server holds the HTTP handlers.
type Server struct {
	sessions  *workflow.Manager
	previews  media.Store
	usage     UsageReporter
	maxUpload int64
	cookies   *cookieSigner
	page      *template.Template
	port      string
}

// New constructs the server. It does not start listening.
func New(opts Options) (*Server, error) {
	if opts.Sessions == nil || opts.Previews == nil {
		return nil, fmt.Errorf("web: sessions and previews are required")
	}
	cookies, err := newCookieSigner(opts.SessionSecret)
	if err != nil {
		return nil, err
	}
	cookies.secure = opts.SecureCookies

	page, err := template.New("index.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	port := opts.Port
	if port == "" {
		port = "8080"
	}

	return &Server{
		sessions:  opts.Sessions,
		previews:  opts.Previews,
		usage:     opts.Usage,
		maxUpload: maxUpload,
		cookies:   cookies,
		page:      page,
		port:      port,
	}, nil
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Get("/", s.handleIndex)
	router.Post("/upload", s.handleUpload)
	router.Post("/generate", s.handleGenerate)
	router.Post("/reset", s.handleReset)
	router.Get(media.PathPrefix+"*", s.handlePreview)
	router.Get("/events", s.handleEvents)

	router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.apiState)
		r.Post("/image", s.apiImage)
		r.Post("/generate", s.apiGenerate)
		r.Post("/reset", s.apiReset)
		r.Get("/usage", s.apiUsage)
	})

	static, err := fs.Sub(staticFS, "static")
	if err == nil {
		router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	}

	return router
}

// HTTPServer wraps Handler in an http.Server. Streaming handlers lift the
// write deadline themselves.
func (s *Server) HTTPServer() *http.Server {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	log.Info().Str("addr", srv.Addr).Msg("web server ready")
	return srv
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := s.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down web server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

// session returns the caller's workflow session, issuing a cookie if needed.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *workflow.Session {
	return s.sessions.Get("web:" + s.cookies.sessionID(w, r))
}
