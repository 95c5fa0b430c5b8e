// Package server is the HTTP front door: the query endpoint, interaction
// history as JSON and HTML, health, metrics and MCP.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-mizutani/lakeagent/pkg/metrics"
	"github.com/m-mizutani/lakeagent/pkg/model"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/usecase/ask"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

// UseCase is what the handlers need from the ask use case.
type UseCase interface {
	RunQuery(ctx context.Context, query string) (*ask.Answer, error)
	List(ctx context.Context, opts ask.ListOptions) ([]*model.Interaction, error)
	Show(ctx context.Context, id model.InteractionID) (*model.Interaction, error)
}

type Server struct {
	uc      UseCase
	auth    *basicAuth
	mcp     http.Handler
	pages   *template.Template
	handler http.Handler
}

type Option func(*Server)

// WithBasicAuth protects every endpoint except /healthz and /metrics.
func WithBasicAuth(user, password string) Option {
	return func(s *Server) {
		if user == "" {
			return
		}
		s.auth = newBasicAuth(user, password)
	}
}

// WithMCP mounts an MCP handler on /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

func New(uc UseCase, opts ...Option) *Server {
	s := &Server{uc: uc}
	for _, opt := range opts {
		opt(s)
	}

	s.pages = template.Must(template.New("pages").Funcs(template.FuncMap{
		"render": func(v trace.Value) string { return trace.Render(v) },
		"truncate": func(s string, n int) string {
			r := []rune(s)
			if len(r) <= n {
				return s
			}
			return string(r[:n]) + "..."
		},
	}).ParseFS(templateFS, "templates/*.html"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.middleware)
		}

		r.Post("/query", s.handleQuery)
		r.Get("/interactions", s.handleListInteractions)
		r.Get("/interactions/{id}", s.handleGetInteraction)
		r.Get("/", s.handleIndexPage)
		r.Get("/ui/interactions/{id}", s.handleInteractionPage)

		if s.mcp != nil {
			r.Handle("/mcp", s.mcp)
		}
	})

	s.handler = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe runs until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	logger := logging.From(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "HTTP server failed", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down HTTP server")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := logging.Default().With("request_id", middleware.GetReqID(r.Context()))
		ctx := logging.With(r.Context(), logger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.From(ctx).Error("failed to write response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, map[string]string{"error": msg})
}
