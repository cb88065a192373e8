// Package web is the thin HTTP layer: sign-in, sign-out and JSON views over
// the analytics.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/digitaldrywood/taskpulse/internal/analytics"
	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/config"
	"github.com/digitaldrywood/taskpulse/internal/database"
	"github.com/digitaldrywood/taskpulse/internal/graph"
	"github.com/digitaldrywood/taskpulse/internal/job"
	"github.com/digitaldrywood/taskpulse/internal/logger"
	"github.com/digitaldrywood/taskpulse/internal/models"
)

// Gateway is the subset of the Graph client the handlers read from.
type Gateway interface {
	ListRecords(ctx context.Context, a auth.Authorizer, site, list string) ([]models.Record, error)
	DriveChildren(ctx context.Context, a auth.Authorizer) ([]graph.DriveItem, error)
	WorkbookTables(ctx context.Context, a auth.Authorizer, path string) ([]graph.Table, error)
	TableRows(ctx context.Context, a auth.Authorizer, path, table string) ([]graph.TableRow, error)
	UsersWithPhotos(ctx context.Context, a auth.Authorizer) ([]graph.User, error)
	MyUserID(ctx context.Context, a auth.Authorizer) (string, error)
}

// Recomputer fetches records and runs the export pipeline.
type Recomputer interface {
	Fetch(ctx context.Context, a auth.Authorizer) ([]models.Record, error)
	Run(ctx context.Context, a auth.Authorizer, trigger string) (*job.Result, error)
}

// Store persists sessions and exposes run history.
type Store interface {
	GetSession(ctx context.Context, id string) (*auth.Session, error)
	SaveSession(ctx context.Context, s *auth.Session) error
	TouchSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	RecentRuns(ctx context.Context, limit int) ([]database.Run, error)
}

type Options struct {
	Addr         string
	Sources      []config.Source
	SessionTTL   time.Duration
	SecureCookie bool
}

// Server provides the HTTP API.
type Server struct {
	opts     Options
	manager  *auth.Manager
	gateway  Gateway
	engine   *analytics.Engine
	pipeline Recomputer
	store    Store

	router chi.Router
	server *http.Server
}

func NewServer(opts Options, manager *auth.Manager, gateway Gateway, engine *analytics.Engine, pipeline Recomputer, store Store) *Server {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	s := &Server{
		opts:     opts,
		manager:  manager,
		gateway:  gateway,
		engine:   engine,
		pipeline: pipeline,
		store:    store,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.sessions)

		r.Get("/", s.handleIndex)
		r.Get("/login", s.handleLogin)
		r.Get("/callback", s.handleCallback)
		r.Get("/logout", s.handleLogout)

		r.Route("/api", func(r chi.Router) {
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/team", s.handleTeam)
			r.Get("/users/{username}", s.handleUser)
			r.Get("/files", s.handleFiles)
			r.Get("/proposals", s.handleProposals)
			r.Get("/excel-data", s.handleExcelData)
			r.Get("/workload", s.handleWorkload)
			r.Get("/directory", s.handleDirectory)
			r.Get("/me", s.handleMe)
			r.Post("/recompute", s.handleRecompute)
			r.Get("/status", s.handleStatus)
		})
	})

	return r
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "taskpulse")
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	logger.Info("starting http server", "addr", s.opts.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
