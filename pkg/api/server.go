package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/identity"
	"github.com/gatehouse-dev/gatehouse/pkg/observability"
	"github.com/gatehouse-dev/gatehouse/pkg/orgs"
	"github.com/gatehouse-dev/gatehouse/pkg/policy"
	"github.com/gatehouse-dev/gatehouse/pkg/storage/postgres"
)

// ServerDeps holds the wired dependencies of the HTTP surface
type ServerDeps struct {
	DB        *sql.DB
	Resolver  *identity.Resolver
	Evaluator *policy.Evaluator
	Orgs      *orgs.PostgresService
	Deleter   *postgres.CascadeDeleter
	Audit     *audit.DBLogger
	Metrics   *observability.Metrics
	Log       *logrus.Logger
}

// Server is the authorization service's HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer creates a server with all routes and middleware registered
func NewServer(deps ServerDeps) *Server {
	router := mux.NewRouter()

	router.Use(mux.MiddlewareFunc(observability.PanicRecoveryMiddleware(deps.Log)))
	if deps.Metrics != nil {
		router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(deps.Metrics)))
	}
	router.Use(PrincipalMiddleware(deps.Resolver, deps.Log))

	NewAuthzHandlers(deps.Evaluator, deps.Audit, deps.Log).RegisterRoutes(router)
	NewPrincipalHandlers(deps.Resolver, deps.Evaluator, deps.Deleter, deps.Audit, deps.Log).RegisterRoutes(router)
	NewOrgHandlers(deps.DB, deps.Orgs, deps.Evaluator, deps.Deleter, deps.Audit, deps.Log).RegisterRoutes(router)

	return &Server{router: router, log: deps.Log}
}

// Handler returns the server's root handler, primarily for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on the given address. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	s.log.WithField("addr", addr).Info("http server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, letting in-flight requests finish
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
