package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/api"
	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/config"
	"github.com/gatehouse-dev/gatehouse/pkg/identity"
	"github.com/gatehouse-dev/gatehouse/pkg/observability"
	"github.com/gatehouse-dev/gatehouse/pkg/orgs"
	"github.com/gatehouse-dev/gatehouse/pkg/policy"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
	"github.com/gatehouse-dev/gatehouse/pkg/storage/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}
	if cfg.Observability.LogLevel == observability.DebugLevel {
		log.SetLevel(logrus.DebugLevel)
	}

	model, err := loadModel(cfg.Authz.ModelPath)
	if err != nil {
		log.WithError(err).Error("failed to load relationship model")
		return 1
	}
	log.WithField("model", model.Version()).Info("relationship model loaded")

	connections, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), log)
	if err != nil {
		log.WithError(err).Error("failed to connect to database")
		return 1
	}
	defer connections.Close()

	db := connections.Primary()

	resolver, err := identity.NewResolver(db, cfg.Authz.ResolverCacheSize)
	if err != nil {
		log.WithError(err).Error("failed to create identity resolver")
		return 1
	}
	deleter, err := postgres.NewCascadeDeleter(db, model)
	if err != nil {
		log.WithError(err).Error("failed to create cascade deleter")
		return 1
	}
	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		log.WithError(err).Error("failed to create audit logger")
		return 1
	}

	orgSvc := orgs.NewPostgresService(db)
	evaluator := policy.NewEvaluator(model, orgSvc)
	if overrides := cfg.Authz.PublicTableList(); len(overrides) > 0 {
		tables := make(map[string]bool, len(overrides))
		for _, table := range overrides {
			tables[table] = true
		}
		evaluator = evaluator.WithPublicTables(tables)
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		go pollDBStats(metrics, connections, log)
	}

	server := api.NewServer(api.ServerDeps{
		DB:        db,
		Resolver:  resolver,
		Evaluator: evaluator,
		Orgs:      orgSvc,
		Deleter:   deleter,
		Audit:     auditLog,
		Metrics:   metrics,
		Log:       log,
	})

	healthServer := startHealthServer(cfg, connections, registry, log)

	scheduler := cron.New()
	if _, err := orgSvc.ScheduleInvitationCleanup(scheduler, log); err != nil {
		log.WithError(err).Error("failed to schedule invitation cleanup")
		return 1
	}
	scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
		errCh <- server.Start(addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}()

	slogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	shutdown := observability.NewShutdownManager(slogger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(server.Shutdown)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopped := scheduler.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	waitErr := make(chan error, 1)
	go func() { waitErr <- shutdown.WaitForShutdown() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			return 1
		}
	case err := <-waitErr:
		if err != nil {
			log.WithError(err).Error("shutdown finished with errors")
			return 1
		}
	}

	log.Info("gatehouse stopped")
	return 0
}

func loadModel(path string) (*relmodel.Model, error) {
	if path == "" {
		return relmodel.Default(), nil
	}
	return relmodel.Load(path)
}

// startHealthServer serves liveness, readiness, and metrics on the health
// port, kept separate from the API port for probe isolation
func startHealthServer(cfg *config.Config, connections *postgres.ConnectionManager,
	registry *prometheus.Registry, log *logrus.Logger) *http.Server {

	checker := observability.NewHealthChecker(connections.Primary(), connections.Replicas()...)

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
	mux.HandleFunc("/healthz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(mux, registry)
	}

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: mux,
	}
	go func() {
		log.WithField("addr", server.Addr).Info("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health server failed")
		}
	}()
	return server
}

// pollDBStats keeps the connection pool gauges current
func pollDBStats(metrics *observability.Metrics, connections *postgres.ConnectionManager, log *logrus.Logger) {
	defer observability.RecoverPanic(log, "db stats poller")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.RecordDBStats(connections.Primary())
	}
}
