// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and graceful shutdown handling.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AuthzChecksTotal.WithLabelValues("read", "true").Inc()
//
// Business metrics:
//
//	metrics.PrincipalsTotal.Set(float64(count))
//	metrics.MembershipsTotal.Set(float64(activeMembers))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(conns.Primary())
//	status := checker.Check(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: Request logging middleware
package observability
