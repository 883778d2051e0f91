// Package metric owns the Prometheus registry and the ops HTTP server.
//
// Core task metrics (published, consumed, failed, retried, dead-lettered and
// processing duration) and NATS connection metrics are registered by
// NewMetricsRegistry. Components register their own collectors through
// MetricsRegistrar, keyed by component and metric name so a second
// registration of the same metric is rejected.
//
// The Server exposes /metrics, /livez and any routes mounted with RouteFunc:
//
//	registry := metric.NewMetricsRegistry()
//	srv := metric.NewServer(9090, "/metrics", registry, func(r chi.Router) {
//		r.Get("/stats", statsHandler)
//	})
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Stop(context.Background())
package metric
