// Package app assembles a dispatch node from its configuration.
//
// New builds every component explicitly and hands each one its
// collaborators: the NATS client, the KV-backed distributed cache, the
// process-local embedding cache, the task handlers, the broker manager, the
// health monitor and the metrics registry. Nothing is global; two Apps in
// one process share no state.
//
//	a, err := app.New(ctx, cfg, app.Deps{Logger: logger})
//	if err != nil {
//		return err
//	}
//	if err := a.Start(ctx); err != nil {
//		return err
//	}
//	defer a.Stop(shutdownCtx)
//
// Start provisions the task streams, subscribes one consumer per handled
// message type, starts the ops server and two maintenance loops: a periodic
// cache cleanup and a periodic health check that feeds the health gauges.
//
// The ops server exposes /metrics, /livez, /health, /stats, /tasks/{id}
// and POST /cache/cleanup.
package app
