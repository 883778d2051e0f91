// Package natsclient wraps a NATS connection for the task broker and the
// distributed cache.
//
// A Client dials lazily, tracks connection state and trips a circuit breaker
// after repeated connectivity failures. While the circuit is open every
// operation fails fast with ErrCircuitOpen; after the backoff elapses the next
// operation is let through. Application-level outcomes such as a missing key
// or a CAS conflict do not count as failures.
//
// Streams and consumers:
//
//	client, _ := natsclient.NewClient(url, natsclient.WithLogger(logger))
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
//		Name:     "SEGTOOL_TASKS",
//		Subjects: []string{"segtool.tasks.>"},
//	})
//	stop, err := client.Consume(ctx, "SEGTOOL_TASKS", consumerCfg, func(msg jetstream.Msg) {
//		// handler acks, naks or terms the message
//	})
//	defer stop()
//
// KVStore adds timeouts, typed errors, per-key TTL on Create, a purge and
// re-create PutTTL and a CAS loop (UpdateWithRetry) on top of a bucket.
// Per-key TTLs require NATS server 2.11 and a bucket created with
// LimitMarkerTTL.
//
// TestClient starts a disposable NATS container through testcontainers for
// integration tests built with the "integration" tag.
package natsclient
