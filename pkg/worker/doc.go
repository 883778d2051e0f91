// Package worker provides the bounded worker pool that runs task handlers.
//
// A Pool owns a fixed number of goroutines reading from a bounded queue.
// Submit never blocks: when the queue is full it returns ErrQueueFull and the
// caller decides how to push back (the broker asks JetStream to redeliver
// later). A panicking processor is recovered and counted as a failure.
//
//	pool := worker.NewPool(8, 64, func(ctx context.Context, d delivery) error {
//	    return handle(ctx, d)
//	}, worker.WithMetricsRegistry[delivery](registry, "tasks"))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(30 * time.Second)
//
// Stats are always collected; WithMetricsRegistry also exports them to
// Prometheus under segtool_worker_*.
package worker
