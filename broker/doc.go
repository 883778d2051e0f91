// Package broker moves task messages through NATS JetStream.
//
// Messages are published to one of four priority topics,
// segtool.tasks.{priority}, with the message type as the last subject token.
// Each handled type gets one durable consumer filtering
// segtool.tasks.*.{type}; deliveries run on a shared bounded worker pool.
//
// A failed handler is retried with exponential backoff. The retry is a fresh
// publish with retry_count incremented, scheduled on a timer so the worker is
// released while the delay elapses. The original delivery stays un-acked
// until that publish succeeds, so a crash in between leads to broker
// redelivery rather than a lost task. Once retry_count reaches max_retries
// the original body is published to the dead-letter stream and acked.
//
//	reg := broker.NewRegistry()
//	reg.Register(task.TypeSegment, segmentHandler)
//	reg.MarkUnsupported(task.TypeBatch)
//
//	m, err := broker.NewManager(broker.NewNATSTransport(client), reg, cfg,
//	    broker.WithStatusStore(cache), broker.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Stop(context.Background())
package broker
