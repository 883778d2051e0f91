// Package segtool dispatches GPU inference work and caches its artifacts.
//
// A node consumes SEGMENT, DETECT and BATCH tasks from four priority
// streams in NATS JetStream, runs them against a model server and stores
// the results in a NATS KV bucket so repeated work is served from cache.
//
// # Layout
//
//	task/             task messages, priorities, status records
//	broker/           priority topics, retry with backoff, dead letters
//	handlers/         SEGMENT, DETECT and BATCH processing
//	distcache/        TTL cache over NATS KV with chunked values
//	pkg/cache/        process-local LRU for image embeddings
//	pkg/codec/        artifact serialization and compression
//	pkg/fingerprint/  deterministic cache keys for clicks and images
//	pkg/tensor/       tensor artifact framing
//	inference/        HTTP client for the model server
//	app/              wiring, lifecycle and the ops HTTP surface
//	cmd/segdispatch/  the node binary
//
// Configuration is layered JSON or YAML with SEGTOOL_* environment
// overrides (see package config). Metrics are exported in the Prometheus
// format under the "segtool" namespace.
package segtool
