// Package config loads and validates the configuration of a dispatch node.
//
// Config groups the settings of each subsystem: the NATS connection and KV
// bucket, broker consumers and retry policy, distributed cache expiries,
// artifact codec limits, the process-local embedding cache budget, the
// fingerprint grid, the model server and the operations HTTP server.
//
// Loader starts from Default, deep-merges each layer in order (JSON, or
// YAML for .yaml and .yml files), applies SEGTOOL_* environment overrides and
// validates the result:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/segtool/base.yaml")
//	loader.AddLayer("/etc/segtool/production.json")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations may be written as Go duration strings ("90s", "30m") or with a
// day suffix ("7d").
//
// Validation combines validator tags with cross-field checks. Failing fields
// are reported by their JSON path, for example "broker.retry_cap".
//
// SafeConfig hands out deep copies, so callers never share mutable state.
package config
