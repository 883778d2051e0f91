// Package distcache is the shared, TTL-keyed artifact cache.
//
// Values pass through a codec.Codec, so they are serialized, compressed when
// that pays off and framed with a tag byte. Framed values larger than the
// codec's maximum value size are written as a JSON manifest under
// "{key}:info" plus "{key}:chunk:{i}" pieces; readers reassemble them and
// treat any missing piece as a miss.
//
// Keys follow "{namespace}:{artifact_class}:{file_fingerprint}[:{interaction}]",
// for example "sam:embedding:3f2a..." or "sam:logit:3f2a...:9bc1...".
//
// The cache never fails a caller because the backend is unavailable: Get
// reports a miss and Set becomes a no-op, both with a warning. Load and Store
// expose the underlying errors for callers that need them.
//
// Two backends are provided. NATSBackend stores entries in a JetStream
// key-value bucket using per-key TTLs; MemoryBackend keeps them in process.
package distcache
