// Package errors implements a three-class error model: Transient (retry),
// Invalid (bad input, do not retry) and Fatal (stop).
//
// Wrap helpers produce messages of the form
//
//	component.method: action failed: cause
//
// and keep the cause reachable through errors.Is and errors.As:
//
//	if err := kv.Put(ctx, key, value); err != nil {
//		return errs.WrapTransient(err, "distcache", "Set", "put manifest")
//	}
//
// Errors that carry no class are classified by the shared sentinels and
// then by keywords in their message. The task broker asks Retryable before
// scheduling another attempt; an invalid error goes straight to the
// dead-letter stream.
package errors
