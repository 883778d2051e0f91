// Package retry implements exponential backoff with optional jitter.
//
// Do and DoWithResult drive a retry loop for storage and connection calls.
// Errors wrapped with NonRetryable end the loop immediately:
//
//	err := retry.Do(ctx, retry.Conflict(), func() error {
//		if err := update(); errors.Is(err, errBadInput) {
//			return retry.NonRetryable(err)
//		}
//		return err
//	})
//
// Config.Backoff exposes the deterministic delay for a given number of prior
// failures, which the task broker uses to schedule redelivery without
// sleeping.
package retry
