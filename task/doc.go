// Package task defines the envelope carried through the broker for GPU-bound
// work: the message itself, its typed payloads, and the status record kept
// for each message while it moves between queued and terminal states.
//
// A message is created with one of the typed constructors and serialized as
// JSON:
//
//	msg, err := task.NewSegmentMessage("user-1", "project-1", task.SegmentPayload{
//	    ImagePath: "/data/pages/page_3.png",
//	    Clicks:    []fingerprint.Point{{X: 100, Y: 200, Category: 1}},
//	})
//
// Retries resend the full message with RetryCount incremented (see
// Message.NextAttempt); handlers must therefore be idempotent.
package task
