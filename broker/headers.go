package broker

import (
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Rensir56/SegTool-for-Jade/task"
)

// Message headers. The body is always the JSON message; headers duplicate
// the envelope so tooling can route and inspect without decoding it.
const (
	HeaderMessageID   = "Segtool-Message-Id"
	HeaderMessageType = "Segtool-Message-Type"
	HeaderUserID      = "Segtool-User-Id"
	HeaderProjectID   = "Segtool-Project-Id"
	HeaderPriority    = "Segtool-Priority"
	HeaderCreatedAt   = "Segtool-Created-At"
	HeaderRetryCount  = "Segtool-Retry-Count"
	HeaderErrorReason = "Segtool-Error-Reason"
	HeaderFailedAt    = "Segtool-Failed-At"
)

// dedupID is the JetStream Nats-Msg-Id of one delivery attempt. Including
// the retry count keeps retries out of the duplicate window of the original.
func dedupID(m *task.Message) string {
	return m.MessageID + "." + strconv.Itoa(m.RetryCount)
}

func deadLetterID(messageID string) string {
	return messageID + ".dlq"
}

func messageHeaders(m *task.Message) nats.Header {
	h := nats.Header{}
	h.Set(HeaderMessageID, m.MessageID)
	h.Set(HeaderMessageType, string(m.MessageType))
	h.Set(HeaderUserID, m.UserID)
	h.Set(HeaderProjectID, m.ProjectID)
	h.Set(HeaderPriority, string(m.Priority))
	h.Set(HeaderCreatedAt, strconv.FormatFloat(m.CreatedAt, 'f', -1, 64))
	h.Set(HeaderRetryCount, strconv.Itoa(m.RetryCount))
	return h
}

// deadLetterHeaders copies the delivery headers and adds the failure reason.
// A body that never decoded has no message and keeps only what was sent.
func deadLetterHeaders(orig nats.Header, m *task.Message, reason string, at time.Time) nats.Header {
	h := nats.Header{}
	for k, v := range orig {
		if k == nats.MsgIdHdr {
			continue
		}
		h[k] = append([]string(nil), v...)
	}
	if m != nil {
		for k, v := range messageHeaders(m) {
			h[k] = v
		}
	}
	h.Set(HeaderErrorReason, reason)
	h.Set(HeaderFailedAt, at.UTC().Format(time.RFC3339Nano))
	return h
}
