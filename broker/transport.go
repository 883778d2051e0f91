package broker

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/natsclient"
)

// Delivery is one received message. jetstream.Msg satisfies it.
type Delivery interface {
	Subject() string
	Data() []byte
	Headers() nats.Header
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	InProgress() error
}

// ConsumerSpec describes one durable consumer.
type ConsumerSpec struct {
	Durable       string
	FilterSubject string
	AckWait       time.Duration
	MaxAckPending int
}

// Transport is the broker surface the Manager needs.
type Transport interface {
	// Provision creates or updates the task and dead-letter streams.
	Provision(ctx context.Context) error
	// Publish sends data with headers. A non-empty msgID sets Nats-Msg-Id.
	Publish(ctx context.Context, subject string, data []byte, headers nats.Header, msgID string) error
	// Subscribe starts a durable consumer and returns a function that stops it.
	Subscribe(ctx context.Context, spec ConsumerSpec, handler func(Delivery)) (func(), error)
	// Healthy reports whether the transport can currently publish.
	Healthy() bool
}

// StreamConfig tunes the streams created by NATSTransport.
type StreamConfig struct {
	Replicas        int
	MaxAge          time.Duration
	DeadLetterAge   time.Duration
	DuplicateWindow time.Duration
}

// DefaultStreamConfig keeps tasks for a day and dead letters for a week.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Replicas:        1,
		MaxAge:          24 * time.Hour,
		DeadLetterAge:   7 * 24 * time.Hour,
		DuplicateWindow: 2 * time.Minute,
	}
}

// NATSTransport is the JetStream Transport.
type NATSTransport struct {
	client  *natsclient.Client
	streams StreamConfig
}

// NewNATSTransport wraps a connected client.
func NewNATSTransport(client *natsclient.Client, streams StreamConfig) *NATSTransport {
	if streams.Replicas <= 0 {
		streams.Replicas = 1
	}
	return &NATSTransport{client: client, streams: streams}
}

// Provision implements Transport.
func (t *NATSTransport) Provision(ctx context.Context) error {
	if _, err := t.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:       TaskStream,
		Subjects:   taskSubjects(),
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Replicas:   t.streams.Replicas,
		MaxAge:     t.streams.MaxAge,
		Duplicates: t.streams.DuplicateWindow,
	}); err != nil {
		return errors.WrapFatal(err, "NATSTransport", "Provision", "ensure task stream")
	}
	if _, err := t.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:       DeadLetterStream,
		Subjects:   []string{DeadLetterSubject},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Replicas:   t.streams.Replicas,
		MaxAge:     t.streams.DeadLetterAge,
		Duplicates: t.streams.DuplicateWindow,
	}); err != nil {
		return errors.WrapFatal(err, "NATSTransport", "Provision", "ensure dead-letter stream")
	}
	return nil
}

// Publish implements Transport.
func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte, headers nats.Header, msgID string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: headers}
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := t.client.PublishMsg(ctx, msg, opts...); err != nil {
		return errors.Wrap(err, "NATSTransport", "Publish", "publish to "+subject)
	}
	return nil
}

// Subscribe implements Transport.
func (t *NATSTransport) Subscribe(ctx context.Context, spec ConsumerSpec, handler func(Delivery)) (func(), error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       spec.Durable,
		FilterSubject: spec.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       spec.AckWait,
		MaxAckPending: spec.MaxAckPending,
		MaxDeliver:    -1,
	}
	stop, err := t.client.Consume(ctx, TaskStream, cfg, func(msg jetstream.Msg) {
		handler(msg)
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "NATSTransport", "Subscribe", "consume "+spec.FilterSubject)
	}
	return stop, nil
}

// Healthy implements Transport.
func (t *NATSTransport) Healthy() bool {
	return t.client.IsHealthy()
}
