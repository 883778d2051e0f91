package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

type published struct {
	Subject string
	Data    []byte
	Headers nats.Header
	MsgID   string
}

type subscription struct {
	spec    ConsumerSpec
	handler func(Delivery)
	stopped bool
}

// fakeTransport delivers published task messages synchronously to matching
// subscriptions and drops duplicate message IDs the way JetStream does.
type fakeTransport struct {
	mu           sync.Mutex
	provisionErr error
	subscribeErr error
	failSubjects map[string]error
	seen         map[string]bool
	msgs         []published
	subs         []*subscription
	deliveries   []*fakeDelivery
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failSubjects: make(map[string]error), seen: make(map[string]bool)}
}

func (f *fakeTransport) Provision(context.Context) error { return f.provisionErr }

func (f *fakeTransport) Healthy() bool { return true }

func (f *fakeTransport) failPublish(subject string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failSubjects, subject)
		return
	}
	f.failSubjects[subject] = err
}

func (f *fakeTransport) Publish(_ context.Context, subject string, data []byte, headers nats.Header, msgID string) error {
	f.mu.Lock()
	if err := f.failSubjects[subject]; err != nil {
		f.mu.Unlock()
		return err
	}
	if msgID != "" && f.seen[msgID] {
		f.mu.Unlock()
		return nil
	}
	if msgID != "" {
		f.seen[msgID] = true
	}
	f.msgs = append(f.msgs, published{Subject: subject, Data: data, Headers: headers, MsgID: msgID})
	var targets []*subscription
	for _, s := range f.subs {
		if !s.stopped && subjectMatches(s.spec.FilterSubject, subject) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		f.deliver(s, subject, data, headers)
	}
	return nil
}

// inject delivers raw data on subject as if it had been published.
func (f *fakeTransport) inject(subject string, data []byte, headers nats.Header) *fakeDelivery {
	f.mu.Lock()
	var target *subscription
	for _, s := range f.subs {
		if !s.stopped && subjectMatches(s.spec.FilterSubject, subject) {
			target = s
			break
		}
	}
	f.mu.Unlock()
	if target == nil {
		return nil
	}
	return f.deliver(target, subject, data, headers)
}

func (f *fakeTransport) deliver(s *subscription, subject string, data []byte, headers nats.Header) *fakeDelivery {
	d := &fakeDelivery{subject: subject, data: data, headers: headers, settled: make(chan struct{})}
	f.mu.Lock()
	f.deliveries = append(f.deliveries, d)
	f.mu.Unlock()
	s.handler(d)
	return d
}

func (f *fakeTransport) Subscribe(_ context.Context, spec ConsumerSpec, handler func(Delivery)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	s := &subscription{spec: spec, handler: handler}
	f.subs = append(f.subs, s)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		s.stopped = true
	}, nil
}

func (f *fakeTransport) published(subject string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.msgs {
		if p.Subject == subject || (strings.HasSuffix(subject, ">") && strings.HasPrefix(p.Subject, strings.TrimSuffix(subject, ">"))) {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeTransport) activeSubs() []ConsumerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ConsumerSpec
	for _, s := range f.subs {
		if !s.stopped {
			out = append(out, s.spec)
		}
	}
	return out
}

func (f *fakeTransport) allDeliveries() []*fakeDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeDelivery(nil), f.deliveries...)
}

func subjectMatches(filter, subject string) bool {
	ft := strings.Split(filter, ".")
	st := strings.Split(subject, ".")
	for i, tok := range ft {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(ft) == len(st)
}

type fakeDelivery struct {
	subject string
	data    []byte
	headers nats.Header

	mu         sync.Mutex
	acks       int
	naks       int
	nakDelay   time.Duration
	inProgress int
	settled    chan struct{}
	once       sync.Once
}

func (d *fakeDelivery) Subject() string      { return d.subject }
func (d *fakeDelivery) Data() []byte         { return d.data }
func (d *fakeDelivery) Headers() nats.Header { return d.headers }

func (d *fakeDelivery) settle() { d.once.Do(func() { close(d.settled) }) }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	d.acks++
	d.mu.Unlock()
	d.settle()
	return nil
}

func (d *fakeDelivery) Nak() error {
	d.mu.Lock()
	d.naks++
	d.mu.Unlock()
	d.settle()
	return nil
}

func (d *fakeDelivery) NakWithDelay(delay time.Duration) error {
	d.mu.Lock()
	d.naks++
	d.nakDelay = delay
	d.mu.Unlock()
	d.settle()
	return nil
}

func (d *fakeDelivery) InProgress() error {
	d.mu.Lock()
	d.inProgress++
	d.mu.Unlock()
	return nil
}

func (d *fakeDelivery) counts() (acks, naks int, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acks, d.naks, d.nakDelay
}

func (d *fakeDelivery) isSettled() bool {
	select {
	case <-d.settled:
		return true
	default:
		return false
	}
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// manualScheduler records timers and fires them on demand.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns timers that have neither fired nor been stopped.
func (s *manualScheduler) pending() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		t.mu.Lock()
		live := !t.stopped && !t.fired
		t.mu.Unlock()
		if live {
			out = append(out, t)
		}
	}
	return out
}

func (s *manualScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

// fireNext runs the oldest live timer and reports whether there was one.
func (s *manualScheduler) fireNext() bool {
	p := s.pending()
	if len(p) == 0 {
		return false
	}
	t := p[0]
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	t.fn()
	return true
}

type recordingStore struct {
	mu      sync.Mutex
	records map[string]task.Record
	history []task.Record
}

func newRecordingStore() *recordingStore {
	return &recordingStore{records: make(map[string]task.Record)}
}

func (s *recordingStore) SaveTaskRecord(_ context.Context, rec task.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.MessageID] = rec
	s.history = append(s.history, rec)
	return nil
}

func (s *recordingStore) TaskRecord(_ context.Context, id string) (task.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return task.Record{}, errors.ErrKeyNotFound
	}
	return rec, nil
}

func (s *recordingStore) statuses(id string) []task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Status
	for _, r := range s.history {
		if r.MessageID == id {
			out = append(out, r.Status)
		}
	}
	return out
}

func (s *recordingStore) status(id string) task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Status
}
