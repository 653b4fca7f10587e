// Package kafkasink publishes settled location records to a Kafka topic, one
// message per change, keyed by the form session that produced it.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/andreiashu/geocascade"
	"github.com/andreiashu/geocascade/internal/logger"
	"github.com/andreiashu/geocascade/internal/metrics"
)

// Defaults for a Sink.
const (
	DefaultTimeout = 5 * time.Second
	DefaultBuffer  = 256
)

// ErrClosed is returned by a second Close.
var ErrClosed = errors.New("kafkasink: closed")

// Writer is the part of *kafka.Writer the sink uses; tests substitute a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON message value.
type Event struct {
	Session  string                    `json:"session"`
	Record   geocascade.LocationRecord `json:"record"`
	Complete bool                      `json:"complete"`
	At       time.Time                 `json:"at"`
}

// NewWriter returns a writer for topic. Messages are hashed by key, so all changes
// of one session land on one partition in order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Sink queues events and writes them from a single goroutine.
type Sink struct {
	w       Writer
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	queue  chan kafka.Message
	closed bool
	done   chan struct{}
}

// Option is a functional option for configuring a Sink.
type Option func(*Sink)

// WithTimeout bounds each write.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.timeout = d
	}
}

// WithBuffer sets how many events may wait for the writer; further events are dropped.
func WithBuffer(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan kafka.Message, n)
		}
	}
}

// WithLogger sets the logger for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		s.log = l
	}
}

// New starts a sink writing to w.
func New(w Writer, opts ...Option) *Sink {
	s := &Sink{
		w:       w,
		timeout: DefaultTimeout,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queue == nil {
		s.queue = make(chan kafka.Message, DefaultBuffer)
	}
	if s.log == nil {
		s.log = logger.L()
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for msg := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			metrics.SinkPublishTotal.WithLabelValues("error").Inc()
			s.log.Warn("kafkasink_write_failed", "session", string(msg.Key), "err", err)
			continue
		}
		metrics.SinkPublishTotal.WithLabelValues("ok").Inc()
	}
}

func (s *Sink) message(session string, rec geocascade.LocationRecord) (kafka.Message, error) {
	value, err := json.Marshal(Event{
		Session:  session,
		Record:   rec,
		Complete: rec.FormattedAddress != "",
		At:       s.now().UTC(),
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(session), Value: value}, nil
}

// Publish queues rec without blocking. It returns false when the event was dropped
// because the queue is full or the sink is closed.
func (s *Sink) Publish(session string, rec geocascade.LocationRecord) bool {
	msg, err := s.message(session, rec)
	if err != nil {
		s.log.Error("kafkasink_encode_failed", "session", session, "err", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.SinkPublishTotal.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case s.queue <- msg:
		return true
	default:
		metrics.SinkPublishTotal.WithLabelValues("dropped").Inc()
		s.log.Warn("kafkasink_queue_full", "session", session)
		return false
	}
}

// Listener adapts the sink to geocascade.WithOnChange for one form session.
func (s *Sink) Listener(session string) func(geocascade.LocationRecord) {
	return func(rec geocascade.LocationRecord) {
		s.Publish(session, rec)
	}
}

// Close flushes queued events, waits for the writer goroutine and closes w.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.w.Close()
}
