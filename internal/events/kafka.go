package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"salonbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder copies bus events to a Kafka topic from a background
// goroutine, so a slow broker never blocks the request that published.
type KafkaForwarder struct {
	writer  messageWriter
	logger  zerolog.Logger
	queue   chan *Event
	timeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// NewKafkaWriter builds a hash-balanced writer for cfg.Topic.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaForwarder(writer messageWriter, buffer int, logger *zerolog.Logger) *KafkaForwarder {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "kafka_forwarder").Logger()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &KafkaForwarder{
		writer:  writer,
		logger:  l,
		queue:   make(chan *Event, buffer),
		timeout: 5 * time.Second,
	}
}

// Attach subscribes the forwarder to the appointment event types.
func (f *KafkaForwarder) Attach(bus *EventBus) {
	bus.Subscribe(f.Handle, AppointmentEventTypes...)
}

// Handle enqueues the event. When the buffer is full the event is dropped
// and logged.
func (f *KafkaForwarder) Handle(event *Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		return nil
	}
	select {
	case f.queue <- event:
	default:
		f.logger.Warn().Str("type", event.Type).Str("key", event.Key).Msg("kafka queue full, event dropped")
	}
	return nil
}

func (f *KafkaForwarder) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for event := range f.queue {
			f.write(event)
		}
	}()
}

// Stop drains the queue and closes the writer.
func (f *KafkaForwarder) Stop() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		f.stopped = true
		close(f.queue)
		f.mu.Unlock()

		f.wg.Wait()
		if err := f.writer.Close(); err != nil {
			f.logger.Warn().Err(err).Msg("failed to close kafka writer")
		}
	})
}

func (f *KafkaForwarder) write(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "created_at", Value: []byte(strconv.FormatInt(event.CreatedAt.UnixMilli(), 10))},
		},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		f.logger.Error().Err(err).Str("type", event.Type).Str("key", event.Key).Msg("kafka publish failed")
		return
	}
	f.logger.Debug().Str("type", event.Type).Str("key", event.Key).Msg("event published")
}
