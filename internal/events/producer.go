package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/distributor-api/internal/domain/order"
)

// ErrBufferFull is returned when the producer inbox cannot take more events.
var ErrBufferFull = errors.New("event buffer full")

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events to Kafka from a background goroutine. Publishing
// never blocks the caller: when the inbox is full the event is dropped.
type Producer struct {
	w     messageWriter
	lg    *zap.Logger
	inbox chan kafka.Message
	done  chan struct{}
	once  sync.Once
	now   func() time.Time
}

// NewProducer creates a Producer for topic. Call Start before publishing.
func NewProducer(brokers []string, topic string, buf int, lg *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, lg)
}

func newProducer(w messageWriter, buf int, lg *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	return &Producer{
		w:     w,
		lg:    lg,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// Start runs the write loop until Close.
func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.lg.Error("Write event",
					zap.ByteString("key", m.Key),
					zap.Error(err),
				)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.lg.Warn("Close kafka writer", zap.Error(err))
		}
	}()
}

// Close flushes queued events and waits for the write loop to exit.
func (p *Producer) Close() {
	p.once.Do(func() { close(p.inbox) })
	<-p.done
}

// Publish queues a message.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    p.now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		return ErrBufferFull
	}
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher emits order.placed events keyed by order id.
type Publisher struct {
	p *Producer
}

// NewPublisher returns an order.Publisher backed by p.
func NewPublisher(p *Producer) *Publisher {
	return &Publisher{p: p}
}

// OrderPlaced queues the order.placed event for o.
func (pub *Publisher) OrderPlaced(_ context.Context, o *order.Order) error {
	id := uuid.New()
	payload := EncodeOrderPlaced(id, pub.p.now(), o)
	return pub.p.Publish(
		[]byte(strconv.FormatInt(o.ID, 10)),
		payload,
		kafka.Header{Key: "event_type", Value: []byte(TypeOrderPlaced)},
		kafka.Header{Key: "event_id", Value: []byte(id.String())},
	)
}
