package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaRelay publishes events to a topic keyed by Event.Key, so every event
// of one order lands on one partition in commit order, and feeds the topic
// back into the local hub. Every instance consumes with its own group id and
// starts at the newest offset: missed events are never replayed.
type KafkaRelay struct {
	hub    *Hub
	writer messageWriter
	reader messageReader
	log    *slog.Logger
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// GroupID must be unique per instance.
	GroupID string
}

func NewKafkaRelay(cfg KafkaConfig, hub *Hub, log *slog.Logger) (*KafkaRelay, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: empty topic")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	return newKafkaRelay(hub, w, r, log), nil
}

func newKafkaRelay(hub *Hub, w messageWriter, r messageReader, log *slog.Logger) *KafkaRelay {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaRelay{hub: hub, writer: w, reader: r, log: log.With("component", "kafka_relay")}
}

func (k *KafkaRelay) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev, k.hub.Router().Groups(ev))
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Key()), Value: data}); err != nil {
		return fmt.Errorf("kafka: write %s: %w", ev.Kind(), err)
	}
	return nil
}

// Run consumes until ctx is done.
func (k *KafkaRelay) Run(ctx context.Context) error {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.log.Error("kafka_read_failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		ev, groups, err := Decode(m.Value)
		if err != nil {
			k.log.Warn("kafka_decode_failed", "offset", m.Offset, "error", err)
			continue
		}
		k.hub.Deliver(ev, groups)
	}
}

func (k *KafkaRelay) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}
