package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-session/internal/models"
)

// KafkaPublisher writes matching transitions to the audit topic, keyed by
// session so one session's transitions stay ordered within a partition.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, t models.Transition) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.SessionKey), Value: b, Time: t.At})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

var ErrIncomplete = errors.New("events: transition without session key or target state")

// Decode parses and checks one transition message.
func Decode(value []byte) (models.Transition, error) {
	var t models.Transition
	if err := json.Unmarshal(value, &t); err != nil {
		return models.Transition{}, err
	}
	if t.SessionKey == "" || t.To == "" {
		return models.Transition{}, ErrIncomplete
	}
	return t, nil
}
