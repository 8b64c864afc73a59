package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaDeliveryAdapter ships payloads to a Kafka topic instead of an
// HTTP collector. The endpoint argument of Send is used as the topic,
// the payload's user id as the message key so one visitor's batches
// land on one partition.
type KafkaDeliveryAdapter struct {
	writer *kafka.Writer
}

var _ DeliveryAdapter = (*KafkaDeliveryAdapter)(nil)

// NewKafkaDeliveryAdapter creates an adapter writing to the given
// brokers. Close must be called when the adapter is no longer needed.
func NewKafkaDeliveryAdapter(brokers []string) *KafkaDeliveryAdapter {
	return &KafkaDeliveryAdapter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// Send writes the payload as a JSON message on the topic named by
// endpoint. A write error is a transient failure; Kafka has no notion
// of a permanent client rejection, so success maps to 200.
func (k *KafkaDeliveryAdapter) Send(endpoint string, payload *QueuePayload, headers map[string]string) (*DeliveryResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := kafka.Message{
		Topic: endpoint,
		Key:   []byte(payload.UserID),
		Value: data,
	}
	for key, value := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return nil, err
	}
	return &DeliveryResult{OK: true, Status: http.StatusOK}, nil
}

// Close flushes and releases the underlying writer.
func (k *KafkaDeliveryAdapter) Close() error {
	return k.writer.Close()
}
