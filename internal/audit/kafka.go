package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter adalah bagian dari kafka.Writer yang dipakai sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink menerbitkan entri audit sebagai JSON. Key pesan adalah id
// entitas sehingga keputusan untuk transaksi yang sama tetap berurutan
// dalam satu partisi.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink membuat sink dengan kafka.Writer untuk topic yang diberikan.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	})
}

// NewKafkaSinkWithWriter membungkus writer yang sudah ada.
func NewKafkaSinkWithWriter(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Write menerbitkan satu entri.
func (s *KafkaSink) Write(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.Entity + ":" + entry.EntityID),
		Value: data,
		Time:  entry.OccurredAt,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}); err != nil {
		return fmt.Errorf("audit: publish: %w", err)
	}
	return nil
}

// Close menutup writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
