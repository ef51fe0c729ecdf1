// Package anchor pushes audit fingerprints to an external immutable log and
// records the returned reference on the entry.
package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bizportal/internal/audit/models"
	"bizportal/internal/platform/kafka"
)

// Anchor submits a fingerprint externally and returns a reference to it.
type Anchor interface {
	Anchor(ctx context.Context, entry *models.Entry) (string, error)
}

// Publisher is the Kafka producer surface used by KafkaAnchor.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) (kafka.Position, error)
}

// KafkaAnchor writes fingerprints to a retained Kafka topic. The record
// position is the anchor reference.
type KafkaAnchor struct {
	publisher Publisher
	topic     string
}

func NewKafkaAnchor(publisher Publisher, topic string) *KafkaAnchor {
	return &KafkaAnchor{publisher: publisher, topic: topic}
}

type anchorRecord struct {
	EntryID   string `json:"entryId"`
	Hash      string `json:"hash"`
	EventType string `json:"eventType"`
	Timestamp string `json:"timestamp"`
}

func (a *KafkaAnchor) Anchor(ctx context.Context, entry *models.Entry) (string, error) {
	value, err := json.Marshal(anchorRecord{
		EntryID:   entry.ID.String(),
		Hash:      entry.Hash,
		EventType: string(entry.EventType),
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("marshal anchor record: %w", err)
	}
	pos, err := a.publisher.Publish(ctx, a.topic, []byte(entry.ID.String()), value)
	if err != nil {
		return "", err
	}
	return pos.String(), nil
}
