// Package events publishes settlement events to Kafka for downstream
// consumers (stream overlays, analytics).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// ResolvedEvent is emitted once per resolved commitment.
type ResolvedEvent struct {
	CommitmentID string   `json:"commitment_id"`
	Wallet       string   `json:"wallet"`
	StakeAmount  uint64   `json:"stake_amount"`
	TotalPayout  uint64   `json:"total_payout"`
	Tiers        []string `json:"tiers"`
	PayoutTx     string   `json:"payout_tx,omitempty"`
	TsUnixMs     int64    `json:"ts_unix_ms"`
}

// Producer wraps a kafka writer. A nil Producer is a no-op, so callers
// never branch on whether events are enabled.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for the given brokers and topic.
func NewProducer(brokers, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// PublishResolved emits a settlement event keyed by wallet so all of a
// player's settlements land in order on one partition.
func (p *Producer) PublishResolved(ctx context.Context, e ResolvedEvent) error {
	if p == nil {
		return nil
	}
	e.TsUnixMs = time.Now().UnixMilli()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Wallet),
		Value: b,
	})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
