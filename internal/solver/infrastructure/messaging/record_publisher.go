// Package messaging 把结算记录发布到 Kafka
package messaging

import (
	"context"
	"time"

	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/mq"
)

// Sender mq.KafkaProducer 的发送能力
type Sender interface {
	SendMessages(ctx context.Context, topic string, messages ...mq.Message) error
}

// RecordEnvelope 记录在 topic 上的外层结构
type RecordEnvelope struct {
	Type       string        `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Payload    domain.Record `json:"payload"`
}

// KafkaRecordPublisher 一次调用的全部记录作为一批写入同一 topic
type KafkaRecordPublisher struct {
	sender Sender
	topic  string
}

func NewKafkaRecordPublisher(sender Sender, topic string) *KafkaRecordPublisher {
	return &KafkaRecordPublisher{sender: sender, topic: topic}
}

func (p *KafkaRecordPublisher) Publish(ctx context.Context, records domain.SettlementLog) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]mq.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, mq.Message{
			Key:   partitionKey(r),
			Value: RecordEnvelope{Type: r.EventType(), OccurredAt: r.OccurredAt(), Payload: r},
		})
	}
	return p.sender.SendMessages(ctx, p.topic, msgs...)
}

// partitionKey 同一参与者或同一交易对的记录落在同一分区
func partitionKey(r domain.Record) string {
	switch e := r.(type) {
	case domain.IntentAcceptedEvent:
		return e.Submitter.Hex()
	case domain.ParticipantSettledEvent:
		return e.Submitter.Hex()
	case domain.BatchSettledEvent:
		return domain.PairKey{Low: e.AssetLow, High: e.AssetHigh, Venue: e.Venue}.String()
	case domain.FeesWithdrawnEvent:
		return e.Asset.Hex()
	default:
		return r.EventType()
	}
}
