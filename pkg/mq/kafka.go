// Package mq 提供 Kafka 生产者与消费循环，处理失败的消息转入死信队列
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	// 重试退避（毫秒）
	RetryBackoff int
}

// Message 待发送的消息
type Message struct {
	Key   string
	Value any
}

// messageWriter kafka.Writer 的最小子集
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig, logger *slog.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}
	logger.Info("kafka producer created", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer, logger: logger.With("module", "kafka_producer")}
}

// SendMessages 以 JSON 编码批量发送到同一 topic，同一 key 落在同一分区
func (kp *KafkaProducer) SendMessages(ctx context.Context, topic string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	batch := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		batch = append(batch, kafka.Message{Topic: topic, Key: []byte(m.Key), Value: data})
	}

	if err := kp.writer.WriteMessages(ctx, batch...); err != nil {
		kp.logger.ErrorContext(ctx, "failed to send kafka messages", "topic", topic, "count", len(batch), "error", err)
		return err
	}
	kp.logger.DebugContext(ctx, "kafka messages sent", "topic", topic, "count", len(batch))
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}

// Handler 处理单条消息，返回错误时消息进入死信队列
type Handler func(ctx context.Context, msg kafka.Message) error

// messageReader kafka.Reader 的最小子集
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer 消费组消费者，逐条处理后提交 offset
type KafkaConsumer struct {
	reader     messageReader
	deadLetter *DeadLetterQueue
	logger     *slog.Logger
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg KafkaConfig, topic string, dlq *DeadLetterQueue, logger *slog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: time.Duration(cfg.SessionTimeout) * time.Second,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})
	logger.Info("kafka consumer created", "brokers", cfg.Brokers, "topic", topic, "group_id", cfg.GroupID)
	return &KafkaConsumer{reader: reader, deadLetter: dlq, logger: logger.With("module", "kafka_consumer", "topic", topic)}
}

// Run 阻塞消费直到 ctx 结束
func (kc *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			kc.logger.ErrorContext(ctx, "failed to fetch kafka message", "error", err)
			return err
		}

		if herr := handle(ctx, msg); herr != nil {
			kc.logger.WarnContext(ctx, "message handling failed", "offset", msg.Offset, "key", string(msg.Key), "error", herr)
			if kc.deadLetter != nil {
				if dlqErr := kc.deadLetter.Send(ctx, msg, herr); dlqErr != nil {
					// 死信写入失败时不提交，下次重新投递
					return fmt.Errorf("dead letter: %w", dlqErr)
				}
			}
		}

		if err := kc.reader.CommitMessages(ctx, msg); err != nil {
			kc.logger.ErrorContext(ctx, "failed to commit kafka offset", "offset", msg.Offset, "error", err)
			return err
		}
	}
}

// Close 关闭消费者
func (kc *KafkaConsumer) Close() error {
	return kc.reader.Close()
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer *KafkaProducer
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer *KafkaProducer, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

// Send 发送消息到死信队列
func (dlq *DeadLetterQueue) Send(ctx context.Context, original kafka.Message, cause error) error {
	return dlq.producer.SendMessages(ctx, dlq.topic, Message{
		Key: string(original.Key),
		Value: map[string]any{
			"original_topic":    original.Topic,
			"original_offset":   original.Offset,
			"original_value":    string(original.Value),
			"failure_error":     cause.Error(),
			"failure_timestamp": time.Now().UTC(),
		},
	})
}
