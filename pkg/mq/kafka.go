package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
)

// 审计事件类型
const (
	EventUserRegistered     = "user.registered"
	EventUserLockedOut      = "user.locked_out"
	EventInviteRedeemed     = "invite.redeemed"
	EventTokenReuseDetected = "token.reuse_detected"
	EventTokensRevoked      = "token.revoked_all"
	EventMediaUploaded      = "media.uploaded"
	EventMediaDeleted       = "media.deleted"
	EventMediaProcessed     = "media.processed"
)

// Event 审计事件
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	UserID     uint           `json:"user_id,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent 生成带 ULID 的事件
func NewEvent(eventType string, userID uint, subject string, data map[string]any) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		UserID:     userID,
		Subject:    subject,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaProducer(cfg *config.KafkaConfig, logger *zap.Logger) (*KafkaProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Net.DialTimeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("启动 Sarama 生产者失败: %w", err)
	}
	return NewKafkaProducerWith(producer, cfg.Topic, logger), nil
}

// NewKafkaProducerWith 包装已有的同步生产者
func NewKafkaProducerWith(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaProducer {
	return &KafkaProducer{producer: producer, topic: topic, logger: logger}
}

// Publish 以用户 ID 为 key 发送, 同一用户的事件落在同一分区
func (k *KafkaProducer) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(event.UserID), 10)),
		Value: sarama.ByteEncoder(bytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到 kafka 失败: %w", err)
	}

	k.logger.Debug("event published",
		zap.String("type", event.Type),
		zap.String("topic", k.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (k *KafkaProducer) Close() error {
	return k.producer.Close()
}

// NoopPublisher 未启用 Kafka 时使用
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
