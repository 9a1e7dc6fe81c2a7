package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
)

// EventHandler 处理一条审计事件, 返回错误时按退避重试
type EventHandler func(ctx context.Context, event Event) error

// Consumer 审计事件消费者, 以消费组方式订阅审计主题
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler EventHandler
	logger  *zap.Logger

	maxRetries int
	backoff    time.Duration

	ready  chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumer 连接 broker 并加入 cfg.GroupID 消费组
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *zap.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 kafka 消费组失败: %w", err)
	}
	return NewConsumerWith(group, cfg.Topic, handler, logger), nil
}

// NewConsumerWith 包装已有的消费组
func NewConsumerWith(group sarama.ConsumerGroup, topic string, handler EventHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		group:      group,
		topic:      topic,
		handler:    handler,
		logger:     logger,
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
		ready:      make(chan struct{}),
	}
}

// Start 在后台消费, 直到 ctx 取消或调用 Stop
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Go(func() {
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Warn("consume session ended", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	})
	c.wg.Go(func() {
		for err := range c.group.Errors() {
			c.logger.Warn("consumer group error", zap.Error(err))
		}
	})
}

// Ready 首次加入消费组后关闭
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("关闭 kafka 消费组失败: %w", err)
	}
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.once.Do(func() { close(c.ready) })
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 无法解析或重试耗尽的消息记录后跳过, 不阻塞分区
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.process(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("undecodable audit event",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if lastErr = c.handler(ctx, event); lastErr == nil {
			return
		}
		if attempt < c.maxRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}
	}
	c.logger.Error("audit event dropped after retries",
		zap.String("id", event.ID),
		zap.String("type", event.Type),
		zap.Int("retries", c.maxRetries),
		zap.Error(lastErr),
	)
}
