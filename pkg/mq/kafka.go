package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled     bool             `toml:"enabled"`
	Brokers     []string         `toml:"brokers"`
	EventsTopic string           `toml:"events_topic"` // 变更事件 topic，为空则不发布
	Consumers   []ConsumerConfig `toml:"consumers"`
}

// ConsumerConfig 单个消费者配置
type ConsumerConfig struct {
	Name   string   `toml:"name"`   // 消费者名称（用于日志）
	Group  string   `toml:"group"`  // 消费组
	Topics []string `toml:"topics"` // 订阅的 topics
}

// Validate 验证配置
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers is required when kafka is enabled")
	}
	for i, consumer := range c.Consumers {
		if consumer.Group == "" {
			return fmt.Errorf("consumers[%d].group is required", i)
		}
		if len(consumer.Topics) == 0 {
			return fmt.Errorf("consumers[%d].topics is required", i)
		}
	}
	return nil
}

// KafkaConsumer Kafka 消费者
type KafkaConsumer struct {
	logger  *slog.Logger
	name    string
	topics  []string
	client  sarama.ConsumerGroup
	handler MessageHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaConsumer 创建 Kafka 消费者
func NewKafkaConsumer(brokers []string, config ConsumerConfig, handler MessageHandler) (*KafkaConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	client, err := sarama.NewConsumerGroup(brokers, config.Group, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return newKafkaConsumer(client, config, handler), nil
}

func newKafkaConsumer(client sarama.ConsumerGroup, config ConsumerConfig, handler MessageHandler) *KafkaConsumer {
	name := config.Name
	if name == "" {
		name = config.Group
	}
	return &KafkaConsumer{
		logger:  slog.Default().With("module", "kafka-consumer", "name", name),
		name:    name,
		topics:  config.Topics,
		client:  client,
		handler: handler,
	}
}

// Start 启动消费者，在首次分配分区后返回
func (c *KafkaConsumer) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	ready := make(chan struct{})
	var once sync.Once

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				ready:   func() { once.Do(func() { close(ready) }) },
				handler: c.handler,
				logger:  c.logger,
			}

			if err := c.client.Consume(ctx, c.topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
					return
				}
				c.logger.Error("consumer error", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	select {
	case <-ready:
		c.logger.Info("consumer started", "topics", c.topics)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止消费者
func (c *KafkaConsumer) Stop() error {
	if c == nil {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.wg.Wait()

	if c.client != nil {
		return c.client.Close()
	}

	return nil
}

// consumerGroupHandler 实现 sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	ready   func()
	handler MessageHandler
	logger  *slog.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.ready()
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.logger.Debug("received message",
				"topic", message.Topic,
				"partition", message.Partition,
				"offset", message.Offset,
			)

			if err := h.handler(session.Context(), message.Topic, message.Value); err != nil {
				h.logger.Error("failed to handle message",
					"topic", message.Topic,
					"offset", message.Offset,
					"error", err,
				)
				// 继续处理下一条消息，不阻塞
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	logger *slog.Logger
	client sarama.SyncProducer
}

// 确保 KafkaProducer 实现 MessageQueue 接口
var _ MessageQueue = (*KafkaProducer)(nil)

// NewKafkaProducer 创建 Kafka 生产者
func NewKafkaProducer(config KafkaConfig) (*KafkaProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	client, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return NewKafkaProducerWithClient(client), nil
}

// NewKafkaProducerWithClient wraps an existing sync producer.
func NewKafkaProducerWithClient(client sarama.SyncProducer) *KafkaProducer {
	return &KafkaProducer{
		logger: slog.Default().With("module", "kafka-producer"),
		client: client,
	}
}

// Publish 发布消息
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(message),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err := p.client.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Debug("message sent",
		"topic", topic,
		"partition", partition,
		"offset", offset,
	)

	return nil
}

// Close 关闭生产者
func (p *KafkaProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Subscribe 订阅（Producer 不支持，仅用于满足 MessageQueue 接口）
func (p *KafkaProducer) Subscribe(string, MessageHandler) error {
	return fmt.Errorf("kafka producer does not support subscribe, use KafkaConsumer instead")
}
