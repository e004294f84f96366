package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/vecstore/pkg/mq"
	"github.com/Zereker/vecstore/pkg/vector"
)

// Command is one write request carried on a command topic.
type Command struct {
	Op      string               `json:"op"`
	Scope   vector.Scope         `json:"scope"`
	Record  *vector.Record       `json:"record,omitempty"`
	Records []vector.Record      `json:"records,omitempty"`
	ID      string               `json:"id,omitempty"`
	Update  *vector.RecordUpdate `json:"update,omitempty"`
	Filter  vector.Filter        `json:"filter,omitempty"`
}

// Consumer 异步写命令消费者
type Consumer struct {
	logger    *slog.Logger
	store     *vector.Store
	consumers []*mq.KafkaConsumer
}

// Config 消费者配置
type Config struct {
	Kafka mq.KafkaConfig
}

// NewConsumer 创建消费者，每个 [[kafka.consumers]] 对应一个消费组
func NewConsumer(store *vector.Store, cfg Config) (*Consumer, error) {
	c := &Consumer{
		logger: slog.Default().With("module", "consumer"),
		store:  store,
	}

	if !cfg.Kafka.Enabled {
		c.logger.Info("kafka disabled, consumer not started")
		return c, nil
	}

	for _, consumerCfg := range cfg.Kafka.Consumers {
		kc, err := mq.NewKafkaConsumer(cfg.Kafka.Brokers, consumerCfg, c.Handle)
		if err != nil {
			_ = c.Stop()
			return nil, fmt.Errorf("consumer %q: %w", consumerCfg.Group, err)
		}
		c.consumers = append(c.consumers, kc)
	}

	return c, nil
}

// Start 启动所有消费者
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.consumers) == 0 {
		c.logger.Info("no consumers configured, skipping start")
		return nil
	}

	c.logger.Info("starting consumers", "count", len(c.consumers))

	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range c.consumers {
		g.Go(func() error {
			return consumer.Start(ctx)
		})
	}

	return g.Wait()
}

// Stop 停止所有消费者
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumers")

	for _, consumer := range c.consumers {
		if err := consumer.Stop(); err != nil {
			c.logger.Error("failed to stop consumer", "error", err)
		}
	}

	return nil
}

// Handle decodes a message into a Command and applies it. It satisfies
// mq.MessageHandler.
func (c *Consumer) Handle(ctx context.Context, topic string, message []byte) error {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return fmt.Errorf("%w: malformed command: %v", vector.ErrInvalidArgument, err)
	}

	if err := c.Apply(ctx, cmd); err != nil {
		return fmt.Errorf("%s on %s: %w", cmd.Op, topic, err)
	}
	return nil
}

// Apply runs cmd against the store.
func (c *Consumer) Apply(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case vector.OpInsert:
		if cmd.Record == nil {
			return fmt.Errorf("%w: record is required", vector.ErrInvalidArgument)
		}
		id, err := c.store.Insert(ctx, cmd.Scope, *cmd.Record)
		if err != nil {
			return err
		}
		c.logger.Debug("record inserted", "id", id)
		return nil

	case vector.OpBatchInsert:
		results, err := c.store.BatchInsert(ctx, cmd.Scope, cmd.Records)
		if err != nil {
			return err
		}
		var errs []error
		for _, r := range results {
			if r.Err != nil {
				errs = append(errs, fmt.Errorf("record %s: %w", r.ID, r.Err))
			}
		}
		return errors.Join(errs...)

	case vector.OpUpdate:
		if cmd.Update == nil {
			return fmt.Errorf("%w: update is required", vector.ErrInvalidArgument)
		}
		return c.store.Update(ctx, cmd.Scope, cmd.ID, *cmd.Update)

	case vector.OpDelete:
		return c.store.Delete(ctx, cmd.Scope, cmd.ID)

	case vector.OpDeleteByFilter:
		n, err := c.store.DeleteByFilter(ctx, cmd.Scope, cmd.Filter)
		if err != nil {
			return err
		}
		c.logger.Debug("records deleted", "count", n)
		return nil

	default:
		return fmt.Errorf("%w: unknown op %q", vector.ErrInvalidArgument, cmd.Op)
	}
}
