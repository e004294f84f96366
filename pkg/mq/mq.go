// Package mq moves vector store messages over Kafka: change events out,
// write commands in.
package mq

import "context"

// MessageQueue 消息队列接口
type MessageQueue interface {
	// Publish sends message to topic. key selects the partition; records
	// of one collection share a key so their events stay ordered.
	Publish(ctx context.Context, topic string, key, message []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, topic string, message []byte) error
