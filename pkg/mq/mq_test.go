package mq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/vecstore/pkg/vector"
)

func TestKafkaProducer(t *testing.T) {
	ctx := context.Background()

	t.Run("SendsKeyedMessage", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, nil)
		mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != "vecstore.events" {
				return errors.New("unexpected topic " + msg.Topic)
			}
			key, err := msg.Key.Encode()
			if err != nil {
				return err
			}
			if string(key) != "mem0" {
				return errors.New("unexpected key " + string(key))
			}
			return nil
		})

		p := NewKafkaProducerWithClient(mock)
		require.NoError(t, p.Publish(ctx, "vecstore.events", []byte("mem0"), []byte(`{}`)))
		require.NoError(t, p.Close())
	})

	t.Run("SendFailure", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, nil)
		mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		p := NewKafkaProducerWithClient(mock)
		err := p.Publish(ctx, "t", nil, []byte("x"))
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		require.NoError(t, p.Close())
	})

	t.Run("CanceledContext", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, nil)
		p := NewKafkaProducerWithClient(mock)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, p.Publish(cctx, "t", nil, []byte("x")), context.Canceled)
		require.NoError(t, p.Close())
	})

	t.Run("SubscribeUnsupported", func(t *testing.T) {
		p := NewKafkaProducerWithClient(mocks.NewSyncProducer(t, nil))
		assert.Error(t, p.Subscribe("t", nil))
	})
}

func TestEventPublisher(t *testing.T) {
	q := NewInMemoryQueue()

	var received []vector.ChangeEvent
	require.NoError(t, q.Subscribe("events", func(_ context.Context, topic string, msg []byte) error {
		var e vector.ChangeEvent
		if err := json.Unmarshal(msg, &e); err != nil {
			return err
		}
		received = append(received, e)
		return nil
	}))

	pub := NewEventPublisher(q, "events")
	event := vector.ChangeEvent{
		Op:         vector.OpInsert,
		Collection: "mem0",
		Scope:      vector.ForUser("alice"),
		IDs:        []string{"r1"},
		Count:      1,
		Time:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, received, 1)
	assert.Equal(t, event, received[0])
	assert.Len(t, q.Messages("events"), 1)
	assert.Empty(t, q.Messages("other"))
}

func TestInMemoryQueueHandlerError(t *testing.T) {
	q := NewInMemoryQueue()
	boom := errors.New("boom")
	require.NoError(t, q.Subscribe("t", func(context.Context, string, []byte) error { return boom }))

	assert.ErrorIs(t, q.Publish(context.Background(), "t", nil, []byte("x")), boom)
	assert.Len(t, q.Messages("t"), 1)
}

func TestKafkaConfigValidate(t *testing.T) {
	assert.NoError(t, (&KafkaConfig{}).Validate())
	assert.Error(t, (&KafkaConfig{Enabled: true}).Validate())
	assert.Error(t, (&KafkaConfig{
		Enabled:   true,
		Brokers:   []string{"localhost:9092"},
		Consumers: []ConsumerConfig{{Topics: []string{"cmds"}}},
	}).Validate())
	assert.NoError(t, (&KafkaConfig{
		Enabled:   true,
		Brokers:   []string{"localhost:9092"},
		Consumers: []ConsumerConfig{{Group: "g", Topics: []string{"cmds"}}},
	}).Validate())
}

// fakeSession 和 fakeClaim 只实现 ConsumeClaim 用到的方法
type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimMarksEveryMessage(t *testing.T) {
	var handled []string
	h := &consumerGroupHandler{
		ready: func() {},
		handler: func(_ context.Context, _ string, msg []byte) error {
			handled = append(handled, string(msg))
			if string(msg) == "bad" {
				return errors.New("rejected")
			}
			return nil
		},
		logger:  slog.Default(),
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "cmds", Offset: 1, Value: []byte("ok")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "cmds", Offset: 2, Value: []byte("bad")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "cmds", Offset: 3, Value: []byte("ok")}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []string{"ok", "bad", "ok"}, handled)
	assert.Equal(t, []int64{1, 2, 3}, session.marked)
}
