package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"TradeRAG/internal/modules/ai/infrastructure/mq"
	"TradeRAG/pkg/zlog"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type ConsumerConfig struct {
	Config
	GroupID    string
	Topics     []string
	FromOldest bool // 新 group 从最早位点开始（默认最新）
}

type saramaConsumer struct {
	cg     sarama.ConsumerGroup
	topics []string
}

func NewConsumer(cfg ConsumerConfig) (mq.Consumer, error) {
	brokers, err := cfg.brokers()
	if err != nil {
		return nil, err
	}
	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		return nil, errors.New("kafka consumer group id is empty")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka topics is empty")
	}

	sc := newSaramaConfig(cfg.Config)
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second

	cg, err := sarama.NewConsumerGroup(brokers, groupID, sc)
	if err != nil {
		return nil, err
	}
	return &saramaConsumer{cg: cg, topics: cfg.Topics}, nil
}

// Run 阻塞消费直到 ctx 取消；rebalance 后自动重新加入
func (c *saramaConsumer) Run(ctx context.Context, handler mq.Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	h := &consumerGroupHandler{h: handler}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.cg.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
	}
}

func (c *saramaConsumer) Close() error {
	if c == nil || c.cg == nil {
		return nil
	}
	return c.cg.Close()
}

type consumerGroupHandler struct {
	h mq.Handler
}

func (consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		msg := fromConsumerMessage(m)
		if err := h.h.Handle(sess.Context(), msg); err != nil {
			// 记录后跳过，不标记该条
			zlog.Warn("kafka handle failed",
				zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			continue
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

func fromConsumerMessage(m *sarama.ConsumerMessage) mq.Message {
	msg := mq.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, hdr := range m.Headers {
			if hdr == nil || len(hdr.Key) == 0 {
				continue
			}
			msg.Headers[string(hdr.Key)] = string(hdr.Value)
		}
	}
	return msg
}
