package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"TradeRAG/internal/modules/ai/infrastructure/mq"

	"github.com/IBM/sarama"
)

type saramaPublisher struct {
	p sarama.SyncProducer
}

// NewPublisher 幂等同步 producer，按 key 哈希分区
func NewPublisher(cfg Config) (mq.Publisher, error) {
	brokers, err := cfg.brokers()
	if err != nil {
		return nil, err
	}

	sc := newSaramaConfig(cfg)
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return nil, err
	}
	return &saramaPublisher{p: p}, nil
}

func (s *saramaPublisher) Publish(ctx context.Context, msg mq.Message) (mq.PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return mq.PublishResult{}, err
	}
	if strings.TrimSpace(msg.Topic) == "" {
		return mq.PublishResult{}, errors.New("kafka topic is empty")
	}

	partition, offset, err := s.p.SendMessage(toProducerMessage(msg))
	if err != nil {
		return mq.PublishResult{}, err
	}
	return mq.PublishResult{Partition: partition, Offset: offset}, nil
}

func (s *saramaPublisher) Close() error {
	if s == nil || s.p == nil {
		return nil
	}
	return s.p.Close()
}

func toProducerMessage(msg mq.Message) *sarama.ProducerMessage {
	m := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}
	if len(msg.Key) > 0 {
		m.Key = sarama.ByteEncoder(msg.Key)
	}
	for k, v := range msg.Headers {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m.Headers = append(m.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return m
}
