package kafka

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// TopicSpec 事实推送 topic 的创建参数
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
}

// EnsureTopic 不存在时创建；已存在则保持原配置不变
func EnsureTopic(cfg Config, spec TopicSpec) error {
	brokers, err := cfg.brokers()
	if err != nil {
		return err
	}
	spec = spec.withDefaults()
	if spec.Name == "" {
		return errors.New("kafka topic is empty")
	}

	admin, err := sarama.NewClusterAdmin(brokers, newSaramaConfig(cfg))
	if err != nil {
		return err
	}
	defer admin.Close()

	topics, err := admin.ListTopics()
	if err != nil {
		return err
	}
	if _, ok := topics[spec.Name]; ok {
		return nil
	}

	if err := admin.CreateTopic(spec.Name, spec.detail(), false); err != nil {
		if errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

func (s TopicSpec) withDefaults() TopicSpec {
	s.Name = strings.TrimSpace(s.Name)
	if s.Partitions <= 0 {
		s.Partitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.Retention <= 0 {
		s.Retention = 24 * time.Hour
	}
	return s
}

func (s TopicSpec) detail() *sarama.TopicDetail {
	retention := strconv.FormatInt(s.Retention.Milliseconds(), 10)
	return &sarama.TopicDetail{
		NumPartitions:     s.Partitions,
		ReplicationFactor: s.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"retention.ms": &retention,
		},
	}
}
