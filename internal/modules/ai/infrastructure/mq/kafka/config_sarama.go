package kafka

import (
	"errors"
	"strings"

	"github.com/IBM/sarama"
)

// Config 三类客户端（producer / admin / consumer group）共用的连接参数
type Config struct {
	Brokers  []string
	ClientID string
}

func (c Config) brokers() ([]string, error) {
	out := make([]string, 0, len(c.Brokers))
	for _, b := range c.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	return out, nil
}

func newSaramaConfig(c Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(c.ClientID)
	if sc.ClientID == "" {
		sc.ClientID = "traderag"
	}
	return sc
}
