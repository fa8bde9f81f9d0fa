package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderRunID     = "run_id"
	HeaderEventType = "event_type"

	EventTypeMarketFact = "market_fact"
)

// FactEvent 新写入知识库的一条事实
type FactEvent struct {
	RunID     string `json:"run_id"`
	Seq       int    `json:"seq"`
	Symbol    string `json:"symbol,omitempty"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// FactFeed 把入库成功的事实逐条推送到 topic，key 为交易对（同一交易对落同一分区）
type FactFeed struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

func NewFactFeed(pub Publisher, topic string) (*FactFeed, error) {
	if pub == nil {
		return nil, errors.New("publisher is nil")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("fact topic is empty")
	}
	return &FactFeed{pub: pub, topic: topic, now: time.Now}, nil
}

// PublishFacts 返回成功条数；遇到第一条失败即停止
func (f *FactFeed) PublishFacts(ctx context.Context, runID string, facts []string) (int, error) {
	sent := 0
	for i, text := range facts {
		ev := FactEvent{
			RunID:     runID,
			Seq:       i,
			Symbol:    FactSymbol(text),
			Text:      text,
			CreatedAt: f.now().UnixMilli(),
		}
		value, err := json.Marshal(ev)
		if err != nil {
			return sent, err
		}
		key := ev.Symbol
		if key == "" {
			key = runID + ":" + strconv.Itoa(i)
		}
		_, err = f.pub.Publish(ctx, Message{
			Topic: f.topic,
			Key:   []byte(key),
			Value: value,
			Headers: map[string]string{
				HeaderRunID:     runID,
				HeaderEventType: EventTypeMarketFact,
			},
		})
		if err != nil {
			return sent, fmt.Errorf("publish fact %d/%d: %w", i+1, len(facts), err)
		}
		sent++
	}
	return sent, nil
}

func (f *FactFeed) Close() error {
	return f.pub.Close()
}

// DecodeFactEvent 解析 FactFeed 写出的消息体；消息体缺 run_id 时取 header
func DecodeFactEvent(msg Message) (FactEvent, error) {
	var ev FactEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return FactEvent{}, fmt.Errorf("decode fact event: %w", err)
	}
	if ev.RunID == "" {
		ev.RunID = msg.RunID()
	}
	return ev, nil
}

// FactSymbol 事实文本以 "SYMBOL " 开头（如 "BTCUSDT 24h ..."），参考文档片段返回空
func FactSymbol(text string) string {
	head, _, ok := strings.Cut(text, " ")
	if !ok || len(head) < 5 || len(head) > 20 {
		return ""
	}
	for _, r := range head {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return head
}
