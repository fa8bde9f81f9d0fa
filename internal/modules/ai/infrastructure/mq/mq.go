package mq

import "context"

// Message 事实推送的消息体；Key 为交易对，Headers 携带 run_id 与 event_type
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// RunID 消息所属的入库运行，未携带时为空串
func (m Message) RunID() string {
	return m.Headers[HeaderRunID]
}

type PublishResult struct {
	Partition int32
	Offset    int64
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) (PublishResult, error)
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}

// HandlerFunc 函数适配为 Handler
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
