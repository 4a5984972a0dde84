// Package queue 提供可选的异步投递通路
// 启用后完成接收的短信先进入 NSQ,由消费者任务执行规则匹配与推送,
// 串口读取任务不再被出站 HTTP 调用阻塞
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"sms-forwarder/internal/push"
)

// MessageProducer 已完成短信的生产者
type MessageProducer struct {
	producer *nsq.Producer
	topic    string
}

// NewMessageProducer 创建一个新的 NSQ 生产者
func NewMessageProducer(addr, topic string) (*MessageProducer, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	return &MessageProducer{producer: producer, topic: topic}, nil
}

// Enqueue 将一条完成接收的短信发布到队列
// nsqio/go-nsq 的 Publish 不接收 context,但这里仍保持 ctx 以满足接口规范
func (p *MessageProducer) Enqueue(ctx context.Context, msg push.CompletedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("消息序列化失败: %w", err)
	}
	return p.producer.Publish(p.topic, payload)
}

// Close 停止生产者
func (p *MessageProducer) Close() {
	if p.producer != nil {
		p.producer.Stop()
	}
}
