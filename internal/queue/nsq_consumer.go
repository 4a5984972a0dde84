package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"sms-forwarder/internal/config"
	"sms-forwarder/internal/push"
)

// ==================== 常量定义 ====================

const (
	// 单条消息处理超时
	defaultHandleTimeout = 30 * time.Second

	// 消费者并发度
	defaultConcurrency = 2

	// 用户代理标识
	defaultUserAgent = "sms-forwarder"

	// 日志前缀
	logPrefix = "[nsq] "
)

// ==================== 类型定义 ====================

// MessageHandler 已完成短信的处理函数
// 返回非 nil 错误时消息由 NSQ 按其重试策略重新投递
type MessageHandler func(ctx context.Context, msg push.CompletedMessage) error

// MessageConsumer 已完成短信的消费者
type MessageConsumer struct {
	consumer      *nsq.Consumer
	handler       MessageHandler
	nsqdAddresses []string
	handleTimeout time.Duration
	topic         string
}

// NewMessageConsumer 创建 NSQ 消费者
func NewMessageConsumer(nsqConfig config.NSQ, handler MessageHandler) (*MessageConsumer, error) {
	if nsqConfig.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if nsqConfig.Channel == "" {
		return nil, errors.New("channel is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if len(nsqConfig.NsqdTCPAddrs) == 0 {
		return nil, errors.New("no nsqd address configured")
	}

	cfg := nsq.NewConfig()
	cfg.UserAgent = defaultUserAgent
	if nsqConfig.MaxInFlight > 0 {
		cfg.MaxInFlight = nsqConfig.MaxInFlight
	}

	consumer, err := nsq.NewConsumer(nsqConfig.Topic, nsqConfig.Channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 NSQ 消费者失败: %w", err)
	}
	consumer.SetLogger(log.New(os.Stdout, logPrefix, log.LstdFlags), nsq.LogLevelInfo)

	return &MessageConsumer{
		consumer:      consumer,
		handler:       handler,
		nsqdAddresses: nsqConfig.NsqdTCPAddrs,
		handleTimeout: defaultHandleTimeout,
		topic:         nsqConfig.Topic,
	}, nil
}

// ==================== 消息处理 ====================

// Start 注册处理器并连接 nsqd,非阻塞
func (c *MessageConsumer) Start() error {
	c.consumer.AddConcurrentHandlers(nsq.HandlerFunc(c.handleMessage), defaultConcurrency)

	for _, address := range c.nsqdAddresses {
		if err := c.consumer.ConnectToNSQD(address); err != nil {
			return fmt.Errorf("连接 nsqd %s 失败: %w", address, err)
		}
		log.Printf("[QUEUE] ✅ 已连接 nsqd: %s", address)
	}
	return nil
}

// handleMessage 处理单条队列消息
// 反序列化失败说明消息永远无法处理,直接吞掉避免无限重试
func (c *MessageConsumer) handleMessage(message *nsq.Message) error {
	var msg push.CompletedMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		log.Printf("[QUEUE] ❌ 消息反序列化失败,丢弃: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.handleTimeout)
	defer cancel()

	return c.handler(ctx, msg)
}

// ==================== 生命周期管理 ====================

// Stop 停止消费者并等待在途消息处理完成
func (c *MessageConsumer) Stop() {
	if c.consumer == nil {
		return
	}
	log.Printf("[QUEUE] 停止 NSQ 消费者: topic=%s", c.topic)
	c.consumer.Stop()
	<-c.consumer.StopChan
}

// IsConnected 检查是否已连接
func (c *MessageConsumer) IsConnected() bool {
	return c.consumer.Stats().Connections > 0
}
