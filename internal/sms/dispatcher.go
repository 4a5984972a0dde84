package sms

import (
	"log"
	"strings"

	"sms-forwarder/internal/modem"
)

// Dispatcher 串口行路由器
// 每一行串口输出恰好走一条路径:等待中的读取正文、新短信通知、或透传日志
type Dispatcher struct {
	receiver *Receiver
}

// NewDispatcher 创建行路由器
func NewDispatcher(receiver *Receiver) *Dispatcher {
	return &Dispatcher{receiver: receiver}
}

// HandleLine 处理一行串口输出(作为读取任务的行回调)
func (d *Dispatcher) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	// 等待正文状态优先消费,避免 PDU 被误判为未知输出
	if d.receiver.Consume(line) {
		return
	}

	if strings.HasPrefix(line, "+CMTI:") {
		d.receiver.HandleNotification(line)
		return
	}

	// 其余输出(主动上报、迟到的 OK 等)仅透传记录
	log.Printf("[MODEM] 📥 %s", modem.DecodeModemText(line))
}
