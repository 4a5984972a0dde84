package sms

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"sms-forwarder/internal/config"
	"sms-forwarder/internal/modem"
	"sms-forwarder/internal/push"
	"sms-forwarder/internal/store"
)

// 短信记录的初始转发状态
const statusReceived = "received"

// receiverState 接收状态机状态
type receiverState int

const (
	stateIdle         receiverState = iota // 空闲,等待新短信通知
	stateAwaitingBody                      // 已下发读取命令,等待 PDU 正文
)

// Sink 完成接收的短信的去向
type Sink interface {
	Deliver(msg push.CompletedMessage)
}

// CommandPoster 向模块写入命令的窄接口
type CommandPoster interface {
	Post(cmd string) error
}

// MessageRecorder 短信入库的窄接口
type MessageRecorder interface {
	AddMessageRecord(ctx context.Context, record store.MessageRecord) (int64, error)
}

// ReceiveStats 接收管线计数
type ReceiveStats struct {
	Notified      uint64 `json:"notified"`       // 收到的新短信通知数
	Completed     uint64 `json:"completed"`      // 完成接收并交付的消息数
	DroppedDecode uint64 `json:"dropped_decode"` // 解码失败丢弃的分片数
	DroppedStale  uint64 `json:"dropped_stale"`  // 超时清理丢弃的分片数
}

// Receiver 短信接收状态机
// 状态流转只发生在串口读取任务上;EvictStale 与 Stats 可从其他任务调用
type Receiver struct {
	poster    CommandPoster
	assembler *Assembler
	recorder  MessageRecorder
	sink      Sink

	bodyDeadline time.Duration

	state        receiverState
	pendingIndex int       // 当前等待正文的存储索引
	deadline     time.Time // 等待正文的截止时间
	backlog      []int     // 等待正文期间到达的后续通知

	notified      atomic.Uint64
	completed     atomic.Uint64
	droppedDecode atomic.Uint64
	droppedStale  atomic.Uint64

	now func() time.Time
}

// NewReceiver 创建接收状态机
// recorder 可为 nil(不入库,RecordID 置 0)
func NewReceiver(poster CommandPoster, recorder MessageRecorder, sink Sink, receiveConfig config.SMSReceive) *Receiver {
	return &Receiver{
		poster:       poster,
		assembler:    NewAssembler(),
		recorder:     recorder,
		sink:         sink,
		bodyDeadline: receiveConfig.BodyDeadline,
		now:          time.Now,
	}
}

// HandleNotification 处理新短信到达通知(+CMTI)
// 空闲时立即下发读取命令;等待正文期间到达的通知先入积压队列
func (r *Receiver) HandleNotification(line string) {
	index, ok := parseNotificationIndex(line)
	if !ok {
		log.Printf("[SMS] ⚠️ 无法解析的新短信通知: %s", line)
		return
	}

	r.notified.Add(1)
	log.Printf("[SMS] 📨 新短信通知: index=%d", index)

	if r.state == stateAwaitingBody {
		r.backlog = append(r.backlog, index)
		return
	}
	r.requestRead(index)
}

// Consume 在等待正文状态下消费一行响应
// 返回 false 表示当前不在等待正文状态(或等待已超时),该行应继续走常规路由
func (r *Receiver) Consume(line string) bool {
	if r.state != stateAwaitingBody {
		return false
	}

	if r.now().After(r.deadline) {
		log.Printf("[SMS] ⚠️ 等待正文超时: index=%d", r.pendingIndex)
		r.toIdle()
		return false
	}

	r.handleBodyLine(line)
	return true
}

// handleBodyLine 处理读取响应的一行
func (r *Receiver) handleBodyLine(line string) {
	// 等待正文期间到达的新短信通知仍按通知处理(入积压队列),不当正文消费
	if strings.HasPrefix(line, "+CMTI:") {
		r.HandleNotification(line)
		return
	}

	// +CMGR 头部行只携带元信息,正文在下一行
	if strings.HasPrefix(line, "+CMGR:") {
		return
	}

	if line == "OK" {
		log.Printf("[SMS] ⚠️ 读取响应未携带正文: index=%d", r.pendingIndex)
		r.toIdle()
		return
	}
	if strings.HasPrefix(line, "ERROR") ||
		strings.HasPrefix(line, "+CME ERROR") ||
		strings.HasPrefix(line, "+CMS ERROR") {
		log.Printf("[SMS] ❌ 读取短信失败: index=%d resp=%s", r.pendingIndex, line)
		r.toIdle()
		return
	}

	r.handlePDU(line)
	r.toIdle()
}

// handlePDU 解码 PDU 正文并推进重组
// 解码失败的分片丢弃计数,不删除存储槽位,留待人工排查或超时清理
func (r *Receiver) handlePDU(raw string) {
	fragment, err := DecodePDU(raw)
	if err != nil {
		r.droppedDecode.Add(1)
		log.Printf("[SMS] ❌ PDU 解码失败,丢弃: index=%d err=%v", r.pendingIndex, err)
		return
	}

	r.handlePDUFragment(fragment)
}

// handlePDUFragment 处理一个解码完成的分片:单条直接完成,长短信送入重组器
// 正文缺失的分片照常登记,整条消息带缺口交付
func (r *Receiver) handlePDUFragment(fragment *Fragment) {
	if fragment.TextMissing {
		r.droppedDecode.Add(1)
		log.Printf("[SMS] ⚠️ 分片正文解码失败,以空缺参与重组: sender=%s ref=%d part=%d/%d",
			fragment.Sender, fragment.Ref, fragment.Part, fragment.Total)
	}

	if !fragment.Concat || fragment.Total <= 1 {
		r.complete(fragment.Sender, fragment.Text, fragment.Timestamp, []int{r.pendingIndex})
		return
	}

	log.Printf("[SMS] 🧩 长短信分片: sender=%s ref=%d part=%d/%d",
		fragment.Sender, fragment.Ref, fragment.Part, fragment.Total)

	fragments, indexes, done := r.assembler.Add(fragment, r.pendingIndex)
	if !done {
		return
	}

	var content strings.Builder
	for _, part := range fragments {
		content.WriteString(part.Text)
	}
	first := fragments[0]
	r.complete(first.Sender, content.String(), first.Timestamp, indexes)
}

// complete 完成一条消息:入库、确认删除存储槽位、交付下游
// 删除确认先于交付,消息至多交付一次
func (r *Receiver) complete(sender, content, timestamp string, indexes []int) {
	recordID := r.persist(sender, content, timestamp)

	for _, index := range indexes {
		if err := r.poster.Post(modem.CmdDeleteSMS(index)); err != nil {
			log.Printf("[SMS] ⚠️ 删除存储槽位失败: index=%d err=%v", index, err)
		}
	}

	r.completed.Add(1)
	log.Printf("[SMS] ✅ 短信接收完成: sender=%s len=%d record=%d", sender, len(content), recordID)

	r.sink.Deliver(push.CompletedMessage{
		Sender:       sender,
		Content:      content,
		TimestampRaw: timestamp,
		RecordID:     recordID,
	})
}

// persist 将完成的消息写入外部存储,失败时仅告警(RecordID 置 0)
func (r *Receiver) persist(sender, content, timestamp string) int64 {
	if r.recorder == nil {
		return 0
	}

	recordID, err := r.recorder.AddMessageRecord(context.Background(), store.MessageRecord{
		Sender:        sender,
		Content:       content,
		ReceivedAt:    timestamp,
		ForwardStatus: statusReceived,
		CreatedAt:     r.now().Unix(),
	})
	if err != nil {
		log.Printf("[SMS] ⚠️ 短信入库失败: sender=%s err=%v", sender, err)
		return 0
	}
	return recordID
}

// EvictStale 清理超龄未凑齐的长短信分组并释放其存储槽位
func (r *Receiver) EvictStale(maxAge time.Duration) int {
	indexes := r.assembler.EvictStale(maxAge)
	for _, index := range indexes {
		if err := r.poster.Post(modem.CmdDeleteSMS(index)); err != nil {
			log.Printf("[SMS] ⚠️ 删除过期分片失败: index=%d err=%v", index, err)
		}
	}

	if len(indexes) > 0 {
		r.droppedStale.Add(uint64(len(indexes)))
		log.Printf("[SMS] 🧹 清理过期长短信分片: %d 个", len(indexes))
	}
	return len(indexes)
}

// Stats 返回接收计数快照
func (r *Receiver) Stats() ReceiveStats {
	return ReceiveStats{
		Notified:      r.notified.Load(),
		Completed:     r.completed.Load(),
		DroppedDecode: r.droppedDecode.Load(),
		DroppedStale:  r.droppedStale.Load(),
	}
}

// requestRead 下发读取命令并进入等待正文状态
func (r *Receiver) requestRead(index int) {
	if err := r.poster.Post(modem.CmdReadSMS(index)); err != nil {
		log.Printf("[SMS] ❌ 下发读取命令失败: index=%d err=%v", index, err)
		return
	}
	r.state = stateAwaitingBody
	r.pendingIndex = index
	r.deadline = r.now().Add(r.bodyDeadline)
}

// toIdle 回到空闲状态,并补发积压的读取请求
func (r *Receiver) toIdle() {
	r.state = stateIdle
	r.pendingIndex = 0

	if len(r.backlog) > 0 {
		next := r.backlog[0]
		r.backlog = r.backlog[1:]
		r.requestRead(next)
	}
}

// parseNotificationIndex 解析 +CMTI 通知中的存储索引
// 形如 `+CMTI: "ME",3`,索引位于最后一个逗号之后
func parseNotificationIndex(line string) (int, bool) {
	comma := strings.LastIndex(line, ",")
	if comma < 0 {
		return 0, false
	}
	index, err := strconv.Atoi(strings.TrimSpace(line[comma+1:]))
	if err != nil {
		return 0, false
	}
	return index, true
}
