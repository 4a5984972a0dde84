package modem

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"sms-forwarder/internal/config"
)

//
// ========== 可调常量 ==========
//

const (
	recoverableBackoff = 50 * time.Millisecond
)

// Outcome AT 命令交换的终态分类
type Outcome int

const (
	OutcomeSuccess Outcome = iota // 响应中出现期望标记
	OutcomeTimeout                // 超时且无任何响应字节
	OutcomeError                  // 响应中出现错误标记
	OutcomeInvalid                // 响应结束但未出现期望标记
	OutcomeBusy                   // 模块忙
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Exchange 一次命令/响应交换的请求参数
type Exchange struct {
	Command      string        // 待发送的 AT 命令(可省略结尾 \r)
	ExpectMarker string        // 期望的结束标记,如 "OK"
	Timeout      time.Duration // 单次尝试总超时
	MaxRetries   int           // 失败后追加的重试次数
}

// Result 一次交换的结果
// 协议层失败不以 error 表达,统一落在 Outcome 字段上,由调用方决定是否致命
type Result struct {
	Outcome  Outcome
	Raw      string
	Duration time.Duration
	Attempts int
}

// Stats 引擎运行计数器
type Stats struct {
	Total   uint64 `json:"total"`
	Success uint64 `json:"success"`
	Failed  uint64 `json:"failed"`
	Timeout uint64 `json:"timeout"`
}

// Engine 串口上的 AT 命令引擎
// 串口是单写单读资源:引擎假设所有调用都来自串口读取任务,
// 多任务并发调用属于调用方违约,不在此处加锁
type Engine struct {
	port        io.ReadWriter
	reader      *bufio.Reader
	timeout     time.Duration
	retries     int
	retryDelay  time.Duration
	quietPeriod time.Duration

	stats       Stats
	lastFailure string
	lastOutcome Outcome
	hasFailed   bool

	// 可注入时钟,便于测试
	now   func() time.Time
	sleep func(time.Duration)
}

// NewEngine 在给定读写端口上创建 AT 命令引擎
func NewEngine(port io.ReadWriter, atConfig config.AT) *Engine {
	return &Engine{
		port:        port,
		reader:      bufio.NewReader(port),
		timeout:     atConfig.CommandTimeout,
		retries:     atConfig.CommandRetries,
		retryDelay:  atConfig.RetryDelay,
		quietPeriod: atConfig.QuietPeriod,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

//
// ========== 内部小工具函数 ==========
//

// writeCommand 写入命令,自动补齐结尾回车
func (e *Engine) writeCommand(cmd string) error {
	if !strings.HasSuffix(cmd, "\r") && !strings.HasSuffix(cmd, "\r\n") {
		cmd += "\r"
	}
	fmt.Printf("📤 发送命令: %s\n", strings.TrimRight(cmd, "\r\n"))
	_, err := e.port.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("写入命令失败: %w", err)
	}
	return nil
}

// readNextLine 读取一行,遇到临时性可恢复错误(超时/EOF)返回空串与 nil,驱动上层继续轮询
func (e *Engine) readNextLine() (string, error) {
	line, err := e.reader.ReadString('\n')
	if err == nil {
		return line, nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return line, nil
	}
	if err == io.EOF {
		return line, nil
	}
	return "", fmt.Errorf("读取响应失败: %w", err)
}

// isErrorLine 判断是否为错误结束标记
func isErrorLine(line string) bool {
	t := strings.TrimSpace(line)
	if t == "ERROR" || strings.HasPrefix(t, "ERROR:") {
		return true
	}
	return strings.HasPrefix(t, "+CME ERROR") || strings.HasPrefix(t, "+CMS ERROR")
}

// isBusyResponse 判断响应是否表示模块忙
func isBusyResponse(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "busy")
}

// drainStale 清掉缓冲区里上一次交换残留的字节
// 串口读取任务在命令间隙持续排空端口,这里只需丢弃 bufio 已缓冲的部分
func (e *Engine) drainStale() {
	for e.reader.Buffered() > 0 {
		e.reader.Discard(e.reader.Buffered())
	}
}

//
// ========== 对外方法 ==========
//

// Post 只写入命令,不收集响应
// 供接收管线发起读取请求,响应行经由串口读取任务回流到分发器
func (e *Engine) Post(cmd string) error {
	return e.writeCommand(cmd)
}

// PollLine 尝试读取一行(供串口读取任务在命令间隙排空端口)
// 无数据时返回空串
func (e *Engine) PollLine() (string, error) {
	line, err := e.readNextLine()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Send 发送单条 AT 命令并阻塞等待结果
// 重试耗尽后仍失败时返回最后一次的结果,从不以 error 形式抛出协议失败
func (e *Engine) Send(ex Exchange) Result {
	if ex.Timeout <= 0 {
		ex.Timeout = e.timeout
	}
	if ex.MaxRetries < 0 {
		ex.MaxRetries = e.retries
	}

	start := e.now()
	attempts := ex.MaxRetries + 1

	var result Result
	for attempt := 1; attempt <= attempts; attempt++ {
		result = e.attempt(ex)
		result.Attempts = attempt
		result.Duration = e.now().Sub(start)

		e.record(result)
		if result.Outcome == OutcomeSuccess {
			return result
		}

		if attempt < attempts {
			e.sleep(e.retryDelay)
		}
	}

	return result
}

// attempt 执行单次交换
func (e *Engine) attempt(ex Exchange) Result {
	e.drainStale()

	if err := e.writeCommand(ex.Command); err != nil {
		return Result{Outcome: OutcomeTimeout, Raw: err.Error()}
	}

	return e.collect(ex)
}

// collect 收集响应直到出现结束标记、总超时或静默期结束
func (e *Engine) collect(ex Exchange) Result {
	deadline := e.now().Add(ex.Timeout)
	lastData := e.now()

	var response strings.Builder
	for {
		line, err := e.readNextLine()
		if err != nil {
			return Result{Outcome: OutcomeTimeout, Raw: response.String()}
		}

		if line != "" {
			fmt.Printf("📥 收到: %s", line)
			response.WriteString(line)
			lastData = e.now()

			raw := response.String()
			if ex.ExpectMarker != "" && strings.Contains(raw, ex.ExpectMarker) {
				return Result{Outcome: OutcomeSuccess, Raw: raw}
			}
			if isErrorLine(line) {
				if isBusyResponse(raw) {
					return Result{Outcome: OutcomeBusy, Raw: raw}
				}
				return Result{Outcome: OutcomeError, Raw: raw}
			}
			continue
		}

		// 无新字节:先判静默期,再判总超时
		if response.Len() > 0 && e.now().Sub(lastData) > e.quietPeriod {
			return Result{Outcome: OutcomeInvalid, Raw: response.String()}
		}
		if e.now().After(deadline) {
			return Result{Outcome: OutcomeTimeout, Raw: response.String()}
		}
		e.sleep(recoverableBackoff)
	}
}

// record 更新计数器并留存最近一次失败的原始响应
func (e *Engine) record(result Result) {
	e.stats.Total++
	switch result.Outcome {
	case OutcomeSuccess:
		e.stats.Success++
	case OutcomeTimeout:
		e.stats.Timeout++
		e.lastFailure = result.Raw
		e.lastOutcome = result.Outcome
		e.hasFailed = true
	default:
		e.stats.Failed++
		e.lastFailure = result.Raw
		e.lastOutcome = result.Outcome
		e.hasFailed = true
	}
}

// Stats 返回当前计数器快照
func (e *Engine) Stats() Stats {
	return e.stats
}
