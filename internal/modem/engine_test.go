package modem

import (
	"io"
	"strings"
	"testing"
	"time"

	"sms-forwarder/internal/config"
)

//
// ========== 测试替身 ==========
//

// scriptPort 按脚本逐块返回数据的串口替身
// 脚本耗尽后表现为持续空读,贴近真实串口的超时行为
type scriptPort struct {
	chunks []string
	pos    int
	writes []string
}

func (p *scriptPort) Read(b []byte) (int, error) {
	if p.pos >= len(p.chunks) {
		return 0, io.EOF
	}
	chunk := p.chunks[p.pos]
	p.pos++
	return copy(b, chunk), nil
}

func (p *scriptPort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, string(b))
	return len(b), nil
}

// fakeClock 虚拟时钟:sleep 直接拨动当前时间
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time        { return c.current }
func (c *fakeClock) sleep(d time.Duration) { c.current = c.current.Add(d) }

func newTestEngine(port *scriptPort) (*Engine, *fakeClock) {
	engine := NewEngine(port, config.AT{
		CommandTimeout: time.Second,
		CommandRetries: 0,
		RetryDelay:     10 * time.Millisecond,
		QuietPeriod:    100 * time.Millisecond,
	})

	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	engine.now = clock.now
	engine.sleep = clock.sleep
	return engine, clock
}

//
// ========== 命令交换 ==========
//

func TestSendSuccess(t *testing.T) {
	port := &scriptPort{chunks: []string{"OK\r\n"}}
	engine, _ := newTestEngine(port)

	result := engine.Send(Exchange{Command: "AT", ExpectMarker: "OK"})

	if result.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %s, want success (raw=%q)", result.Outcome, result.Raw)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if len(port.writes) != 1 || port.writes[0] != "AT\r" {
		t.Errorf("写入内容应自动补齐回车: %q", port.writes)
	}

	stats := engine.Stats()
	if stats.Total != 1 || stats.Success != 1 {
		t.Errorf("计数器不符: %+v", stats)
	}
}

func TestSendErrorLine(t *testing.T) {
	port := &scriptPort{chunks: []string{"+CME ERROR: 10\r\n"}}
	engine, _ := newTestEngine(port)

	result := engine.Send(Exchange{Command: "AT+CPIN?", ExpectMarker: "OK"})

	if result.Outcome != OutcomeError {
		t.Errorf("Outcome = %s, want error", result.Outcome)
	}
	if !strings.Contains(result.Raw, "+CME ERROR") {
		t.Errorf("Raw 应保留原始错误响应: %q", result.Raw)
	}
	if engine.Stats().Failed != 1 {
		t.Errorf("失败计数不符: %+v", engine.Stats())
	}
}

func TestSendBusyResponse(t *testing.T) {
	port := &scriptPort{chunks: []string{"ERROR: device busy\r\n"}}
	engine, _ := newTestEngine(port)

	result := engine.Send(Exchange{Command: "AT+CMGR=1", ExpectMarker: "OK"})

	if result.Outcome != OutcomeBusy {
		t.Errorf("Outcome = %s, want busy", result.Outcome)
	}
}

func TestSendQuietPeriodInvalid(t *testing.T) {
	// 有内容但始终不出现期望标记:静默期结束后判定 invalid 而非 timeout
	port := &scriptPort{chunks: []string{"+CSQ: 20,0\r\n"}}
	engine, _ := newTestEngine(port)

	result := engine.Send(Exchange{Command: "AT+CSQ", ExpectMarker: "NEVER"})

	if result.Outcome != OutcomeInvalid {
		t.Errorf("Outcome = %s, want invalid (raw=%q)", result.Outcome, result.Raw)
	}
	if !strings.Contains(result.Raw, "+CSQ") {
		t.Errorf("Raw 应保留已收内容: %q", result.Raw)
	}
}

func TestSendTimeoutWhenSilent(t *testing.T) {
	port := &scriptPort{}
	engine, _ := newTestEngine(port)

	result := engine.Send(Exchange{Command: "AT", ExpectMarker: "OK"})

	if result.Outcome != OutcomeTimeout {
		t.Errorf("Outcome = %s, want timeout", result.Outcome)
	}
	if result.Raw != "" {
		t.Errorf("静默超时的 Raw 应为空: %q", result.Raw)
	}
	if engine.Stats().Timeout != 1 {
		t.Errorf("超时计数不符: %+v", engine.Stats())
	}
}

func TestSendRetriesUntilExhausted(t *testing.T) {
	port := &scriptPort{}
	engine, _ := newTestEngine(port)

	result := engine.Send(Exchange{Command: "AT", ExpectMarker: "OK", MaxRetries: 2})

	if result.Outcome != OutcomeTimeout {
		t.Errorf("Outcome = %s, want timeout", result.Outcome)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 (首次 + 两次重试)", result.Attempts)
	}
	if len(port.writes) != 3 {
		t.Errorf("命令应写入 3 次, got %d", len(port.writes))
	}
}

func TestSendRecoversOnRetry(t *testing.T) {
	// 第一次尝试报错,第二次命中期望标记
	port := &scriptPort{chunks: []string{"ERROR\r\n", "OK\r\n"}}
	engine, _ := newTestEngine(port)

	result := engine.Send(Exchange{Command: "AT", ExpectMarker: "OK", MaxRetries: 1})

	if result.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %s, want success", result.Outcome)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestSendNeverReturnsProtocolFailureAsPanic(t *testing.T) {
	// 协议层失败统一落在 Outcome,多次失败后引擎仍可继续使用
	port := &scriptPort{chunks: []string{"ERROR\r\n", "OK\r\n"}}
	engine, _ := newTestEngine(port)

	first := engine.Send(Exchange{Command: "AT+BAD", ExpectMarker: "OK"})
	if first.Outcome != OutcomeError {
		t.Fatalf("首次应失败: %s", first.Outcome)
	}

	second := engine.Send(Exchange{Command: "AT", ExpectMarker: "OK"})
	if second.Outcome != OutcomeSuccess {
		t.Errorf("失败后引擎应可继续工作: %s", second.Outcome)
	}

	stats := engine.Stats()
	if stats.Total != 2 || stats.Success != 1 || stats.Failed != 1 {
		t.Errorf("计数器不符: %+v", stats)
	}
}

//
// ========== 只写与轮询 ==========
//

func TestPostAppendsCarriageReturn(t *testing.T) {
	port := &scriptPort{}
	engine, _ := newTestEngine(port)

	if err := engine.Post("AT+CMGR=3"); err != nil {
		t.Fatalf("Post 失败: %v", err)
	}
	if len(port.writes) != 1 || port.writes[0] != "AT+CMGR=3\r" {
		t.Errorf("写入内容不符: %q", port.writes)
	}
}

func TestPollLine(t *testing.T) {
	port := &scriptPort{chunks: []string{"+CMTI: \"ME\",3\r\n"}}
	engine, _ := newTestEngine(port)

	line, err := engine.PollLine()
	if err != nil {
		t.Fatalf("PollLine 失败: %v", err)
	}
	if line != "+CMTI: \"ME\",3" {
		t.Errorf("行内容应去掉行尾换行: %q", line)
	}

	line, err = engine.PollLine()
	if err != nil || line != "" {
		t.Errorf("无数据时应返回空串: line=%q err=%v", line, err)
	}
}

//
// ========== 诊断 ==========
//

func TestDiagnoseClassification(t *testing.T) {
	cases := []struct {
		name      string
		hasFailed bool
		outcome   Outcome
		raw       string
		want      string
	}{
		{"从未失败", false, OutcomeSuccess, "", "无失败记录"},
		{"模块内部错误", true, OutcomeError, "+CME ERROR: 10", "模块内部错误"},
		{"短信子系统错误", true, OutcomeError, "+CMS ERROR: 321", "短信子系统错误"},
		{"模块忙", true, OutcomeBusy, "ERROR: device busy", "模块忙"},
		{"静默无响应", true, OutcomeTimeout, "", "无响应"},
		{"一般错误", true, OutcomeInvalid, "garbage", "一般错误"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, _ := classifyFailure(c.hasFailed, c.outcome, c.raw)
			if got != c.want {
				t.Errorf("classifyFailure = %q, want %q", got, c.want)
			}
		})
	}
}

func TestDiagnoseRunsAllProbes(t *testing.T) {
	// 四条探测命令依次返回 OK
	port := &scriptPort{chunks: []string{"OK\r\n", "OK\r\n", "OK\r\n", "OK\r\n"}}
	engine, _ := newTestEngine(port)

	report := engine.Diagnose()

	if len(report.Probes) != len(diagnosticProbes) {
		t.Fatalf("探测条数 = %d, want %d", len(report.Probes), len(diagnosticProbes))
	}
	for _, probeResult := range report.Probes {
		if probeResult.Outcome != "success" {
			t.Errorf("探测 %s 结局 = %s, want success", probeResult.Name, probeResult.Outcome)
		}
	}
	if report.Classification != "无失败记录" {
		t.Errorf("全部成功时分类 = %q", report.Classification)
	}
}
