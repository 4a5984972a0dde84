package modem

import (
	"strings"
	"time"
)

const probeTimeout = 3 * time.Second

// ProbeResult 单条状态探测命令的执行结果
type ProbeResult struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Outcome string `json:"outcome"`
	Raw     string `json:"raw"`
}

// Report 引擎诊断报告
// 汇总计数器、状态探测结果与最近一次失败的分类及处置建议
type Report struct {
	Stats          Stats         `json:"stats"`
	Probes         []ProbeResult `json:"probes"`
	LastFailure    string        `json:"last_failure"`
	Classification string        `json:"classification"`
	Hint           string        `json:"hint"`
}

// probe 诊断用的固定探测命令组
type probe struct {
	name    string
	command string
}

var diagnosticProbes = []probe{
	{"基础握手", CMD_PROBE},
	{"信号质量", CMD_SIGNAL_QUALITY},
	{"网络注册", CMD_NETWORK_REG},
	{"SIM 状态", CMD_SIM_STATE},
}

// Diagnose 执行固定的状态探测命令组并生成诊断报告
// 注意:与普通命令共用串口,必须从串口读取任务的调用链上触发
func (e *Engine) Diagnose() Report {
	report := Report{
		Stats:       e.stats,
		LastFailure: e.lastFailure,
	}

	for _, p := range diagnosticProbes {
		result := e.Send(Exchange{
			Command:      p.command,
			ExpectMarker: "OK",
			Timeout:      probeTimeout,
		})

		report.Probes = append(report.Probes, ProbeResult{
			Name:    p.name,
			Command: strings.TrimRight(p.command, "\r"),
			Outcome: result.Outcome.String(),
			Raw:     DecodeModemText(strings.TrimSpace(result.Raw)),
		})
	}

	report.Classification, report.Hint = classifyFailure(e.hasFailed, e.lastOutcome, report.LastFailure)
	return report
}

// classifyFailure 根据失败响应中的已知错误子串给出分类与处置建议
func classifyFailure(hasFailed bool, outcome Outcome, raw string) (string, string) {
	switch {
	case !hasFailed:
		return "无失败记录", ""
	case strings.Contains(raw, "+CME ERROR"):
		return "模块内部错误", "检查模块供电与固件状态,必要时执行 AT+CFUN=1,1 重启模块"
	case strings.Contains(raw, "+CMS ERROR"):
		return "短信子系统错误", "检查 SIM 卡是否在位,并确认短信中心号码(AT+CSCA?)配置正确"
	case isBusyResponse(raw):
		return "模块忙", "模块正在处理其他操作,稍后重试"
	case outcome == OutcomeTimeout && strings.TrimSpace(raw) == "":
		return "无响应", "检查串口连线、波特率配置与模块供电"
	default:
		return "一般错误", "查看原始响应内容并对照模块 AT 手册排查"
	}
}
