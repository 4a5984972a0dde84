package push

// CompletedMessage 一条完成接收的短信
// 由接收管线在重组完成(或单条短信解码完成)后创建,所有权随即移交转发引擎,
// 身份字段此后不再变更
type CompletedMessage struct {
	Sender       string `json:"sender"`         // 发件人号码
	Content      string `json:"content"`        // 重组后的完整文本
	TimestampRaw string `json:"timestamp_raw"`  // 12 位时间戳(yymmddhhmmss)
	RecordID     int64  `json:"record_id"`      // 外部存储中的记录标识,0 表示未入库
}

// PushContext 传递给通道插件的消息上下文
type PushContext struct {
	Sender       string `json:"sender"`
	Content      string `json:"content"`
	TimestampRaw string `json:"timestamp_raw"`
	RecordID     int64  `json:"record_id"`
}

// ResultCode 通道推送结果分类
type ResultCode int

const (
	ResultSuccess      ResultCode = iota // 投递成功
	ResultFailed                         // 投递失败(可重试)
	ResultConfigError                    // 配置错误(重试无意义)
	ResultNetworkError                   // 网络/服务端错误(可重试)
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	case ResultConfigError:
		return "config_error"
	case ResultNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// PushResult 单次通道调用的结果
type PushResult struct {
	Code    ResultCode
	Message string
}

// Retryable 判断该结果是否值得重试
func (r PushResult) Retryable() bool {
	return r.Code == ResultFailed || r.Code == ResultNetworkError
}

// Outcome 一次转发决策的终态
// 一经产生即为终态,不再追加重试
type Outcome int

const (
	OutcomeSuccess        Outcome = iota // 至少一条匹配规则推送成功
	OutcomeFailed                        // 推送失败(重试耗尽)
	OutcomeNoMatchingRule                // 没有规则匹配该消息
	OutcomeRuleDisabled                  // 仅匹配到被停用的规则
	OutcomeConfigError                   // 通道无法解析或配置非法
	OutcomeNetworkError                  // 网络层失败
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeNoMatchingRule:
		return "no_matching_rule"
	case OutcomeRuleDisabled:
		return "rule_disabled"
	case OutcomeConfigError:
		return "config_error"
	case OutcomeNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// RuleOutcome 单条规则的推送结局
type RuleOutcome struct {
	RuleID       int64   `json:"rule_id"`
	RuleName     string  `json:"rule_name"`
	Result       Outcome `json:"result"`
	AttemptsMade int     `json:"attempts_made"`
	Error        string  `json:"error,omitempty"`
}
