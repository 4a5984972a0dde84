package store

import "context"

// Rule 转发规则
// 对转发引擎而言只读;ChannelConfig 是通道自定义的 JSON 配置,核心不解释其内容
type Rule struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	SourceNumberPattern string `json:"source_number_pattern"` // 通配符模式,空串匹配所有发件人
	KeywordList         string `json:"keyword_list"`          // 逗号分隔关键字,空串匹配所有内容
	ChannelName         string `json:"channel_name"`
	ChannelConfig       string `json:"channel_config"`
	Enabled             bool   `json:"enabled"`
	IsDefaultForward    bool   `json:"is_default_forward"` // 置位时无条件匹配
	SortOrder           int    `json:"sort_order"`
}

// MessageRecord 短信记录
type MessageRecord struct {
	ID            int64  `json:"id"`
	Sender        string `json:"sender"`
	Content       string `json:"content"`
	ReceivedAt    string `json:"received_at"` // 12 位原始时间戳
	ForwardStatus string `json:"forward_status"`
	ForwardedAt   int64  `json:"forwarded_at"` // Unix 时间戳,0 表示未转发
	CreatedAt     int64  `json:"created_at"`
}

// RuleStore 规则 CRUD 的窄接口
type RuleStore interface {
	GetEnabledRules(ctx context.Context) ([]Rule, error)
	GetRuleByID(ctx context.Context, id int64) (*Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	AddRule(ctx context.Context, rule Rule) (int64, error)
	UpdateRule(ctx context.Context, rule Rule) (bool, error)
	DeleteRule(ctx context.Context, id int64) (bool, error)
	SetRuleEnabled(ctx context.Context, id int64, enabled bool) (bool, error)
}

// RecordStore 短信记录的窄接口
type RecordStore interface {
	AddMessageRecord(ctx context.Context, record MessageRecord) (int64, error)
	UpdateMessageRecord(ctx context.Context, record MessageRecord) (bool, error)
	GetRecordByID(ctx context.Context, id int64) (*MessageRecord, error)
	ListRecords(ctx context.Context, limit int64) ([]MessageRecord, error)
	Trim(ctx context.Context, maxKeep int64) (int64, error)
}
