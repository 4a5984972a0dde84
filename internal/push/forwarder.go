package push

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"sms-forwarder/internal/store"
)

// 转发状态常量(写回短信记录的 forward_status 字段)
const (
	StatusForwarded = "forwarded"
	StatusFailed    = "forward_failed"
	StatusNoRule    = "no_matching_rule"
	StatusConfigErr = "config_error"
)

// RuleProvider 规则数据来源(外部存储的窄投影)
type RuleProvider interface {
	GetEnabledRules(ctx context.Context) ([]store.Rule, error)
	GetRuleByID(ctx context.Context, id int64) (*store.Rule, error)
}

// OutcomeRecorder 转发结局写回(外部存储的窄投影)
type OutcomeRecorder interface {
	UpdateMessageRecord(ctx context.Context, record store.MessageRecord) (bool, error)
}

// DedupChecker 重复投递拦截器接口(可选)
// 返回 true 表示首次出现,false 表示重复投递
type DedupChecker interface {
	CheckAndSet(ctx context.Context, msg CompletedMessage, ttl time.Duration) (bool, error)
}

// ruleSnapshot 规则缓存快照
// 整体替换安装,读方不会看到半更新状态
type ruleSnapshot struct {
	rules     []store.Rule
	fetchedAt time.Time
}

// Forwarder 规则匹配与推送引擎
type Forwarder struct {
	registry *Registry
	rules    RuleProvider
	recorder OutcomeRecorder

	maxAttempts  int           // 单规则最大尝试次数(含首次)
	retryDelay   time.Duration // 尝试间固定间隔
	refreshEvery time.Duration // 快照刷新周期

	dedup    DedupChecker
	dedupTTL time.Duration

	mu       sync.RWMutex
	snapshot ruleSnapshot

	// 可注入时钟,便于测试
	now   func() time.Time
	sleep func(time.Duration)
}

// NewForwarder 创建转发引擎
func NewForwarder(
	registry *Registry,
	rules RuleProvider,
	recorder OutcomeRecorder,
	maxAttempts int,
	retryDelay time.Duration,
	refreshEvery time.Duration,
) *Forwarder {
	return &Forwarder{
		registry:     registry,
		rules:        rules,
		recorder:     recorder,
		maxAttempts:  maxAttempts,
		retryDelay:   retryDelay,
		refreshEvery: refreshEvery,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// SetDedup 注入重复投递拦截器(可选)
func (f *Forwarder) SetDedup(checker DedupChecker, ttl time.Duration) {
	f.dedup = checker
	f.dedupTTL = ttl
}

// Forward 对一条完成接收的短信执行规则匹配与推送
// 所有匹配的启用规则都会被执行(非首个命中即止);
// 整体结局为 Success 当且仅当至少一条匹配规则推送成功,否则取最后一条尝试规则的结局
func (f *Forwarder) Forward(ctx context.Context, msg CompletedMessage) (Outcome, []RuleOutcome) {
	if f.isDuplicate(ctx, msg) {
		log.Printf("[FORWARD] 重复投递已拦截: sender=%s", msg.Sender)
		return OutcomeSuccess, nil
	}

	rules := f.currentRules(ctx)

	var outcomes []RuleOutcome
	matched := false
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !ruleMatches(rule, msg) {
			continue
		}

		matched = true
		outcome := f.dispatchRule(rule, msg)
		outcomes = append(outcomes, outcome)
		log.Printf("[FORWARD] 规则 %q 结局: %s (尝试 %d 次)",
			rule.Name, outcome.Result, outcome.AttemptsMade)
	}

	overall := overallOutcome(matched, outcomes)
	f.recordOutcome(ctx, msg, overall)
	return overall, outcomes
}

// ForwardWithRule 按指定规则强制转发(管理接口用途)
// 与 Forward 不同,停用规则在这里是显式的终态而不是跳过
func (f *Forwarder) ForwardWithRule(ctx context.Context, ruleID int64, msg CompletedMessage) RuleOutcome {
	rule, err := f.rules.GetRuleByID(ctx, ruleID)
	if err != nil || rule == nil {
		return RuleOutcome{RuleID: ruleID, Result: OutcomeConfigError, Error: "规则不存在"}
	}
	if !rule.Enabled {
		return RuleOutcome{RuleID: ruleID, RuleName: rule.Name, Result: OutcomeRuleDisabled, Error: "规则已停用"}
	}
	return f.dispatchRule(*rule, msg)
}

// TestMatch 判断给定发件人/内容是否会命中指定规则(管理接口用途)
func (f *Forwarder) TestMatch(ctx context.Context, ruleID int64, sender, content string) (bool, error) {
	rule, err := f.rules.GetRuleByID(ctx, ruleID)
	if err != nil {
		return false, err
	}
	if rule == nil {
		return false, fmt.Errorf("规则 %d 不存在", ruleID)
	}
	return ruleMatches(*rule, CompletedMessage{Sender: sender, Content: content}), nil
}

//
// ========== 匹配 ==========
//

// ruleMatches 判断规则是否命中消息
// 默认转发规则无条件命中;其余规则要求发件人模式与关键字同时满足
func ruleMatches(rule store.Rule, msg CompletedMessage) bool {
	if rule.IsDefaultForward {
		return true
	}
	return WildcardMatch(rule.SourceNumberPattern, msg.Sender) &&
		KeywordMatch(rule.KeywordList, msg.Content)
}

//
// ========== 单规则推送 ==========
//

// dispatchRule 解析通道并带重试地执行推送
// 通道无法解析或报配置错误时不重试;投递/网络失败重试至尝试上限
func (f *Forwarder) dispatchRule(rule store.Rule, msg CompletedMessage) RuleOutcome {
	outcome := RuleOutcome{RuleID: rule.ID, RuleName: rule.Name}

	channel := f.registry.Create(rule.ChannelName)
	if channel == nil {
		outcome.Result = OutcomeConfigError
		outcome.Error = fmt.Sprintf("通道 %q 未注册", rule.ChannelName)
		return outcome
	}

	pushContext := PushContext{
		Sender:       msg.Sender,
		Content:      msg.Content,
		TimestampRaw: msg.TimestampRaw,
		RecordID:     msg.RecordID,
	}

	var last PushResult
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		last = channel.Push(rule.ChannelConfig, pushContext)
		outcome.AttemptsMade = attempt

		if last.Code == ResultSuccess {
			outcome.Result = OutcomeSuccess
			return outcome
		}

		// 不可重试的失败只剩配置错误,重试修不好配置
		if !last.Retryable() {
			outcome.Result = OutcomeConfigError
			outcome.Error = last.Message
			return outcome
		}

		if attempt < f.maxAttempts {
			f.sleep(f.retryDelay)
		}
	}

	outcome.Result = OutcomeFailed
	outcome.Error = fmt.Sprintf("已尝试 %d 次仍失败: %s", outcome.AttemptsMade, last.Message)
	return outcome
}

// overallOutcome 汇总整体结局
func overallOutcome(matched bool, outcomes []RuleOutcome) Outcome {
	if !matched {
		return OutcomeNoMatchingRule
	}
	for _, outcome := range outcomes {
		if outcome.Result == OutcomeSuccess {
			return OutcomeSuccess
		}
	}
	return outcomes[len(outcomes)-1].Result
}

//
// ========== 结局写回 ==========
//

// recordOutcome 将整体结局写回短信记录(若该消息已入库)
func (f *Forwarder) recordOutcome(ctx context.Context, msg CompletedMessage, overall Outcome) {
	if f.recorder == nil || msg.RecordID == 0 {
		return
	}

	status := forwardStatus(overall)
	updated, err := f.recorder.UpdateMessageRecord(ctx, store.MessageRecord{
		ID:            msg.RecordID,
		ForwardStatus: status,
		ForwardedAt:   f.now().Unix(),
	})
	if err != nil {
		log.Printf("[FORWARD] 写回转发状态失败: record=%d err=%v", msg.RecordID, err)
		return
	}
	if !updated {
		log.Printf("[FORWARD] 写回转发状态未命中记录: record=%d", msg.RecordID)
	}
}

// forwardStatus 结局到记录状态字段的映射
func forwardStatus(overall Outcome) string {
	switch overall {
	case OutcomeSuccess:
		return StatusForwarded
	case OutcomeNoMatchingRule:
		return StatusNoRule
	case OutcomeConfigError:
		return StatusConfigErr
	default:
		return StatusFailed
	}
}

//
// ========== 规则缓存 ==========
//

// currentRules 返回当前规则快照,超过刷新周期时先刷新
// 刷新失败时沿用旧快照(允许读到有界陈旧数据,不追求强一致)
func (f *Forwarder) currentRules(ctx context.Context) []store.Rule {
	f.mu.RLock()
	snapshot := f.snapshot
	f.mu.RUnlock()

	if !snapshot.fetchedAt.IsZero() && f.now().Sub(snapshot.fetchedAt) < f.refreshEvery {
		return snapshot.rules
	}

	rules, err := f.rules.GetEnabledRules(ctx)
	if err != nil {
		log.Printf("[FORWARD] 刷新规则快照失败,沿用旧快照: %v", err)
		return snapshot.rules
	}

	fresh := ruleSnapshot{rules: rules, fetchedAt: f.now()}
	f.mu.Lock()
	f.snapshot = fresh
	f.mu.Unlock()

	return rules
}

// isDuplicate 查询重复投递拦截器,未配置或查询失败时放行
func (f *Forwarder) isDuplicate(ctx context.Context, msg CompletedMessage) bool {
	if f.dedup == nil {
		return false
	}

	fresh, err := f.dedup.CheckAndSet(ctx, msg, f.dedupTTL)
	if err != nil {
		log.Printf("[FORWARD] 去重检查失败,放行: %v", err)
		return false
	}
	return !fresh
}
