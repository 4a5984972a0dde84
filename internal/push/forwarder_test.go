package push

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"sms-forwarder/internal/store"
)

//
// ========== 测试替身 ==========
//

// fakeRuleProvider 固定规则集的数据来源
type fakeRuleProvider struct {
	rules   []store.Rule
	loadErr error
	loads   int
}

func (p *fakeRuleProvider) GetEnabledRules(ctx context.Context) ([]store.Rule, error) {
	p.loads++
	return p.rules, p.loadErr
}

func (p *fakeRuleProvider) GetRuleByID(ctx context.Context, id int64) (*store.Rule, error) {
	for _, rule := range p.rules {
		if rule.ID == id {
			found := rule
			return &found, nil
		}
	}
	return nil, nil
}

// fakeRecorder 记录结局写回
type fakeRecorder struct {
	updates []store.MessageRecord
}

func (r *fakeRecorder) UpdateMessageRecord(ctx context.Context, record store.MessageRecord) (bool, error) {
	r.updates = append(r.updates, record)
	return true, nil
}

// scriptedChannel 按脚本返回推送结果
// 脚本耗尽后重复最后一项
type scriptedChannel struct {
	results []PushResult
	calls   int
}

func (c *scriptedChannel) Push(configJSON string, context PushContext) PushResult {
	index := c.calls
	if index >= len(c.results) {
		index = len(c.results) - 1
	}
	c.calls++
	return c.results[index]
}

func (c *scriptedChannel) Describe() string              { return "scripted" }
func (c *scriptedChannel) ValidateConfigExample() string { return "{}" }

// fakeDedup 固定判定结果的去重器
type fakeDedup struct {
	fresh bool
	err   error
	calls int
}

func (d *fakeDedup) CheckAndSet(ctx context.Context, msg CompletedMessage, ttl time.Duration) (bool, error) {
	d.calls++
	return d.fresh, d.err
}

// newTestForwarder 构建一个不真实睡眠的转发引擎
func newTestForwarder(registry *Registry, provider RuleProvider, recorder OutcomeRecorder, maxAttempts int) (*Forwarder, *[]time.Duration) {
	forwarder := NewForwarder(registry, provider, recorder, maxAttempts, 2*time.Second, 30*time.Second)

	var slept []time.Duration
	forwarder.sleep = func(d time.Duration) { slept = append(slept, d) }
	return forwarder, &slept
}

func registerScripted(t *testing.T, registry *Registry, name string, channel *scriptedChannel) {
	t.Helper()
	if err := registry.Register(name, func() Channel { return channel }); err != nil {
		t.Fatalf("注册通道失败: %v", err)
	}
}

func enabledRule(id int64, name, pattern, keywords, channel string) store.Rule {
	return store.Rule{
		ID:                  id,
		Name:                name,
		SourceNumberPattern: pattern,
		KeywordList:         keywords,
		ChannelName:         channel,
		ChannelConfig:       "{}",
		Enabled:             true,
	}
}

//
// ========== 重试语义 ==========
//

func TestPushResultRetryable(t *testing.T) {
	cases := []struct {
		code ResultCode
		want bool
	}{
		{ResultSuccess, false},
		{ResultFailed, true},
		{ResultNetworkError, true},
		{ResultConfigError, false},
	}

	for _, c := range cases {
		if got := (PushResult{Code: c.code}).Retryable(); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestForwardRetryExhaustion(t *testing.T) {
	const maxAttempts = 3

	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultFailed, Message: "endpoint down"}}}
	registerScripted(t, registry, "flaky", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "flaky")}}
	forwarder, slept := newTestForwarder(registry, provider, nil, maxAttempts)

	outcome, ruleOutcomes := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588", Content: "hi"})

	if outcome != OutcomeFailed {
		t.Errorf("整体结局应为 failed, got %s", outcome)
	}
	if channel.calls != maxAttempts {
		t.Errorf("通道应被调用恰好 %d 次, got %d", maxAttempts, channel.calls)
	}
	if len(ruleOutcomes) != 1 {
		t.Fatalf("应有一条规则结局, got %d", len(ruleOutcomes))
	}
	if ruleOutcomes[0].AttemptsMade != maxAttempts {
		t.Errorf("AttemptsMade = %d, want %d", ruleOutcomes[0].AttemptsMade, maxAttempts)
	}
	if !strings.Contains(ruleOutcomes[0].Error, fmt.Sprintf("%d", maxAttempts)) {
		t.Errorf("错误信息应包含尝试次数 %d: %q", maxAttempts, ruleOutcomes[0].Error)
	}
	// 最后一次失败后不再等待
	if len(*slept) != maxAttempts-1 {
		t.Errorf("重试间等待次数 = %d, want %d", len(*slept), maxAttempts-1)
	}
}

func TestForwardSucceedsMidRetry(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{
		{Code: ResultNetworkError, Message: "timeout"},
		{Code: ResultSuccess},
	}}
	registerScripted(t, registry, "flaky", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "flaky")}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 3)

	outcome, ruleOutcomes := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeSuccess {
		t.Errorf("整体结局应为 success, got %s", outcome)
	}
	if channel.calls != 2 {
		t.Errorf("成功后应立即停止, calls = %d", channel.calls)
	}
	if ruleOutcomes[0].AttemptsMade != 2 {
		t.Errorf("AttemptsMade = %d, want 2", ruleOutcomes[0].AttemptsMade)
	}
}

func TestForwardConfigErrorNotRetried(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultConfigError, Message: "缺少 url 配置"}}}
	registerScripted(t, registry, "broken", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "broken")}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 3)

	outcome, ruleOutcomes := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeConfigError {
		t.Errorf("整体结局应为 config_error, got %s", outcome)
	}
	if channel.calls != 1 {
		t.Errorf("配置错误不应重试, calls = %d", channel.calls)
	}
	if ruleOutcomes[0].Error != "缺少 url 配置" {
		t.Errorf("错误信息应透传通道结果: %q", ruleOutcomes[0].Error)
	}
}

func TestForwardUnknownChannel(t *testing.T) {
	registry := NewRegistry()
	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "missing")}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 3)

	outcome, ruleOutcomes := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeConfigError {
		t.Errorf("未注册通道应判定 config_error, got %s", outcome)
	}
	if ruleOutcomes[0].AttemptsMade != 0 {
		t.Errorf("未注册通道不应发起任何尝试, AttemptsMade = %d", ruleOutcomes[0].AttemptsMade)
	}
}

//
// ========== 匹配与执行策略 ==========
//

func TestForwardExecutesAllMatchingRules(t *testing.T) {
	registry := NewRegistry()
	failing := &scriptedChannel{results: []PushResult{{Code: ResultFailed, Message: "down"}}}
	succeeding := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "failing", failing)
	registerScripted(t, registry, "succeeding", succeeding)

	provider := &fakeRuleProvider{rules: []store.Rule{
		enabledRule(1, "先失败", "95588", "", "failing"),
		enabledRule(2, "后成功", "95588", "", "succeeding"),
	}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	outcome, ruleOutcomes := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeSuccess {
		t.Errorf("任一规则成功则整体成功, got %s", outcome)
	}
	if len(ruleOutcomes) != 2 {
		t.Errorf("两条匹配规则都应执行, got %d", len(ruleOutcomes))
	}
	if failing.calls == 0 || succeeding.calls == 0 {
		t.Error("不应因首条命中而跳过后续规则")
	}
}

func TestForwardNoMatchingRule(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{
		enabledRule(1, "不匹配", "10086", "", "ch"),
	}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	outcome, ruleOutcomes := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeNoMatchingRule {
		t.Errorf("无规则匹配应返回 no_matching_rule, got %s", outcome)
	}
	if len(ruleOutcomes) != 0 {
		t.Errorf("不应有规则结局, got %d", len(ruleOutcomes))
	}
	if channel.calls != 0 {
		t.Error("未匹配时不应触发推送")
	}
}

func TestForwardSkipsDisabledRules(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	disabled := enabledRule(1, "已停用", "95588", "", "ch")
	disabled.Enabled = false
	provider := &fakeRuleProvider{rules: []store.Rule{disabled}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	outcome, _ := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeNoMatchingRule {
		t.Errorf("停用规则不参与匹配, got %s", outcome)
	}
	if channel.calls != 0 {
		t.Error("停用规则不应触发推送")
	}
}

func TestForwardDefaultRuleBypassesMatching(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	fallback := enabledRule(1, "兜底", "绝不匹配", "绝不出现的关键字", "ch")
	fallback.IsDefaultForward = true
	provider := &fakeRuleProvider{rules: []store.Rule{fallback}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	outcome, _ := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588", Content: "无关内容"})

	if outcome != OutcomeSuccess {
		t.Errorf("默认转发规则应无条件命中, got %s", outcome)
	}
}

func TestForwardKeywordAndPatternBothRequired(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{
		enabledRule(1, "组合条件", "1380*", "重要,紧急", "ch"),
	}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	outcome, _ := forwarder.Forward(context.Background(),
		CompletedMessage{Sender: "13800001111", Content: "这是一条紧急通知"})
	if outcome != OutcomeSuccess {
		t.Errorf("号码与关键字同时满足应命中, got %s", outcome)
	}

	outcome, _ = forwarder.Forward(context.Background(),
		CompletedMessage{Sender: "13900000000", Content: "这是一条紧急通知"})
	if outcome != OutcomeNoMatchingRule {
		t.Errorf("号码不符时不应命中, got %s", outcome)
	}

	outcome, _ = forwarder.Forward(context.Background(),
		CompletedMessage{Sender: "13800001111", Content: "普通消息"})
	if outcome != OutcomeNoMatchingRule {
		t.Errorf("关键字不符时不应命中, got %s", outcome)
	}
}

//
// ========== 结局写回与去重 ==========
//

func TestForwardRecordsOutcome(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "ch")}}
	recorder := &fakeRecorder{}
	forwarder, _ := newTestForwarder(registry, provider, recorder, 1)

	forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588", RecordID: 42})

	if len(recorder.updates) != 1 {
		t.Fatalf("应写回一次结局, got %d", len(recorder.updates))
	}
	if recorder.updates[0].ID != 42 {
		t.Errorf("写回记录 ID = %d, want 42", recorder.updates[0].ID)
	}
	if recorder.updates[0].ForwardStatus != StatusForwarded {
		t.Errorf("写回状态 = %q, want %q", recorder.updates[0].ForwardStatus, StatusForwarded)
	}
}

func TestForwardSkipsRecordingWithoutRecordID(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "ch")}}
	recorder := &fakeRecorder{}
	forwarder, _ := newTestForwarder(registry, provider, recorder, 1)

	forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if len(recorder.updates) != 0 {
		t.Errorf("未入库消息不应写回结局, got %d", len(recorder.updates))
	}
}

func TestForwardDuplicateIntercepted(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "ch")}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)
	forwarder.SetDedup(&fakeDedup{fresh: false}, time.Hour)

	outcome, ruleOutcomes := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeSuccess {
		t.Errorf("重复消息应直接视为成功, got %s", outcome)
	}
	if ruleOutcomes != nil {
		t.Error("重复消息不应执行任何规则")
	}
	if channel.calls != 0 {
		t.Error("重复消息不应触发推送")
	}
}

func TestForwardDedupFailureFailsOpen(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "ch")}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)
	forwarder.SetDedup(&fakeDedup{err: fmt.Errorf("redis down")}, time.Hour)

	outcome, _ := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	if outcome != OutcomeSuccess {
		t.Errorf("去重查询失败应放行消息, got %s", outcome)
	}
	if channel.calls != 1 {
		t.Error("放行后应正常推送")
	}
}

//
// ========== 规则缓存 ==========
//

func TestForwardRuleSnapshotCaching(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "ch")}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	current := time.Now()
	forwarder.now = func() time.Time { return current }

	forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})
	forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})
	if provider.loads != 1 {
		t.Errorf("刷新周期内不应重复加载规则, loads = %d", provider.loads)
	}

	current = current.Add(time.Minute)
	forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})
	if provider.loads != 2 {
		t.Errorf("超过刷新周期应重新加载, loads = %d", provider.loads)
	}
}

func TestForwardKeepsStaleSnapshotOnRefreshError(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	provider := &fakeRuleProvider{rules: []store.Rule{enabledRule(1, "规则A", "", "", "ch")}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	current := time.Now()
	forwarder.now = func() time.Time { return current }

	forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})

	provider.loadErr = fmt.Errorf("mysql down")
	current = current.Add(time.Minute)

	outcome, _ := forwarder.Forward(context.Background(), CompletedMessage{Sender: "95588"})
	if outcome != OutcomeSuccess {
		t.Errorf("刷新失败应沿用旧快照继续转发, got %s", outcome)
	}
}

//
// ========== 管理操作 ==========
//

func TestForwardWithRuleDisabled(t *testing.T) {
	registry := NewRegistry()
	channel := &scriptedChannel{results: []PushResult{{Code: ResultSuccess}}}
	registerScripted(t, registry, "ch", channel)

	disabled := enabledRule(7, "已停用", "", "", "ch")
	disabled.Enabled = false
	provider := &fakeRuleProvider{rules: []store.Rule{disabled}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	outcome := forwarder.ForwardWithRule(context.Background(), 7, CompletedMessage{Sender: "95588"})

	if outcome.Result != OutcomeRuleDisabled {
		t.Errorf("指定停用规则应返回 rule_disabled, got %s", outcome.Result)
	}
	if channel.calls != 0 {
		t.Error("停用规则不应触发推送")
	}
}

func TestTestMatch(t *testing.T) {
	registry := NewRegistry()
	provider := &fakeRuleProvider{rules: []store.Rule{
		enabledRule(3, "规则A", "95588", "验证码", "ch"),
	}}
	forwarder, _ := newTestForwarder(registry, provider, nil, 1)

	matched, err := forwarder.TestMatch(context.Background(), 3, "95588", "您的验证码是 1234")
	if err != nil || !matched {
		t.Errorf("应命中: matched=%v err=%v", matched, err)
	}

	matched, err = forwarder.TestMatch(context.Background(), 3, "10086", "您的验证码是 1234")
	if err != nil || matched {
		t.Errorf("不应命中: matched=%v err=%v", matched, err)
	}

	if _, err := forwarder.TestMatch(context.Background(), 99, "95588", ""); err == nil {
		t.Error("不存在的规则应返回错误")
	}
}
