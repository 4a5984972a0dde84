package channels

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"sms-forwarder/internal/push"
)

// webhookConfig 通用 Webhook 通道配置
type webhookConfig struct {
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers"`
	BodyTemplate string            `json:"body_template"`
}

// WebhookChannel 通用 Webhook 通道
// 向任意 HTTP 端点投递 JSON;支持模板自定义请求体,
// 模板中的 ${sender}/${content}/${timestamp} 占位符会被替换
type WebhookChannel struct {
	client *http.Client
}

func (c *WebhookChannel) Describe() string {
	return "通用 Webhook,向自定义 HTTP 端点投递 JSON 消息"
}

func (c *WebhookChannel) ValidateConfigExample() string {
	return `{"url": "https://example.com/hooks/sms", "headers": {"Authorization": "Bearer token"}, "body_template": ""}`
}

// Push 投递消息到配置的端点
func (c *WebhookChannel) Push(configJSON string, context push.PushContext) push.PushResult {
	var cfg webhookConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return push.PushResult{Code: push.ResultConfigError, Message: fmt.Sprintf("配置解析失败: %v", err)}
	}
	if cfg.URL == "" {
		return push.PushResult{Code: push.ResultConfigError, Message: "缺少 url 配置"}
	}

	body := c.buildBody(cfg, context)

	req, err := http.NewRequest(http.MethodPost, cfg.URL, strings.NewReader(body))
	if err != nil {
		return push.PushResult{Code: push.ResultConfigError, Message: fmt.Sprintf("非法的 url: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return push.PushResult{Code: push.ResultNetworkError, Message: fmt.Sprintf("请求失败: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return push.PushResult{Code: push.ResultNetworkError, Message: fmt.Sprintf("服务端错误: status=%d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return push.PushResult{Code: push.ResultFailed, Message: fmt.Sprintf("投递被拒绝: status=%d", resp.StatusCode)}
	}
	return push.PushResult{Code: push.ResultSuccess}
}

// buildBody 生成请求体:有模板走占位符替换,否则用默认 JSON 结构
func (c *WebhookChannel) buildBody(cfg webhookConfig, context push.PushContext) string {
	if cfg.BodyTemplate == "" {
		defaultBody, _ := json.Marshal(map[string]string{
			"sender":    context.Sender,
			"content":   context.Content,
			"timestamp": formatTimestamp(context.TimestampRaw),
		})
		return string(defaultBody)
	}

	replacer := strings.NewReplacer(
		"${sender}", jsonEscape(context.Sender),
		"${content}", jsonEscape(context.Content),
		"${timestamp}", jsonEscape(formatTimestamp(context.TimestampRaw)),
	)
	return replacer.Replace(cfg.BodyTemplate)
}

// jsonEscape 将值转义为可嵌入 JSON 字符串字面量的形式(去掉外层引号)
func jsonEscape(value string) string {
	escaped, _ := json.Marshal(value)
	return string(escaped[1 : len(escaped)-1])
}
