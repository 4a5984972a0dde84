package channels

import (
	"encoding/json"
	"fmt"
	"net/http"

	"sms-forwarder/internal/push"
)

const feishuWebhookURL = "https://open.feishu.cn/open-apis/bot/v2/hook/%s"

// feishuConfig 飞书群机器人配置
type feishuConfig struct {
	Token string `json:"token"`
}

// FeishuChannel 飞书群机器人通道
type FeishuChannel struct {
	client *http.Client
}

func (c *FeishuChannel) Describe() string {
	return "飞书群机器人"
}

func (c *FeishuChannel) ValidateConfigExample() string {
	return `{"token": "b6dxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"}`
}

// Push 投递文本消息到群机器人
func (c *FeishuChannel) Push(configJSON string, context push.PushContext) push.PushResult {
	var cfg feishuConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return push.PushResult{Code: push.ResultConfigError, Message: fmt.Sprintf("配置解析失败: %v", err)}
	}
	if cfg.Token == "" {
		return push.PushResult{Code: push.ResultConfigError, Message: "缺少 token 配置"}
	}

	payload := map[string]any{
		"msg_type": "text",
		"content": map[string]string{
			"text": formatMessage(context),
		},
	}

	result := postJSON(c.client, fmt.Sprintf(feishuWebhookURL, cfg.Token), payload)
	return checkBotResponse(result)
}
