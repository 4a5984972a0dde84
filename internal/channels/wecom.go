package channels

import (
	"encoding/json"
	"fmt"
	"net/http"

	"sms-forwarder/internal/push"
)

const wecomWebhookURL = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=%s"

// wecomConfig 企业微信群机器人配置
type wecomConfig struct {
	Key string `json:"key"`
}

// WecomChannel 企业微信群机器人通道
type WecomChannel struct {
	client *http.Client
}

func (c *WecomChannel) Describe() string {
	return "企业微信群机器人"
}

func (c *WecomChannel) ValidateConfigExample() string {
	return `{"key": "693a91f6-7xxx-4bc4-97a0-0ec2sifa5aaa"}`
}

// Push 投递文本消息到群机器人
func (c *WecomChannel) Push(configJSON string, context push.PushContext) push.PushResult {
	var cfg wecomConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return push.PushResult{Code: push.ResultConfigError, Message: fmt.Sprintf("配置解析失败: %v", err)}
	}
	if cfg.Key == "" {
		return push.PushResult{Code: push.ResultConfigError, Message: "缺少 key 配置"}
	}

	payload := map[string]any{
		"msgtype": "text",
		"text": map[string]string{
			"content": formatMessage(context),
		},
	}

	result := postJSON(c.client, fmt.Sprintf(wecomWebhookURL, cfg.Key), payload)
	return checkBotResponse(result)
}
