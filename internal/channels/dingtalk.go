package channels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"sms-forwarder/internal/push"
)

const dingtalkWebhookURL = "https://oapi.dingtalk.com/robot/send?access_token=%s"

// dingtalkConfig 钉钉群机器人配置
// Secret 为空时走关键字/IP 白名单校验,非空时附加加签参数
type dingtalkConfig struct {
	AccessToken string `json:"access_token"`
	Secret      string `json:"secret"`
}

// DingtalkChannel 钉钉群机器人通道
type DingtalkChannel struct {
	client *http.Client

	// 可注入时钟,便于验证加签参数
	now func() time.Time
}

func (c *DingtalkChannel) Describe() string {
	return "钉钉群机器人,支持加签安全设置"
}

func (c *DingtalkChannel) ValidateConfigExample() string {
	return `{"access_token": "xxxxxxxx", "secret": "SECxxxxxxxx"}`
}

// Push 投递文本消息到群机器人
func (c *DingtalkChannel) Push(configJSON string, context push.PushContext) push.PushResult {
	var cfg dingtalkConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return push.PushResult{Code: push.ResultConfigError, Message: fmt.Sprintf("配置解析失败: %v", err)}
	}
	if cfg.AccessToken == "" {
		return push.PushResult{Code: push.ResultConfigError, Message: "缺少 access_token 配置"}
	}

	endpoint := fmt.Sprintf(dingtalkWebhookURL, cfg.AccessToken)
	if cfg.Secret != "" {
		endpoint += c.signQuery(cfg.Secret)
	}

	payload := map[string]any{
		"msgtype": "text",
		"text": map[string]string{
			"content": formatMessage(context),
		},
	}

	result := postJSON(c.client, endpoint, payload)
	return checkBotResponse(result)
}

// signQuery 生成加签查询参数
// 签名串为 毫秒时间戳 + "\n" + secret 的 HMAC-SHA256,Base64 后 URL 编码
func (c *DingtalkChannel) signQuery(secret string) string {
	clock := c.now
	if clock == nil {
		clock = time.Now
	}

	timestamp := clock().UnixMilli()
	toSign := fmt.Sprintf("%d\n%s", timestamp, secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("&timestamp=%d&sign=%s", timestamp, url.QueryEscape(sign))
}
