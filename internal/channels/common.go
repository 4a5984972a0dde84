package channels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sms-forwarder/internal/push"
)

// RegisterAll 向注册表登记全部内置通道
// channelTimeout 约束单次出站 HTTP 调用的总时长
func RegisterAll(registry *push.Registry, channelTimeout time.Duration) error {
	client := &http.Client{Timeout: channelTimeout}

	registrations := []struct {
		name    string
		factory push.Factory
		aliases []string
	}{
		{"webhook", func() push.Channel { return &WebhookChannel{client: client} }, nil},
		{"wecom", func() push.Channel { return &WecomChannel{client: client} }, []string{"wechat-work"}},
		{"dingtalk", func() push.Channel { return &DingtalkChannel{client: client} }, nil},
		{"feishu", func() push.Channel { return &FeishuChannel{client: client} }, []string{"lark"}},
	}

	for _, registration := range registrations {
		if err := registry.Register(registration.name, registration.factory, registration.aliases...); err != nil {
			return err
		}
	}
	return nil
}

// formatMessage 生成机器人文本消息正文
func formatMessage(context push.PushContext) string {
	return fmt.Sprintf("【短信转发】\n发件人: %s\n时间: %s\n内容: %s",
		context.Sender, formatTimestamp(context.TimestampRaw), context.Content)
}

// formatTimestamp 将 12 位紧凑时间戳转为可读形式
// 非 12 位输入原样返回
func formatTimestamp(raw string) string {
	if len(raw) != 12 {
		return raw
	}
	return fmt.Sprintf("20%s-%s-%s %s:%s:%s",
		raw[0:2], raw[2:4], raw[4:6], raw[6:8], raw[8:10], raw[10:12])
}

// postJSON 向端点投递 JSON 请求体并按结果分类
// 网络层失败与服务端 5xx 视为可重试,其余非 2xx 视为投递失败
func postJSON(client *http.Client, url string, payload any) push.PushResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return push.PushResult{Code: push.ResultConfigError, Message: fmt.Sprintf("请求体序列化失败: %v", err)}
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return push.PushResult{Code: push.ResultNetworkError, Message: fmt.Sprintf("请求失败: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return push.PushResult{Code: push.ResultNetworkError,
			Message: fmt.Sprintf("服务端错误: status=%d body=%s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return push.PushResult{Code: push.ResultFailed,
			Message: fmt.Sprintf("投递被拒绝: status=%d body=%s", resp.StatusCode, respBody)}
	}

	return push.PushResult{Code: push.ResultSuccess, Message: string(respBody)}
}

// botResponse 各家机器人接口共同的结果结构
type botResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

// checkBotResponse 检查机器人接口业务层结果
// HTTP 层成功但 errcode/code 非零时判定为投递失败
func checkBotResponse(result push.PushResult) push.PushResult {
	if result.Code != push.ResultSuccess {
		return result
	}

	var parsed botResponse
	if err := json.Unmarshal([]byte(result.Message), &parsed); err != nil {
		// 响应不是 JSON 时按 HTTP 状态码的判定为准
		return result
	}
	if parsed.ErrCode != 0 {
		return push.PushResult{Code: push.ResultFailed,
			Message: fmt.Sprintf("机器人接口返回错误: errcode=%d errmsg=%s", parsed.ErrCode, parsed.ErrMsg)}
	}
	if parsed.Code != 0 {
		return push.PushResult{Code: push.ResultFailed,
			Message: fmt.Sprintf("机器人接口返回错误: code=%d msg=%s", parsed.Code, parsed.Msg)}
	}
	return result
}
