// Package dedup 提供基于 Redis 的重复投递拦截
// 模块确认删除偶发失败时同一条短信可能被再次读出,拦截器保证其只被转发一次
package dedup

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"sms-forwarder/internal/push"

	redis "github.com/redis/go-redis/v9"
)

// ==================== 常量定义 ====================

const (
	keySeparator     = ":"
	dedupPrefix      = "dedup"
	placeholderValue = "1"
	contentDelimiter = "|"
)

// ==================== 错误定义 ====================

var (
	// ErrRedisSetFailed Redis 设置失败错误
	ErrRedisSetFailed = errors.New("failed to set dedup key in redis")
)

// ==================== Redis 实现 ====================

// RedisChecker 基于 Redis 的重复投递拦截器
// 利用 Redis 的 SETNX 命令实现原子性的检查与设置
type RedisChecker struct {
	client    *redis.Client
	Namespace string // 命名空间,用于隔离不同部署实例的去重键
}

// NewRedisChecker 创建 Redis 重复投递拦截器实例
func NewRedisChecker(client *redis.Client, namespace string) *RedisChecker {
	return &RedisChecker{
		client:    client,
		Namespace: namespace,
	}
}

// CheckAndSet 检查并登记一条短信
// 返回 true 表示首次出现,false 表示该短信已被处理过
func (checker *RedisChecker) CheckAndSet(
	ctx context.Context,
	msg push.CompletedMessage,
	ttl time.Duration,
) (bool, error) {
	key := checker.buildDedupKey(msg)

	isFirstSeen, err := checker.client.SetNX(ctx, key, placeholderValue, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisSetFailed, err)
	}

	return isFirstSeen, nil
}

// ==================== 私有方法：键构建 ====================

// buildDedupKey 构建去重键
// 格式: {namespace}:dedup:{contentHash}
// 发件人、时间戳与内容共同决定身份,同一条短信重复读出时哈希一致
func (checker *RedisChecker) buildDedupKey(msg push.CompletedMessage) string {
	parts := []string{
		checker.Namespace,
		dedupPrefix,
		checker.generateContentHash(msg),
	}

	return strings.Join(parts, keySeparator)
}

// generateContentHash 生成短信身份的哈希值
func (checker *RedisChecker) generateContentHash(msg push.CompletedMessage) string {
	content := strings.Join([]string{
		msg.Sender,
		msg.TimestampRaw,
		msg.Content,
	}, contentDelimiter)

	hash := sha1.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}
