package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotConnected 未配置 Redis
var ErrNotConnected = errors.New("redis not connected")

// 仅当持有者 token 匹配时才删除，避免误删他人续上的锁
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 SET NX PX 的跨进程互斥锁
type Locker struct {
	client goredis.UniversalClient
	prefix string
}

func NewLocker(client goredis.UniversalClient, prefix string) *Locker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "traderag:lock:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Locker{client: client, prefix: prefix}
}

// Key 返回锁在 Redis 中的完整 key
func (l *Locker) Key(name string) string {
	return l.prefix + name
}

// TryLock 非阻塞加锁；ok=false 表示锁被其他进程持有
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConnected
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.Key(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock 释放锁；token 不匹配（已过期被他人获取）时静默返回
func (l *Locker) Unlock(ctx context.Context, name, token string) error {
	if l == nil || l.client == nil {
		return ErrNotConnected
	}
	if token == "" {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{l.Key(name)}, token).Err()
}

// Close 关闭 Redis 连接
func (l *Locker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
