package initial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeRAG/internal/config"
	"TradeRAG/pkg/zlog"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRedisDisabled 未配置 host，跨进程入库锁不启用
var ErrRedisDisabled = errors.New("redis disabled")

// NewRedisClient 建立连接并 Ping 校验
func NewRedisClient(ctx context.Context, conf *config.Config) (*goredis.Client, error) {
	rc := conf.RedisConfig
	if rc.Host == "" {
		return nil, ErrRedisDisabled
	}
	port := rc.Port
	if port == 0 {
		port = 6379
	}
	addr := fmt.Sprintf("%s:%d", rc.Host, port)
	zlog.Info("redis connecting", zap.String("addr", addr))

	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
