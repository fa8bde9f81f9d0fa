package initial

import (
	"context"
	"errors"
	"strings"

	"TradeRAG/internal/config"
	"TradeRAG/pkg/zlog"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"go.uber.org/zap"
)

// NewMilvusClient 建立 Milvus / Zilliz Cloud 连接。
// 配置了 APIKey 时走 token 认证（Zilliz），否则使用用户名密码。
// 集合与索引由 vectordb.MilvusStore 按需创建。
func NewMilvusClient(ctx context.Context, conf *config.Config) (mclient.Client, error) {
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	if addr == "" {
		return nil, errors.New("milvus address is empty (set milvusConfig.address or ZILLIZ_URI)")
	}

	cfg := mclient.Config{
		Address: addr,
		DBName:  strings.TrimSpace(conf.MilvusConfig.DBName),
	}
	if key := strings.TrimSpace(conf.MilvusConfig.APIKey); key != "" {
		cfg.APIKey = key
		cfg.EnableTLSAuth = strings.HasPrefix(addr, "https://")
	} else {
		cfg.Username = strings.TrimSpace(conf.MilvusConfig.Username)
		cfg.Password = strings.TrimSpace(conf.MilvusConfig.Password)
	}

	cli, err := mclient.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	zlog.Info("milvus connected", zap.String("address", addr), zap.String("db", cfg.DBName))
	return cli, nil
}
