package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"TradeRAG/internal/config"

	arkEmbed "github.com/cloudwego/eino-ext/components/embedding/ark"
	dashscopeEmbed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

type EmbedderMeta struct {
	Provider string
	Model    string
	Dim      int
}

// remoteSettings 远程 provider 的凭据，配置优先，其次 <PREFIX>_API_KEY / _EMBED_MODEL / _BASE_URL
type remoteSettings struct {
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	dim     int
}

func resolveRemote(envPrefix string, ec config.AIEmbeddingConfig, dim int) (remoteSettings, error) {
	s := remoteSettings{
		apiKey:  firstNonEmpty(ec.APIKey, os.Getenv(envPrefix+"_API_KEY")),
		model:   firstNonEmpty(ec.Model, os.Getenv(envPrefix+"_EMBED_MODEL")),
		baseURL: firstNonEmpty(ec.BaseURL, os.Getenv(envPrefix+"_BASE_URL")),
		timeout: time.Duration(ec.TimeoutSeconds) * time.Second,
		dim:     dim,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.apiKey == "" || s.model == "" {
		return s, fmt.Errorf("%s embedding requires apiKey and model", strings.ToLower(envPrefix))
	}
	return s, nil
}

type remoteBuilder struct {
	envPrefix string
	build     func(ctx context.Context, s remoteSettings) (embedding.Embedder, error)
}

var remoteProviders = map[string]remoteBuilder{
	"openai":    {envPrefix: "OPENAI", build: newOpenAI},
	"ark":       {envPrefix: "ARK", build: newArk},
	"dashscope": {envPrefix: "DASHSCOPE", build: newDashscope},
}

// NewEmbedderFromConfig 按 aiConfig.embedding.provider 选择实现。
// 向量维度默认取 milvusConfig.vectorDim，embedding.dimensions 单独配置时覆盖；
// 入库与召回共用返回的同一个实例。
func NewEmbedderFromConfig(ctx context.Context, conf *config.Config) (embedding.Embedder, EmbedderMeta, error) {
	if conf == nil {
		return nil, EmbedderMeta{}, fmt.Errorf("nil config")
	}
	ec := conf.AIConfig.Embedding
	dim := conf.MilvusConfig.VectorDim
	if ec.Dimensions > 0 {
		dim = ec.Dimensions
	}
	provider := strings.ToLower(strings.TrimSpace(ec.Provider))

	if provider == "" || provider == "hash" || provider == "mock" {
		model := firstNonEmpty(ec.Model, "fnv-hash")
		return NewHashEmbedder(dim), EmbedderMeta{Provider: "hash", Model: model, Dim: dim}, nil
	}

	rb, ok := remoteProviders[provider]
	if !ok {
		return nil, EmbedderMeta{}, fmt.Errorf("unknown embedding provider: %s", provider)
	}
	s, err := resolveRemote(rb.envPrefix, ec, dim)
	if err != nil {
		return nil, EmbedderMeta{}, err
	}
	em, err := rb.build(ctx, s)
	if err != nil {
		return nil, EmbedderMeta{}, fmt.Errorf("init %s embedder: %w", provider, err)
	}
	return em, EmbedderMeta{Provider: provider, Model: s.model, Dim: dim}, nil
}

func newOpenAI(ctx context.Context, s remoteSettings) (embedding.Embedder, error) {
	dim := s.dim
	return openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		APIKey:     s.apiKey,
		Model:      s.model,
		BaseURL:    s.baseURL,
		Timeout:    s.timeout,
		Dimensions: &dim,
	})
}

// ark 的维度由模型决定，不可指定
func newArk(ctx context.Context, s remoteSettings) (embedding.Embedder, error) {
	return arkEmbed.NewEmbedder(ctx, &arkEmbed.EmbeddingConfig{
		APIKey:  s.apiKey,
		Model:   s.model,
		BaseURL: s.baseURL,
	})
}

func newDashscope(ctx context.Context, s remoteSettings) (embedding.Embedder, error) {
	dim := s.dim
	return dashscopeEmbed.NewEmbedder(ctx, &dashscopeEmbed.EmbeddingConfig{
		APIKey:     s.apiKey,
		Model:      s.model,
		Dimensions: &dim,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
