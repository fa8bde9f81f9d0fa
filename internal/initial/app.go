package initial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TradeRAG/internal/config"
	"TradeRAG/internal/modules/ai/application/service"
	aiRepo "TradeRAG/internal/modules/ai/domain/repository"
	"TradeRAG/internal/modules/ai/infrastructure/chunking"
	aiEmbedding "TradeRAG/internal/modules/ai/infrastructure/embedding"
	"TradeRAG/internal/modules/ai/infrastructure/exchange"
	"TradeRAG/internal/modules/ai/infrastructure/mq"
	"TradeRAG/internal/modules/ai/infrastructure/mq/kafka"
	"TradeRAG/internal/modules/ai/infrastructure/persistence"
	"TradeRAG/internal/modules/ai/infrastructure/pipeline"
	"TradeRAG/internal/modules/ai/infrastructure/reader"
	"TradeRAG/internal/modules/ai/infrastructure/vectordb"
	"TradeRAG/internal/modules/ai/interface/scheduler"
	pkgredis "TradeRAG/pkg/redis"
	"TradeRAG/pkg/util/myjwt"
	"TradeRAG/pkg/zlog"

	"go.uber.org/zap"
)

const (
	BackendMilvus = "milvus"
	BackendMemory = "memory"
)

// App 组合根：显式构造全部依赖，Close 逆序释放
type App struct {
	Conf      *config.Config
	Backend   string
	VectorDim int

	Ingest    service.IngestService
	Retrieve  service.RetrieveService
	Scheduler *scheduler.SchedulerManager
	Signer    *myjwt.Signer // 未配置 jwt key 时为 nil

	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// NewApp 向量库不可达时返回错误；Kafka / MySQL / Redis 为可选依赖，连接失败只告警
func NewApp(ctx context.Context, conf *config.Config) (*App, error) {
	app := &App{Conf: conf, Backend: conf.MilvusConfig.Backend}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	conf := a.Conf

	embedder, meta, err := aiEmbedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	a.VectorDim = meta.Dim
	zlog.Info("embedder ready", zap.String("provider", meta.Provider), zap.String("model", meta.Model), zap.Int("dim", meta.Dim))

	vs, err := a.newVectorStore(ctx)
	if err != nil {
		return err
	}

	mk := conf.MarketConfig
	fetcher, err := exchange.NewFetcher(exchange.Config{
		SpotBaseURL:       mk.SpotBaseURL,
		FuturesBaseURL:    mk.FuturesBaseURL,
		UserAgent:         mk.UserAgent,
		Timeout:           time.Duration(mk.TimeoutSeconds) * time.Second,
		RetryMax:          mk.RetryTimes,
		RequestsPerSecond: mk.RequestsPerSecond,
		Burst:             mk.Burst,
		KlineInterval:     mk.KlineInterval,
		KlineLimit:        mk.KlineLimit,
		DepthLimit:        mk.DepthLimit,
		TradeLimit:        mk.TradeLimit,
		ForceOrderLimit:   mk.ForceOrderLimit,
		LongShortPeriod:   mk.LongShortPeriod,
	})
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	ingestPipe, err := pipeline.NewIngestPipeline(vs, embedder, fetcher, a.newFactFeed(), pipeline.IngestOptions{
		VectorDim:       meta.Dim,
		EmbedRetryTimes: conf.AIConfig.Embedding.RetryTimes,
	})
	if err != nil {
		return fmt.Errorf("init ingest pipeline: %w", err)
	}
	retrievePipe, err := pipeline.NewRetrievePipeline(vs, embedder, meta.Dim, conf.RAGConfig.TopK)
	if err != nil {
		return fmt.Errorf("init retrieve pipeline: %w", err)
	}

	rc := conf.RAGConfig
	chunker, err := chunking.NewChunker(ctx, rc.ChunkSize, rc.ChunkOverlap)
	if err != nil {
		return err
	}

	a.Ingest = service.NewIngestService(
		ingestPipe,
		reader.NewDocumentReader(rc.DocsInclude, rc.DocsExclude),
		chunker,
		a.newRunRepository(),
		a.newRunLock(ctx),
		service.IngestServiceOptions{
			Symbols: mk.Symbols,
			DocsDir: rc.DocsDir,
			LockTTL: time.Duration(conf.RedisConfig.LockTTLSeconds) * time.Second,
		},
	)
	a.Retrieve = service.NewRetrieveService(retrievePipe)
	a.Scheduler = scheduler.NewSchedulerManager(a.Ingest, scheduler.Options{
		IntervalMinutes: conf.SchedulerConfig.IntervalMinutes,
		RunOnStart:      conf.SchedulerConfig.RunOnStart,
	})

	if key := strings.TrimSpace(conf.JwtConfig.Key); key != "" {
		signer, err := myjwt.NewSigner(key, conf.JwtConfig.Issuer, conf.JwtConfig.ExpireHours)
		if err != nil {
			return err
		}
		a.Signer = signer
	}
	return nil
}

func (a *App) newVectorStore(ctx context.Context) (aiRepo.VectorStore, error) {
	mc := a.Conf.MilvusConfig
	switch a.Backend {
	case BackendMemory:
		zlog.Warn("using in-memory vector store, data is lost on exit")
		return vectordb.NewMemoryStore(mc.CollectionName), nil
	case BackendMilvus:
		cli, err := NewMilvusClient(ctx, a.Conf)
		if err != nil {
			return nil, fmt.Errorf("connect milvus: %w", err)
		}
		a.addCloser("milvus", cli.Close)
		store, err := vectordb.NewMilvusStore(cli, vectordb.StoreConfig{
			Collection:    mc.CollectionName,
			IndexType:     mc.IndexType,
			MetricType:    mc.MetricType,
			NList:         mc.NList,
			NProbe:        mc.NProbe,
			DedupPageSize: mc.DedupPageSize,
			DedupMaxScan:  mc.DedupMaxScan,
		})
		if err != nil {
			return nil, err
		}
		// 启动时即校验集合，存储不可达直接失败
		if _, err := store.GetOrCreateCollection(ctx, a.VectorDim); err != nil {
			return nil, fmt.Errorf("prepare collection %s: %w", mc.CollectionName, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", a.Backend)
	}
}

// newFactFeed 未配置 brokers 时返回 nil 接口
func (a *App) newFactFeed() pipeline.FactPublisher {
	kc := a.Conf.KafkaConfig
	if len(kc.Brokers) == 0 {
		return nil
	}
	kcfg := KafkaClientConfig(a.Conf)
	if err := kafka.EnsureTopic(kcfg, kafka.TopicSpec{
		Name:              kc.FactTopic,
		Partitions:        kc.Partitions,
		ReplicationFactor: kc.ReplicationFactor,
		Retention:         time.Duration(kc.RetentionHours) * time.Hour,
	}); err != nil {
		zlog.Warn("kafka ensure topic failed", zap.String("topic", kc.FactTopic), zap.Error(err))
	}
	pub, err := kafka.NewPublisher(kcfg)
	if err != nil {
		zlog.Warn("kafka publisher disabled", zap.Error(err))
		return nil
	}
	feed, err := mq.NewFactFeed(pub, kc.FactTopic)
	if err != nil {
		_ = pub.Close()
		zlog.Warn("fact feed disabled", zap.Error(err))
		return nil
	}
	a.addCloser("kafka", feed.Close)
	zlog.Info("fact feed enabled", zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.FactTopic))
	return feed
}

func (a *App) newRunRepository() aiRepo.IngestRunRepository {
	db, err := NewGormDB(a.Conf)
	if errors.Is(err, ErrMysqlDisabled) {
		return nil
	}
	if err != nil {
		zlog.Warn("run history disabled", zap.Error(err))
		return nil
	}
	if sqlDB, err := db.DB(); err == nil {
		a.addCloser("mysql", sqlDB.Close)
	}
	return persistence.NewIngestRunRepository(db)
}

func (a *App) newRunLock(ctx context.Context) service.RunLock {
	client, err := NewRedisClient(ctx, a.Conf)
	if errors.Is(err, ErrRedisDisabled) {
		return nil
	}
	if err != nil {
		zlog.Warn("ingest lock disabled", zap.Error(err))
		return nil
	}
	locker := pkgredis.NewLocker(client, strings.ToLower(a.Conf.AppName)+":lock:")
	a.addCloser("redis", locker.Close)
	return locker
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Close 逆序关闭外部连接
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			zlog.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

// KafkaClientConfig 从配置构造 sarama 客户端参数（fact feed 与 feed 子命令共用）
func KafkaClientConfig(conf *config.Config) kafka.Config {
	return kafka.Config{Brokers: conf.KafkaConfig.Brokers, ClientID: conf.KafkaConfig.ClientID}
}
