package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultConfigPath = "configs/config_local.toml"

type MainConfig struct {
	AppName     string `toml:"appName"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	TLSCertFile string `toml:"tlsCertFile"`
	TLSKeyFile  string `toml:"tlsKeyFile"`
}

// TLSEnabled 证书与私钥都配置时启用 HTTPS
func (m MainConfig) TLSEnabled() bool {
	return m.TLSCertFile != "" && m.TLSKeyFile != ""
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

// RedisConfig 跨进程入库互斥锁；host 为空时不启用
type RedisConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	PoolSize       int    `toml:"poolSize"`
	MinIdleConns   int    `toml:"minIdleConns"`
	LockTTLSeconds int    `toml:"lockTTLSeconds"`
}

type LogConfig struct {
	LogPath    string `toml:"logPath"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`

	// AllowAnonymousAdmin key 为空时是否开放运维接口，默认关闭
	AllowAnonymousAdmin bool `toml:"allowAnonymousAdmin"`
}

type MilvusConfig struct {
	Backend        string `toml:"backend"` // milvus / memory
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	APIKey         string `toml:"apiKey"` // Zilliz Cloud token
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	VectorDim      int    `toml:"vectorDim"`
	MetricType     string `toml:"metricType"`
	IndexType      string `toml:"indexType"`
	NList          int    `toml:"nlist"`
	NProbe         int    `toml:"nprobe"`
	DedupPageSize  int    `toml:"dedupPageSize"`
	DedupMaxScan   int    `toml:"dedupMaxScan"`
}

// MarketConfig 行情数据源配置
type MarketConfig struct {
	Symbols           []string `toml:"symbols"`
	SpotBaseURL       string   `toml:"spotBaseURL"`
	FuturesBaseURL    string   `toml:"futuresBaseURL"`
	UserAgent         string   `toml:"userAgent"`
	TimeoutSeconds    int      `toml:"timeoutSeconds"`
	RetryTimes        int      `toml:"retryTimes"`
	RequestsPerSecond float64  `toml:"requestsPerSecond"`
	Burst             int      `toml:"burst"`
	KlineInterval     string   `toml:"klineInterval"`
	KlineLimit        int      `toml:"klineLimit"`
	DepthLimit        int      `toml:"depthLimit"`
	TradeLimit        int      `toml:"tradeLimit"`
	ForceOrderLimit   int      `toml:"forceOrderLimit"`
	LongShortPeriod   string   `toml:"longShortPeriod"`
}

// KafkaConfig 新事实推送；brokers 为空时不启用
type KafkaConfig struct {
	Brokers           []string `toml:"brokers"`
	ClientID          string   `toml:"clientID"`
	FactTopic         string   `toml:"factTopic"`
	GroupID           string   `toml:"groupID"`
	Partitions        int32    `toml:"partitions"`
	ReplicationFactor int16    `toml:"replicationFactor"`
	RetentionHours    int      `toml:"retentionHours"`
}

type AIEmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	RetryTimes     int    `toml:"retryTimes"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
}

type SchedulerConfig struct {
	Disabled        bool `toml:"disabled"`
	IntervalMinutes int  `toml:"intervalMinutes"`
	RunOnStart      bool `toml:"runOnStart"`
}

// RAGConfig 召回与参考文档配置
type RAGConfig struct {
	TopK         int      `toml:"topK"`
	DocsDir      string   `toml:"docsDir"`
	DocsInclude  []string `toml:"docsInclude"`
	DocsExclude  []string `toml:"docsExclude"`
	ChunkSize    int      `toml:"chunkSize"`
	ChunkOverlap int      `toml:"chunkOverlap"`
}

type Config struct {
	MainConfig      `toml:"mainConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	RedisConfig     `toml:"redisConfig"`
	JwtConfig       `toml:"jwtConfig"`
	MilvusConfig    `toml:"milvusConfig"`
	MarketConfig    `toml:"marketConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	AIConfig        `toml:"aiConfig"`
	LogConfig       `toml:"logConfig"`
	SchedulerConfig `toml:"schedulerConfig"`
	RAGConfig       `toml:"ragConfig"`
}

var config *Config

// Load 读取 TOML 配置并补齐默认值；path 为空时使用 DefaultConfigPath
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	conf := new(Config)
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	conf.applyEnv()
	conf.ApplyDefaults()
	return conf, nil
}

// Default 返回只包含默认值的配置（无配置文件时使用）
func Default() *Config {
	conf := new(Config)
	conf.applyEnv()
	conf.ApplyDefaults()
	return conf
}

func GetConfig() *Config {
	if config == nil {
		conf, err := Load(DefaultConfigPath)
		if err != nil {
			log.Printf("加载配置文件失败: %v, 使用默认设置", err)
			conf = Default()
		}
		config = conf
	}
	return config
}

// SetConfig 由组合根在显式加载配置后调用
func SetConfig(c *Config) {
	config = c
}

// applyEnv 环境变量非空时覆盖配置文件中的连接信息
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("ZILLIZ_URI")); v != "" {
		c.MilvusConfig.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("ZILLIZ_TOKEN")); v != "" {
		c.MilvusConfig.APIKey = v
	}
}

// ApplyDefaults 补齐未配置项
func (c *Config) ApplyDefaults() {
	if c.AppName == "" {
		c.AppName = "TradeRAG"
	}
	if c.MainConfig.Host == "" {
		c.MainConfig.Host = "0.0.0.0"
	}
	if c.MainConfig.Port == 0 {
		c.MainConfig.Port = 5000
	}

	m := &c.MilvusConfig
	m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
	if m.Backend == "" {
		m.Backend = "milvus"
	}
	if m.DBName == "" {
		m.DBName = "default"
	}
	if m.CollectionName == "" {
		m.CollectionName = "trading_collection"
	}
	if m.VectorDim <= 0 {
		m.VectorDim = 384
	}
	if m.MetricType == "" {
		m.MetricType = "L2"
	}
	if m.IndexType == "" {
		m.IndexType = "IVF_FLAT"
	}
	if m.NList <= 0 {
		m.NList = 128
	}
	if m.NProbe <= 0 {
		m.NProbe = 10
	}
	if m.DedupPageSize <= 0 {
		m.DedupPageSize = 1000
	}
	if m.DedupMaxScan <= 0 {
		m.DedupMaxScan = 16384
	}

	mk := &c.MarketConfig
	if len(mk.Symbols) == 0 {
		mk.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if mk.SpotBaseURL == "" {
		mk.SpotBaseURL = "https://api.binance.com"
	}
	if mk.FuturesBaseURL == "" {
		mk.FuturesBaseURL = "https://fapi.binance.com"
	}
	if mk.UserAgent == "" {
		mk.UserAgent = "TradeRAG/1.0"
	}
	if mk.TimeoutSeconds <= 0 {
		mk.TimeoutSeconds = 10
	}
	if mk.RetryTimes < 0 {
		mk.RetryTimes = 0
	}
	if mk.RequestsPerSecond <= 0 {
		mk.RequestsPerSecond = 20
	}
	if mk.Burst <= 0 {
		mk.Burst = 10
	}
	if mk.KlineInterval == "" {
		mk.KlineInterval = "1h"
	}
	if mk.KlineLimit <= 0 {
		mk.KlineLimit = 24
	}
	if mk.DepthLimit <= 0 {
		mk.DepthLimit = 5
	}
	if mk.TradeLimit <= 0 {
		mk.TradeLimit = 50
	}
	if mk.ForceOrderLimit <= 0 {
		mk.ForceOrderLimit = 20
	}
	if mk.LongShortPeriod == "" {
		mk.LongShortPeriod = "5m"
	}

	e := &c.AIConfig.Embedding
	if e.Dimensions <= 0 {
		e.Dimensions = m.VectorDim
	}
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = 30
	}
	if e.RetryTimes <= 0 {
		e.RetryTimes = 2
	}

	if c.SchedulerConfig.IntervalMinutes <= 0 {
		c.SchedulerConfig.IntervalMinutes = 15
	}

	r := &c.RAGConfig
	if r.TopK <= 0 {
		r.TopK = 3
	}
	if len(r.DocsInclude) == 0 {
		r.DocsInclude = []string{"**/*.md", "**/*.txt"}
	}
	if r.ChunkSize <= 0 || r.ChunkSize > 1024 {
		r.ChunkSize = 1000
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		r.ChunkOverlap = 100
	}

	k := &c.KafkaConfig
	if k.FactTopic == "" {
		k.FactTopic = "market_facts"
	}
	if k.ClientID == "" {
		k.ClientID = c.AppName
	}
	if k.GroupID == "" {
		k.GroupID = c.AppName + "-feed"
	}
	if k.Partitions <= 0 {
		k.Partitions = 1
	}
	if k.ReplicationFactor <= 0 {
		k.ReplicationFactor = 1
	}
	if k.RetentionHours <= 0 {
		k.RetentionHours = 24
	}
	rd := &c.RedisConfig
	if rd.Port == 0 {
		rd.Port = 6379
	}
	if rd.LockTTLSeconds <= 0 {
		rd.LockTTLSeconds = 600
	}
	if c.JwtConfig.ExpireHours <= 0 {
		c.JwtConfig.ExpireHours = 24
	}
	if c.JwtConfig.Issuer == "" {
		c.JwtConfig.Issuer = c.AppName
	}
}
