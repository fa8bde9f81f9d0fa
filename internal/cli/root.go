package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"TradeRAG/internal/config"
	"TradeRAG/internal/initial"
	"TradeRAG/pkg/zlog"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "TradeRAG",
	Short: "Market-data knowledge base for retrieval-augmented trading assistants",
	Long: `TradeRAG collects Binance market data into normalized text facts, stores them
with reference documents in a Milvus collection, and serves similarity retrieval.

Example usage:
  TradeRAG serve                         # HTTP API + periodic ingestion
  TradeRAG ingest                        # run one market ingestion
  TradeRAG docs ./docs                   # import reference documents
  TradeRAG query -q "BTC funding" -k 5   # retrieve passages`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = conf
		config.SetConfig(conf)

		lc := conf.LogConfig
		if err := zlog.Init(zlog.Options{
			LogPath:    lc.LogPath,
			Level:      lc.Level,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
		}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		zlog.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath+")")
}

// loadConfig 未显式指定且默认文件不存在时使用内置默认值
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(config.DefaultConfigPath)
}

// withApp 构造组合根，执行 fn 后释放连接
func withApp(ctx context.Context, fn func(app *initial.App) error) error {
	app, err := initial.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
