package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"TradeRAG/internal/initial"
	"TradeRAG/internal/modules/ai/infrastructure/mq"
	"TradeRAG/internal/modules/ai/infrastructure/mq/kafka"
	"TradeRAG/pkg/zlog"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	feedFromOldest bool
	feedSymbol     string
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Follow newly stored market facts from Kafka",
	Args:  cobra.NoArgs,
	RunE:  runFeed,
}

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.Flags().BoolVar(&feedFromOldest, "from-oldest", false, "start from the oldest retained fact for a new group")
	feedCmd.Flags().StringVar(&feedSymbol, "symbol", "", "only print facts of this symbol")
}

func runFeed(cmd *cobra.Command, args []string) error {
	kc := cfg.KafkaConfig
	if len(kc.Brokers) == 0 {
		return errors.New("kafkaConfig.brokers is empty")
	}
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Config:     initial.KafkaClientConfig(cfg),
		GroupID:    kc.GroupID,
		Topics:     []string{kc.FactTopic},
		FromOldest: feedFromOldest,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	zlog.Info("following fact feed", zap.String("topic", kc.FactTopic), zap.String("group", kc.GroupID))
	return consumer.Run(ctx, mq.HandlerFunc(func(ctx context.Context, msg mq.Message) error {
		ev, err := mq.DecodeFactEvent(msg)
		if err != nil {
			return err
		}
		if feedSymbol != "" && ev.Symbol != feedSymbol {
			return nil
		}
		_, err = fmt.Fprintf(out, "%s #%d %s\n", ev.RunID, ev.Seq, ev.Text)
		return err
	}))
}
