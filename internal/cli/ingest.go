package cli

import (
	"TradeRAG/internal/initial"
	"TradeRAG/internal/modules/ai/domain/job"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one market ingestion and print the summary",
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var docsCmd = &cobra.Command{
	Use:   "docs [dir]",
	Short: "Import reference documents into the knowledge base",
	Long: `Reads markdown and text files under dir (default ragConfig.docsDir), splits them
into chunks and stores the chunks not already in the collection. An explicit dir
replaces ragConfig.docsDir for this run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDocs,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(docsCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(app *initial.App) error {
		res, err := app.Ingest.RunMarketIngest(cmd.Context(), job.TriggerManual)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func runDocs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		cfg.RAGConfig.DocsDir = args[0]
	}
	return withApp(cmd.Context(), func(app *initial.App) error {
		res, err := app.Ingest.IngestDocuments(cmd.Context(), "")
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}
