package cli

import (
	"fmt"
	"strings"

	"TradeRAG/internal/initial"
	"TradeRAG/internal/modules/ai/application/dto/request"

	"github.com/spf13/cobra"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve the passages closest to a question",
	Args:  cobra.NoArgs,
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question text (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of passages (default ragConfig.topK)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full result as JSON")
	_ = queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(app *initial.App) error {
		res, err := app.Retrieve.Query(cmd.Context(), request.RetrieveRequest{Query: queryText, TopK: queryTopK})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if queryJSON {
			return printJSON(out, res)
		}
		if res.IsEmpty {
			fmt.Fprintln(out, res.Message)
			return nil
		}
		for i, p := range res.Passages {
			fmt.Fprintf(out, "[%d] %s\n", i+1, strings.TrimSpace(p))
		}
		return nil
	})
}
