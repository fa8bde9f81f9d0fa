package cli

import (
	"errors"
	"fmt"

	"TradeRAG/pkg/util/myjwt"

	"github.com/spf13/cobra"
)

var tokenOperator string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the admin API",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "admin", "operator name carried in the token")
}

func runToken(cmd *cobra.Command, args []string) error {
	jc := cfg.JwtConfig
	signer, err := myjwt.NewSigner(jc.Key, jc.Issuer, jc.ExpireHours)
	if errors.Is(err, myjwt.ErrKeyEmpty) {
		return errors.New("jwtConfig.key is empty, admin routes are not protected")
	}
	if err != nil {
		return err
	}
	tok, err := signer.GenerateToken(tokenOperator)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}
