package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	balanceTokenID string
	balanceChainID int64
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Run one Stage B balancing pass for a single token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if balanceTokenID == "" {
			return fmt.Errorf("--token must be provided")
		}
		return getApp().Balance(cmd.Context(), balanceTokenID, balanceChainID)
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceTokenID, "token", "", "Token ID to balance")
	balanceCmd.Flags().Int64Var(&balanceChainID, "chain-id", 1, "Chain ID the rules are enabled on")
}
