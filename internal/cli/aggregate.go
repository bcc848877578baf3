package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var aggregateTokenID string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run one Stage A consolidation pass for a single token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if aggregateTokenID == "" {
			return fmt.Errorf("--token must be provided")
		}
		return getApp().Aggregate(cmd.Context(), aggregateTokenID)
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateTokenID, "token", "", "Token ID to consolidate")
}
