package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"treasury-pipeline/internal/app"
	"treasury-pipeline/internal/domain"
)

var (
	simulateTokenID  string
	simulateDecimals int
	simulateBalance  string

	simulateChainlinkPrice string
	simulatePythPrice      string
	simulateTWAPPrice      string

	simulateRuleID        string
	simulateThresholdUSD  string
	simulateDirection     string
	simulateAmountKind    string
	simulateAmountUnits   string
	simulateAmountBps     int64
	simulateHotAddr       string
	simulateColdAddr      string
	simulateHysteresisBps int64
	simulateCooldownSec   int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one offline Aggregator+Balancer pass over literal quotes and a literal rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTokenID == "" {
			return fmt.Errorf("--token must be provided")
		}
		if simulateBalance == "" {
			return fmt.Errorf("--balance must be provided")
		}

		var quotes []app.SimulatedQuote
		if simulateChainlinkPrice != "" {
			quotes = append(quotes, app.SimulatedQuote{Source: domain.SourceChainlink, PriceRaw: simulateChainlinkPrice, Decimals: simulateDecimals})
		}
		if simulatePythPrice != "" {
			quotes = append(quotes, app.SimulatedQuote{Source: domain.SourcePyth, PriceRaw: simulatePythPrice, Decimals: simulateDecimals})
		}
		if simulateTWAPPrice != "" {
			quotes = append(quotes, app.SimulatedQuote{Source: domain.SourceUniswapV3TWAP, PriceRaw: simulateTWAPPrice, Decimals: simulateDecimals})
		}
		if len(quotes) == 0 {
			return fmt.Errorf("at least one of --chainlink-price, --pyth-price, --twap-price must be provided")
		}

		direction := domain.HotToCold
		if simulateDirection == "cold_to_hot" {
			direction = domain.ColdToHot
		}
		amountKind := domain.AmountPercent
		if simulateAmountKind == "absolute" {
			amountKind = domain.AmountAbsolute
		}

		opts := app.SimulateOptions{
			TokenID:    simulateTokenID,
			Quotes:     quotes,
			BalanceRaw: simulateBalance,
			Rule: app.SimulatedRule{
				RuleID:        simulateRuleID,
				ThresholdUSD:  simulateThresholdUSD,
				Direction:     direction,
				AmountKind:    amountKind,
				AmountUnits:   simulateAmountUnits,
				AmountBps:     simulateAmountBps,
				HotAddr:       simulateHotAddr,
				ColdAddr:      simulateColdAddr,
				HysteresisBps: simulateHysteresisBps,
				CooldownSec:   simulateCooldownSec,
			},
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTokenID, "token", "", "Token ID for the simulated scenario")
	simulateCmd.Flags().IntVar(&simulateDecimals, "decimals", 8, "Decimals shared by all simulated quotes")
	simulateCmd.Flags().StringVar(&simulateBalance, "balance", "", "Hot/cold wallet balance in base units")

	simulateCmd.Flags().StringVar(&simulateChainlinkPrice, "chainlink-price", "", "Simulated Chainlink quote in base units")
	simulateCmd.Flags().StringVar(&simulatePythPrice, "pyth-price", "", "Simulated Pyth quote in base units")
	simulateCmd.Flags().StringVar(&simulateTWAPPrice, "twap-price", "", "Simulated Uniswap v3 TWAP quote in base units")

	simulateCmd.Flags().StringVar(&simulateRuleID, "rule-id", "sim-rule", "Rule ID for the simulated scenario")
	simulateCmd.Flags().StringVar(&simulateThresholdUSD, "threshold-usd", "0", "Rule threshold in USD")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", "hot_to_cold", "Transfer direction: hot_to_cold or cold_to_hot")
	simulateCmd.Flags().StringVar(&simulateAmountKind, "amount-kind", "percent", "Amount kind: percent or absolute")
	simulateCmd.Flags().StringVar(&simulateAmountUnits, "amount-units", "0", "Absolute amount in base units (amount-kind=absolute)")
	simulateCmd.Flags().Int64Var(&simulateAmountBps, "amount-bps", 0, "Percent amount in bps (amount-kind=percent)")
	simulateCmd.Flags().StringVar(&simulateHotAddr, "hot-addr", "0xhot", "Hot wallet address")
	simulateCmd.Flags().StringVar(&simulateColdAddr, "cold-addr", "0xcold", "Cold wallet address")
	simulateCmd.Flags().Int64Var(&simulateHysteresisBps, "hysteresis-bps", 0, "Hysteresis band in bps")
	simulateCmd.Flags().Int64Var(&simulateCooldownSec, "cooldown-sec", 0, "Cooldown between fires in seconds")
}
