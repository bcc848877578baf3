package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent divergence and insufficient-balance audit events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	pool, closePool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	if pool == nil {
		return errors.New("database not configured; cannot show audit history")
	}
	defer closePool()

	store := storeFromPool(pool)

	divergences, err := store.ListRecentDivergenceEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	insufficient, err := store.ListRecentInsufficientBalanceEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if len(divergences) == 0 && len(insufficient) == 0 {
		fmt.Fprintln(os.Stdout, "no audit events found")
		return nil
	}

	if len(divergences) > 0 {
		fmt.Fprintln(os.Stdout, "Divergence events:")
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tToken\tSource\tQuoted\tChosen\tDeviation (bps)")
		for _, d := range divergences {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%d\n",
				d.ObservedAt.UTC().Format(time.RFC3339), d.TokenID, d.Source, d.QuotedPrice, d.ChosenPrice, d.DeviationBps)
		}
		writer.Flush()
	}

	if len(insufficient) > 0 {
		fmt.Fprintln(os.Stdout, "Insufficient-balance events:")
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tRule\tComputed\tBalance")
		for _, e := range insufficient {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
				e.ObservedAt.UTC().Format(time.RFC3339), e.RuleID, e.ComputedUnits, e.BalanceUnits)
		}
		writer.Flush()
	}

	return nil
}
