package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"treasury-pipeline/internal/storage"
)

// Export renders the divergence-event audit trail as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	pool, closePool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	if pool == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closePool()

	store := storeFromPool(pool)

	events, err := store.ListRecentDivergenceEvents(ctx, opts.MaxPoints)
	if err != nil {
		return err
	}
	events = filterDivergenceEventsByRange(events, opts.From, opts.To)
	if len(events) == 0 {
		a.Logger.Info().Msg("no divergence events found for export window")
		return nil
	}

	a.Logger.Info().Int("exported", len(events)).Msg("exporting divergence events")

	if opts.CSVPath != "" {
		if err := writeDivergenceCSV(opts.CSVPath, events); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeDivergencePNG(opts.PNGPath, events); err != nil {
			return err
		}
	}

	return nil
}

func filterDivergenceEventsByRange(events []storage.DivergenceEventRecord, from, to *time.Time) []storage.DivergenceEventRecord {
	if from == nil && to == nil {
		return events
	}
	out := make([]storage.DivergenceEventRecord, 0, len(events))
	for _, e := range events {
		if from != nil && e.ObservedAt.Before(*from) {
			continue
		}
		if to != nil && !e.ObservedAt.Before(*to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func writeDivergenceCSV(path string, events []storage.DivergenceEventRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "token_id", "source", "quoted_price", "chosen_price", "deviation_bps"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range events {
		record := []string{
			e.ObservedAt.UTC().Format(time.RFC3339),
			e.TokenID, e.Source, e.QuotedPrice, e.ChosenPrice, strconv.FormatInt(e.DeviationBps, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeDivergencePNG(path string, events []storage.DivergenceEventRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	deviation := make([]float64, len(events))
	for i, e := range events {
		x[i] = e.ObservedAt
		deviation[i] = float64(e.DeviationBps)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Deviation (bps)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Deviation (bps)",
				XValues: x,
				YValues: deviation,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
