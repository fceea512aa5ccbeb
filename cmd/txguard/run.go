package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hed1ad/txguard/pkg/alerts"
	"github.com/hed1ad/txguard/pkg/engine"
	"github.com/hed1ad/txguard/pkg/features"
	txio "github.com/hed1ad/txguard/pkg/io"
	"github.com/hed1ad/txguard/pkg/io/csv"
	"github.com/hed1ad/txguard/pkg/io/sqlite"
	"github.com/hed1ad/txguard/pkg/transaction"
)

type runFlags struct {
	ticks      int
	perTick    int
	threshold  float64
	sink       string
	alertsOnly bool
	saveModel  string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Step the pipeline a fixed number of ticks and print per-tick metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTicks(cmd, g, f)
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&f.ticks, "ticks", "t", 60, "number of ticks to run")
	fl.IntVarP(&f.perTick, "per-tick", "n", 0, "transactions per tick (default tx_per_second)")
	fl.Float64Var(&f.threshold, "threshold", -1, "override the alert threshold")
	fl.StringVar(&f.sink, "sink", "", "export scored transactions to a .csv or .db (sqlite) file")
	fl.BoolVar(&f.alertsOnly, "alerts-only", false, "export only transactions flagged as alerts")
	fl.StringVar(&f.saveModel, "save-model", "", "write the final fitted model to this file")
	return cmd
}

func runTicks(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	log := g.logger(cmd)

	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	if f.threshold >= 0 {
		cfg.Threshold = f.threshold
	}

	var committed []transaction.Transaction
	eng, err := engine.New(cfg,
		engine.WithLogger(log),
		engine.WithCommitHook(func(tx transaction.Transaction) {
			committed = append(committed, tx)
		}),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	var sink txio.Writer
	if f.sink != "" {
		if sink, err = openSink(f.sink); err != nil {
			return err
		}
		defer sink.Close()
	}

	n := cfg.TxPerSecond
	if f.perTick > 0 {
		n = f.perTick
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(out, "TICK\tNEW\tBURST\tWINDOW\tALERTS\tMEAN\tSTATUS\tMODEL")

	ctx := cmd.Context()
	for i := 0; i < f.ticks; i++ {
		committed = committed[:0]
		snap, err := eng.Tick(ctx, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\t%d\t%t\t%d\t%d\t%.3f\t%s\t%s\n",
			snap.Tick, snap.Arrived, snap.Burst, len(snap.Window), len(snap.Alerts),
			snap.Summary.MeanScore, snap.Summary.Status, snap.ModelState)

		if sink != nil {
			if err := sink.WriteAll(tickRecords(committed, snap.Threshold, f.alertsOnly)); err != nil {
				return fmt.Errorf("write sink: %w", err)
			}
		}
	}
	if err := out.Flush(); err != nil {
		return err
	}

	final := eng.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "\nprocessed %d transactions, %d alerts (threshold %.2f), %d synthetic anomalies generated\n",
		final.TotalProcessed, final.CumulativeAlerts, final.Threshold, final.Generated.Anomalies)

	if f.saveModel != "" {
		data, err := eng.ExportModel()
		if err != nil {
			return fmt.Errorf("export model: %w", err)
		}
		if err := os.WriteFile(f.saveModel, data, 0o644); err != nil {
			return err
		}
		log.Info().Str("path", f.saveModel).Int("bytes", len(data)).Msg("model saved")
	}
	return nil
}

// tickRecords converts the transactions committed during one tick, including
// any the window evicted before the tick ended.
func tickRecords(committed []transaction.Transaction, threshold float64, alertsOnly bool) []txio.Record {
	if alertsOnly {
		return txio.FromAlerts(alerts.Evaluate(committed, threshold))
	}
	recs := make([]txio.Record, len(committed))
	for i, tx := range committed {
		recs[i] = txio.FromTransaction(tx, threshold)
	}
	return recs
}

func openSink(path string) (txio.Writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return csv.Create(path, csv.WithFeatureNames(features.Extractor{}.FeatureNames()))
	case ".db", ".sqlite", ".sqlite3":
		return sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported sink %q: use .csv or .db", path)
	}
}
