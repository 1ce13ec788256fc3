package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/failcast/internal/api"
	"github.com/crimson-sun/failcast/internal/engine/scaler"
	"github.com/crimson-sun/failcast/internal/metrics"
	"github.com/crimson-sun/failcast/internal/output/history"
	"github.com/crimson-sun/failcast/internal/output/stdout"
	"github.com/crimson-sun/failcast/internal/pipeline"
)

var (
	serveMonitor bool
	historyLimit int
	fitCSV       string
	fitOut       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prediction API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}

		eng, err := buildEngine(cfg.Engine)
		if err != nil {
			return err
		}
		defer eng.Close()

		sampler, err := buildSampler(cfg.Telemetry)
		if err != nil {
			return err
		}
		sk, err := buildOutputs(cfg.Output, false)
		if err != nil {
			return err
		}
		p := pipeline.New(sampler, eng, sk.out, pipeline.WithHost(hostname(cfg.Monitor)))
		defer p.Close()

		opts := []api.Option{
			api.WithLive(p),
			api.WithStatus(p),
			api.WithParameters(sampler),
			api.WithParameterHistory(p),
		}
		if sk.store != nil {
			opts = append(opts, api.WithHistory(sk.store))
		}
		srv := api.New(eng, opts...)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		if serveMonitor {
			go func() {
				if err := ignoreCancel(p.Monitor(ctx, cfg.Monitor.Interval)); err != nil {
					slog.Error("monitor stopped", "error", err)
				}
			}()
		}
		if configPath != "" {
			go watchConfig(ctx, eng)
		}
		return srv.Run(ctx, cfg.Server.Address, cfg.Server.GracefulTimeout)
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict [window.json]",
	Short: "Predict on a window read from a file or stdin",
	Long: `Reads a 10x10 window as {"sequence": [[...], ...]} or a bare array,
either positional rows or objects keyed by metric name, and prints the
prediction as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		rows, err := api.ParseWindow(data)
		if err != nil {
			return err
		}

		eng, err := buildEngine(cfg.Engine)
		if err != nil {
			return err
		}
		defer eng.Close()

		pred, err := eng.PredictRows(cmd.Context(), rows)
		if err != nil {
			return err
		}
		return stdout.NewWriter(cmd.OutOrStdout(), true).Write(cmd.Context(), pred)
	},
}

// sampledRow is the JSON form of one sampled timestep.
type sampledRow struct {
	At        time.Time          `json:"at"`
	Metrics   map[string]float64 `json:"metrics"`
	Synthetic bool               `json:"synthetic,omitempty"`
	Error     string             `json:"error,omitempty"`
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample one telemetry window and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		sampler, err := buildSampler(cfg.Telemetry)
		if err != nil {
			return err
		}
		_, samples, err := sampler.Window(cmd.Context())
		if err != nil {
			return err
		}

		rows := make([]sampledRow, len(samples))
		for i, s := range samples {
			rows[i] = sampledRow{At: s.At, Metrics: s.Row.Named(), Synthetic: s.Synthetic}
			if s.Err != nil {
				rows[i].Error = s.Err.Error()
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Sample and predict continuously, writing predictions to the configured outputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(cfg.Engine)
		if err != nil {
			return err
		}
		defer eng.Close()

		sampler, err := buildSampler(cfg.Telemetry)
		if err != nil {
			return err
		}
		sk, err := buildOutputs(cfg.Output, true)
		if err != nil {
			return err
		}
		p := pipeline.New(sampler, eng, sk.out, pipeline.WithHost(hostname(cfg.Monitor)))
		defer p.Close()

		if configPath != "" {
			go watchConfig(ctx, eng)
		}

		slog.Info("monitor started", "interval", cfg.Monitor.Interval, "source", cfg.Telemetry.Source)
		return ignoreCancel(p.Monitor(ctx, cfg.Monitor.Interval))
	},
}

var fitScalerCmd = &cobra.Command{
	Use:   "fit-scaler",
	Short: "Fit MinMax scaler parameters from a training CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(fitCSV)
		if err != nil {
			return err
		}
		defer f.Close()

		windows, err := scaler.LoadCSV(f)
		if err != nil {
			return err
		}
		sc, err := scaler.Fit(windows)
		if err != nil {
			return err
		}
		out := fitOut
		if out == "" {
			out = cfg.Engine.ScalerPath
		}
		if err := sc.Save(out); err != nil {
			return err
		}
		slog.Info("scaler written", "path", out, "windows", len(windows))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent predictions from the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Output.HistoryPath == "" {
			return errors.New("history is disabled: set output.history_path")
		}
		store, err := history.Open(cfg.Output.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		failing, healthy, err := store.Counts(cmd.Context())
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), recs, failing, healthy)
	},
}

func printHistory(w io.Writer, recs []history.Record, failing, healthy int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tHOST\tVERDICT\tPROBABILITY\tSPIKE\tREASON")
	for _, r := range recs {
		verdict := "ok"
		if r.WillFail {
			verdict = "FAIL"
		}
		spike := r.LastSpike.Change
		if r.LastSpike.Metric != nil {
			spike = *r.LastSpike.Metric + " " + spike
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Host, verdict, r.Probability, spike, r.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d failing, %d healthy\n", failing, healthy)
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	serveCmd.Flags().BoolVar(&serveMonitor, "monitor", false, "also run the continuous monitor loop")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of predictions to show")
	fitScalerCmd.Flags().StringVar(&fitCSV, "csv", "", "training CSV with 100 feature columns")
	fitScalerCmd.Flags().StringVarP(&fitOut, "out", "o", "", "output safetensors path (default engine.scaler_path)")
	fitScalerCmd.MarkFlagRequired("csv")
}
