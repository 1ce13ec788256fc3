package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/crimson-sun/failcast/internal/config"
	"github.com/crimson-sun/failcast/internal/engine"
	"github.com/crimson-sun/failcast/internal/engine/classifier"
	"github.com/crimson-sun/failcast/internal/engine/scaler"
	"github.com/crimson-sun/failcast/internal/logging"
	"github.com/crimson-sun/failcast/internal/output"
	"github.com/crimson-sun/failcast/internal/output/async"
	"github.com/crimson-sun/failcast/internal/output/file"
	"github.com/crimson-sun/failcast/internal/output/history"
	"github.com/crimson-sun/failcast/internal/output/multi"
	"github.com/crimson-sun/failcast/internal/output/stdout"
	"github.com/crimson-sun/failcast/internal/output/webhook"
	"github.com/crimson-sun/failcast/internal/telemetry"
)

// buildEngine loads the scaler and model. Either failing is fatal to startup.
func buildEngine(c config.EngineConfig) (*engine.Engine, error) {
	sc, err := scaler.Load(c.ScalerPath)
	if err != nil {
		return nil, fmt.Errorf("load scaler: %w", err)
	}
	m, err := classifier.NewONNXModel(c.ModelPath, c.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	slog.Info("engine ready", "model", c.ModelPath, "scaler", c.ScalerPath, "threshold", c.Threshold)
	return engine.New(sc, classifier.New(m, c.Threshold), slog.Default()), nil
}

func buildSampler(c config.TelemetryConfig) (*telemetry.Sampler, error) {
	ctor, err := telemetry.Get(c.Source)
	if err != nil {
		return nil, err
	}
	src, err := ctor(telemetry.SourceConfig{
		DiskPath:    c.DiskPath,
		ReplayPath:  c.ReplayPath,
		RemoteURL:   c.RemoteURL,
		RemoteToken: c.RemoteToken,
	})
	if err != nil {
		return nil, err
	}
	return telemetry.NewSampler(src, c.Interval, slog.Default()), nil
}

// sinks holds the configured outputs. store is nil when history is disabled.
type sinks struct {
	out   output.Output
	store *history.Output
}

// buildOutputs assembles the configured sinks. Slow network sinks are
// wrapped in async so a stalled endpoint cannot hold up sampling.
func buildOutputs(c config.OutputConfig, withStdout bool) (sinks, error) {
	var (
		outs []output.Output
		s    sinks
	)
	if withStdout {
		outs = append(outs, stdout.New(c.Pretty))
	}
	if c.FilePath != "" {
		f, err := file.New(c.FilePath,
			file.WithMaxSize(c.FileMaxSize),
			file.WithMaxBackups(c.FileMaxBackups),
		)
		if err != nil {
			return s, err
		}
		outs = append(outs, f)
	}
	if c.WebhookURL != "" {
		var opts []webhook.Option
		if c.WebhookFailuresOnly {
			opts = append(opts, webhook.WithFailuresOnly())
		}
		outs = append(outs, async.New(webhook.New(c.WebhookURL, opts...), async.WithDropOnFull()))
	}
	if c.HistoryPath != "" {
		store, err := history.Open(c.HistoryPath)
		if err != nil {
			multi.New(outs...).Close()
			return s, err
		}
		s.store = store
		outs = append(outs, store)
	}
	s.out = multi.New(outs...)
	return s, nil
}

func hostname(c config.MonitorConfig) string {
	if c.Host != "" {
		return c.Host
	}
	h, _ := os.Hostname()
	return h
}

// watchConfig hot-reloads configPath until ctx is cancelled.
func watchConfig(ctx context.Context, eng *engine.Engine) {
	if err := config.Watch(ctx, configPath, applyReload(eng)); err != nil {
		slog.Error("config watch stopped", "error", err)
	}
}

// applyReload pushes the runtime-tunable settings of a reloaded config into
// the running process.
func applyReload(eng *engine.Engine) func(*config.Config) {
	return func(next *config.Config) {
		logging.SetLevel(logging.ParseLevel(next.Logging.Level))
		if eng.Classifier().Threshold() != next.Engine.Threshold {
			slog.Info("decision threshold changed", "from", eng.Classifier().Threshold(), "to", next.Engine.Threshold)
			eng.Classifier().SetThreshold(next.Engine.Threshold)
		}
	}
}
