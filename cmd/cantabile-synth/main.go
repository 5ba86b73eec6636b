// cantabile-synth synthesizes a single label file into a wav plus the
// auxiliary timing and feature artifacts.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cantabile-labs/cantabile-core/internal/config"
	"github.com/cantabile-labs/cantabile-core/internal/runstore"
	"github.com/cantabile-labs/cantabile-core/internal/synth"
)

func main() {
	var (
		configPath string
		labelPath  string
		outWavPath string
	)

	flag.StringVar(&configPath, "config", "cantabile.yaml", "Path to configuration file")
	flag.StringVar(&labelPath, "label", "", "Label file to synthesize (falls back to config)")
	flag.StringVar(&outWavPath, "out", "", "Output wav path (derived from the label path when empty)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()}))

	if labelPath == "" {
		labelPath = cfg.Synthesis.LabelPath
	}
	if outWavPath == "" {
		outWavPath = cfg.Synthesis.OutWavPath
	}
	if outWavPath == "" && labelPath != "" {
		stem := strings.TrimSuffix(labelPath, filepath.Ext(labelPath))
		outWavPath = stem + "__" + time.Now().Format("20060102150405") + ".wav"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := synth.New(cfg.Synthesis, logger)
	if err != nil {
		logger.Error("failed to build pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pipeline.Close()

	store, err := runstore.Open(ctx, cfg.RunStore, logger)
	if err != nil {
		logger.Error("failed to open run store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	started := time.Now()
	result, runErr := pipeline.Run(ctx, labelPath, outWavPath)

	run := runstore.Run{
		LabelPath:  labelPath,
		OutWavPath: outWavPath,
		Status:     "ok",
		Elapsed:    time.Since(started),
	}
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	} else {
		run.BitDepth = result.BitDepth
		run.MaxGain = result.MaxGain
		run.Frames = result.Frames
		run.Samples = result.Samples
	}
	if err := store.RecordRun(ctx, run); err != nil {
		logger.Warn("failed to record run", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("synthesis failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("synthesis complete",
		slog.String("wav", result.Artifacts.WavPath),
		slog.Int("frames", result.Frames),
		slog.Int("samples", result.Samples),
		slog.Duration("elapsed", run.Elapsed))
}
