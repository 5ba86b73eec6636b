// Package synth chains the prediction stages into a waveform: label
// loading, timing resolution, acoustic prediction, waveform
// reconstruction, bit-depth normalization and artifact emission. The
// pipeline is fully synchronous; every stage blocks until its
// predecessor's output is materialized, and any stage error aborts the
// run.
package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cantabile-labs/cantabile-core/internal/config"
	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/predictor"
	"github.com/cantabile-labs/cantabile-core/internal/question"
	"github.com/cantabile-labs/cantabile-core/internal/vocoder"
)

type Pipeline struct {
	cfg    config.SynthesisConfig
	preds  *predictor.Set
	voc    vocoder.Reconstructor
	logger *slog.Logger
}

// Result summarizes a completed run.
type Result struct {
	Artifacts Artifacts
	Timeline  label.Timeline
	Frames    int
	Samples   int
	MaxGain   float64
	BitDepth  string
}

// New resolves model paths and builds the configured backends.
func New(cfg config.SynthesisConfig, logger *slog.Logger) (*Pipeline, error) {
	cfg.ResolveCheckpoints()
	cfg.ResolveQuestionPaths()

	preds, err := predictor.NewSet(cfg)
	if err != nil {
		return nil, fmt.Errorf("build predictors: %w", err)
	}
	voc, err := vocoder.New(cfg.Vocoder)
	if err != nil {
		preds.Close()
		return nil, fmt.Errorf("build vocoder: %w", err)
	}
	return NewWithBackends(cfg, preds, voc, logger), nil
}

// NewWithBackends wires a pipeline with caller-supplied backends. Paths
// in cfg must already be resolved.
func NewWithBackends(cfg config.SynthesisConfig, preds *predictor.Set, voc vocoder.Reconstructor, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		preds:  preds,
		voc:    voc,
		logger: logger.With(slog.String("component", "synth-pipeline")),
	}
}

// Close releases predictor backend resources.
func (p *Pipeline) Close() error {
	return p.preds.Close()
}

// Run synthesizes one label file into a wav plus auxiliary artifacts.
// Empty paths fall back to the run configuration.
func (p *Pipeline) Run(ctx context.Context, labelPath, outWavPath string) (*Result, error) {
	if labelPath == "" {
		labelPath = p.cfg.LabelPath
	}
	if labelPath == "" {
		return nil, ErrNoLabelPath
	}
	if outWavPath == "" {
		outWavPath = p.cfg.OutWavPath
	}
	if outWavPath == "" {
		return nil, ErrNoOutputPath
	}

	p.logger.Info("processing label file", slog.String("path", labelPath))

	tl, err := label.Load(labelPath)
	if err != nil {
		return nil, err
	}
	frameTicks := int64(p.cfg.FramePeriod * label.TicksPerMillisecond)
	tl = tl.Round(frameTicks)

	opts := predictor.Options{
		LogF0Conditioning: p.cfg.LogF0Conditioning,
		SubphoneFeatures:  p.cfg.Acoustic.SubphoneFeatures,
		FramePeriod:       p.cfg.FramePeriod,
	}

	corrected, err := resolveTiming(ctx, p.cfg, p.preds, tl, opts)
	if err != nil {
		return nil, err
	}

	if p.cfg.Acoustic.QuestionPath == "" {
		return nil, fmt.Errorf("acoustic: %w", ErrNoQuestionPath)
	}
	acousticQS, err := question.Load(p.cfg.Acoustic.QuestionPath)
	if err != nil {
		return nil, fmt.Errorf("acoustic questions: %w", err)
	}

	features, err := p.preds.Acoustic.Predict(ctx, corrected, acousticQS, opts)
	if err != nil {
		return nil, fmt.Errorf("acoustic prediction: %w", err)
	}

	bundle, err := p.voc.Generate(ctx, vocoder.Request{
		Features:          features,
		Model:             p.preds.Acoustic.Model(),
		PitchIdx:          acousticQS.PitchIdx(),
		SubphoneFeatures:  p.cfg.Acoustic.SubphoneFeatures,
		LogF0Conditioning: p.cfg.LogF0Conditioning,
		PostFilter:        p.cfg.Acoustic.PostFilter,
		RelativeF0:        p.cfg.Acoustic.RelativeF0,
		SampleRate:        p.cfg.SampleRate,
		FramePeriod:       p.cfg.FramePeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("waveform reconstruction: %w", err)
	}

	samples, depth, maxGain, err := Normalize(bundle.Waveform, p.cfg.GainNormalize)
	if err != nil {
		return nil, err
	}

	artifacts, err := writeArtifacts(bundle, samples, corrected, outWavPath, p.cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	p.logger.Info("synthesized wav file",
		slog.String("path", outWavPath),
		slog.Int("frames", features.Frames),
		slog.Int("samples", len(samples)),
		slog.String("training_bit_depth", depth))

	return &Result{
		Artifacts: artifacts,
		Timeline:  corrected,
		Frames:    features.Frames,
		Samples:   len(samples),
		MaxGain:   maxGain,
		BitDepth:  depth,
	}, nil
}
