package predictor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cantabile-labs/cantabile-core/internal/config"
)

// Set bundles the three stage predictors built from one run configuration.
type Set struct {
	Timelag  Timelag
	Duration Duration
	Acoustic Acoustic

	closers []func() error
}

// NewSet constructs the per-stage backends selected by the configuration.
// Checkpoint and scaler paths must already be resolved.
func NewSet(cfg config.SynthesisConfig) (*Set, error) {
	set := &Set{}

	model, err := acousticModelConfig(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Timelag.Mode {
	case "mock":
		set.Timelag = NewMockTimelag(0)
	case "exec":
		if set.Timelag, err = NewExecTimelag(cfg.Timelag.Command); err != nil {
			return nil, err
		}
	case "onnx":
		tl, err := NewOnnxTimelag(cfg.Timelag.Checkpoint, cfg.Timelag.InScalerPath, cfg.Timelag.OutScalerPath, cfg.Device)
		if err != nil {
			return nil, err
		}
		set.Timelag = tl
		set.closers = append(set.closers, tl.(*onnxTimelag).Close)
	default:
		return nil, fmt.Errorf("unknown timelag mode %q", cfg.Timelag.Mode)
	}

	switch cfg.Duration.Mode {
	case "mock":
		set.Duration = NewMockDuration()
	case "exec":
		if set.Duration, err = NewExecDuration(cfg.Duration.Command); err != nil {
			return nil, err
		}
	case "onnx":
		d, err := NewOnnxDuration(cfg.Duration.Checkpoint, cfg.Duration.InScalerPath, cfg.Duration.OutScalerPath, cfg.Device)
		if err != nil {
			return nil, err
		}
		set.Duration = d
		set.closers = append(set.closers, d.(*onnxDuration).Close)
	default:
		return nil, fmt.Errorf("unknown duration mode %q", cfg.Duration.Mode)
	}

	switch cfg.Acoustic.Mode {
	case "mock":
		set.Acoustic = NewMockAcoustic(model)
	case "exec":
		if set.Acoustic, err = NewExecAcoustic(cfg.Acoustic.Command, model); err != nil {
			return nil, err
		}
	case "onnx":
		a, err := NewOnnxAcoustic(cfg.Acoustic.Checkpoint, cfg.Acoustic.InScalerPath, cfg.Acoustic.OutScalerPath, cfg.Device, model)
		if err != nil {
			return nil, err
		}
		set.Acoustic = a
		set.closers = append(set.closers, a.(*onnxAcoustic).Close)
	default:
		return nil, fmt.Errorf("unknown acoustic mode %q", cfg.Acoustic.Mode)
	}

	return set, nil
}

// Close releases backend resources.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// acousticModelConfig loads the stream layout declared next to the
// acoustic checkpoint, falling back to the static WORLD layout when no
// model.yaml is present.
func acousticModelConfig(cfg config.SynthesisConfig) (ModelConfig, error) {
	if cfg.ModelDir == "" {
		return DefaultModelConfig(), nil
	}
	path := filepath.Join(cfg.ModelDir, "acoustic", "model.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultModelConfig(), nil
	}
	return LoadModelConfig(path)
}
