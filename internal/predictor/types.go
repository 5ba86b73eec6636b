package predictor

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/question"
)

// Options carries the prediction flags threaded through every stage.
type Options struct {
	LogF0Conditioning bool
	SubphoneFeatures  string
	FramePeriod       float64 // ms
}

// Matrix is a frame-level acoustic feature matrix: Frames rows of Dim
// concatenated stream values.
type Matrix struct {
	Frames int
	Dim    int
	Data   [][]float64
}

// NewMatrix allocates a zeroed Frames x Dim matrix.
func NewMatrix(frames, dim int) *Matrix {
	data := make([][]float64, frames)
	for i := range data {
		data[i] = make([]float64, dim)
	}
	return &Matrix{Frames: frames, Dim: dim, Data: data}
}

// ModelConfig is the acoustic model's declared stream layout, read from
// model.yaml next to the checkpoint.
type ModelConfig struct {
	StreamSizes        []int  `yaml:"stream_sizes"`
	HasDynamicFeatures []bool `yaml:"has_dynamic_features"`
	NumWindows         int    `yaml:"num_windows"`
}

// FeatureDim is the total width of the concatenated streams.
func (m ModelConfig) FeatureDim() int {
	dim := 0
	for _, s := range m.StreamSizes {
		dim += s
	}
	return dim
}

// DefaultModelConfig describes a static-feature WORLD layout
// (mgc, lf0, vuv, bap). Used when no model.yaml is available.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		StreamSizes:        []int{60, 1, 1, 5},
		HasDynamicFeatures: []bool{false, false, false, false},
		NumWindows:         1,
	}
}

// LoadModelConfig reads a model.yaml stream layout.
func LoadModelConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("read model config: %w", err)
	}
	var mc ModelConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return ModelConfig{}, fmt.Errorf("parse model config: %w", err)
	}
	if len(mc.StreamSizes) == 0 {
		return ModelConfig{}, fmt.Errorf("model config %s declares no streams", path)
	}
	return mc, nil
}

// Timelag predicts a per-phoneme onset lag in frames.
type Timelag interface {
	Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) ([]float64, error)
}

// Duration predicts per-phoneme durations in frames, conditioned on the
// predicted lag.
type Duration interface {
	Predict(ctx context.Context, tl label.Timeline, qs *question.Set, lag []float64, opts Options) ([]float64, error)
}

// Acoustic predicts the frame-level feature matrix and declares its own
// stream layout.
type Acoustic interface {
	Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) (*Matrix, error)
	Model() ModelConfig
}

// FrameCount converts a tick span to a frame count at the given frame
// period in milliseconds.
func FrameCount(spanTicks int64, framePeriod float64) int {
	ticksPerFrame := framePeriod * label.TicksPerMillisecond
	if ticksPerFrame <= 0 {
		return 0
	}
	return int(float64(spanTicks) / ticksPerFrame)
}
