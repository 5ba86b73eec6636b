package predictor

import (
	"context"

	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/question"
)

type mockTimelag struct {
	lag float64
}

// NewMockTimelag returns a timelag predictor that reports a fixed lag for
// every phoneme.
func NewMockTimelag(lag float64) Timelag {
	return &mockTimelag{lag: lag}
}

func (m *mockTimelag) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(tl))
	for i := range out {
		out[i] = m.lag
	}
	return out, nil
}

type mockDuration struct{}

// NewMockDuration returns a duration predictor that echoes each phoneme's
// labelled duration in frames, so the corrected timeline tracks the input.
func NewMockDuration() Duration {
	return &mockDuration{}
}

func (m *mockDuration) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, lag []float64, opts Options) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(tl))
	for i, e := range tl {
		frames := FrameCount(e.End-e.Start, opts.FramePeriod)
		if frames < 1 {
			frames = 1
		}
		out[i] = float64(frames)
	}
	return out, nil
}

type mockAcoustic struct {
	model ModelConfig
}

// NewMockAcoustic returns an acoustic predictor producing a deterministic
// constant-valued matrix with the given stream layout.
func NewMockAcoustic(model ModelConfig) Acoustic {
	return &mockAcoustic{model: model}
}

func (m *mockAcoustic) Model() ModelConfig { return m.model }

func (m *mockAcoustic) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) (*Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := FrameCount(tl.TotalSpan(), opts.FramePeriod)
	if frames < 1 {
		frames = 1
	}
	mat := NewMatrix(frames, m.model.FeatureDim())
	for i := 0; i < mat.Frames; i++ {
		col := 0
		for stream, size := range m.model.StreamSizes {
			for j := 0; j < size; j++ {
				mat.Data[i][col] = 0.1 * float64(stream+1)
				col++
			}
		}
	}
	return mat, nil
}
