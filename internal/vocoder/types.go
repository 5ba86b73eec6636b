package vocoder

import (
	"context"
	"fmt"

	"github.com/cantabile-labs/cantabile-core/internal/config"
	"github.com/cantabile-labs/cantabile-core/internal/predictor"
)

// Request carries the acoustic feature matrix, its declared stream layout
// and the flags that change how the vocoder interprets the streams.
type Request struct {
	Features          *predictor.Matrix
	Model             predictor.ModelConfig
	PitchIdx          int
	SubphoneFeatures  string
	LogF0Conditioning bool
	PostFilter        bool
	RelativeF0        bool
	SampleRate        int
	FramePeriod       float64 // ms
}

// Bundle is the vocoder output: per-frame parameter streams plus the raw
// sample sequence at the configured sample rate.
type Bundle struct {
	F0       []float64
	MGC      [][]float64
	BAP      [][]float64
	Waveform []float64
}

// Reconstructor turns acoustic features into a waveform bundle.
type Reconstructor interface {
	Generate(ctx context.Context, req Request) (*Bundle, error)
}

// New builds the reconstructor backend selected by the configuration.
func New(cfg config.VocoderConfig) (Reconstructor, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(0.5), nil
	case "exec":
		return NewExec(cfg.Command)
	}
	return nil, fmt.Errorf("unknown vocoder mode %q", cfg.Mode)
}

// SampleCount is the deterministic output length for a frame count:
// frames x frame_period(ms) x sample_rate / 1000.
func SampleCount(frames int, framePeriod float64, sampleRate int) int {
	return int(float64(frames) * framePeriod * float64(sampleRate) / 1000.0)
}

// splitStreams cuts the concatenated feature matrix back into per-stream
// matrices according to the declared stream sizes.
func splitStreams(m *predictor.Matrix, sizes []int) ([][][]float64, error) {
	total := 0
	for _, s := range sizes {
		total += s
	}
	if m.Dim != total {
		return nil, fmt.Errorf("feature dim %d does not match stream layout %v", m.Dim, sizes)
	}
	streams := make([][][]float64, len(sizes))
	for si := range sizes {
		streams[si] = make([][]float64, m.Frames)
	}
	for i, row := range m.Data {
		off := 0
		for si, size := range sizes {
			streams[si][i] = row[off : off+size]
			off += size
		}
	}
	return streams, nil
}
