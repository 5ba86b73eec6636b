package vocoder

import (
	"context"
	"math"
	"testing"

	"github.com/cantabile-labs/cantabile-core/internal/config"
	"github.com/cantabile-labs/cantabile-core/internal/predictor"
)

func testMatrix(frames int, model predictor.ModelConfig) *predictor.Matrix {
	m := predictor.NewMatrix(frames, model.FeatureDim())
	for i := 0; i < frames; i++ {
		col := 0
		for stream, size := range model.StreamSizes {
			for j := 0; j < size; j++ {
				m.Data[i][col] = float64(stream + 1)
				col++
			}
		}
	}
	return m
}

func TestSampleCount(t *testing.T) {
	if got := SampleCount(20, 5, 48000); got != 4800 {
		t.Fatalf("expected 4800 samples, got %d", got)
	}
	if got := SampleCount(100, 5, 16000); got != 8000 {
		t.Fatalf("expected 8000 samples, got %d", got)
	}
}

func TestSplitStreams(t *testing.T) {
	model := predictor.ModelConfig{StreamSizes: []int{2, 1, 1}}
	streams, err := splitStreams(testMatrix(3, model), model.StreamSizes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}
	if len(streams[0][0]) != 2 || streams[0][0][0] != 1 {
		t.Fatalf("unexpected first stream: %v", streams[0][0])
	}
	if streams[2][1][0] != 3 {
		t.Fatalf("unexpected third stream: %v", streams[2][1])
	}
}

func TestSplitStreamsDimMismatch(t *testing.T) {
	model := predictor.ModelConfig{StreamSizes: []int{2, 1, 1}}
	if _, err := splitStreams(testMatrix(3, model), []int{2, 1, 1, 5}); err == nil {
		t.Fatal("expected dim mismatch error")
	}
}

func TestMockGenerate(t *testing.T) {
	model := predictor.DefaultModelConfig()
	req := Request{
		Features:    testMatrix(20, model),
		Model:       model,
		SampleRate:  48000,
		FramePeriod: 5,
	}
	bundle, err := NewMock(16000).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Waveform) != 4800 {
		t.Fatalf("expected 4800 samples, got %d", len(bundle.Waveform))
	}
	for i, s := range bundle.Waveform {
		if s != 16000 {
			t.Fatalf("sample %d: expected 16000, got %v", i, s)
		}
	}
	if len(bundle.F0) != 20 || len(bundle.MGC) != 20 || len(bundle.BAP) != 20 {
		t.Fatalf("unexpected stream lengths: f0=%d mgc=%d bap=%d",
			len(bundle.F0), len(bundle.MGC), len(bundle.BAP))
	}
	// The lf0 stream carries 2s; without log conditioning it passes through.
	if bundle.F0[0] != 2 {
		t.Fatalf("expected raw F0 2, got %v", bundle.F0[0])
	}
}

func TestMockGenerateRejectsShortLayout(t *testing.T) {
	// A model.yaml may declare any non-empty layout; without an lf0
	// stream the reconstructor must fail, not panic.
	model := predictor.ModelConfig{StreamSizes: []int{2}}
	req := Request{
		Features:    testMatrix(3, model),
		Model:       model,
		SampleRate:  48000,
		FramePeriod: 5,
	}
	if _, err := NewMock(0.5).Generate(context.Background(), req); err == nil {
		t.Fatal("expected error for layout without an lf0 stream")
	}

	model = predictor.ModelConfig{StreamSizes: []int{2, 0, 1}}
	req = Request{
		Features:    testMatrix(3, model),
		Model:       model,
		SampleRate:  48000,
		FramePeriod: 5,
	}
	if _, err := NewMock(0.5).Generate(context.Background(), req); err == nil {
		t.Fatal("expected error for zero-width lf0 stream")
	}
}

func TestMockGenerateLogF0(t *testing.T) {
	model := predictor.DefaultModelConfig()
	req := Request{
		Features:          testMatrix(4, model),
		Model:             model,
		LogF0Conditioning: true,
		SampleRate:        48000,
		FramePeriod:       5,
	}
	bundle, err := NewMock(0.5).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := math.Exp(2)
	if math.Abs(bundle.F0[0]-want) > 1e-9 {
		t.Fatalf("expected exp(2) = %v, got %v", want, bundle.F0[0])
	}
}

func TestMockGenerateRelativeF0(t *testing.T) {
	model := predictor.DefaultModelConfig()
	req := Request{
		Features:    testMatrix(4, model),
		Model:       model,
		RelativeF0:  true,
		SampleRate:  48000,
		FramePeriod: 5,
	}
	bundle, err := NewMock(0.5).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.F0[0] != 442 {
		t.Fatalf("expected 442 (2 + reference 440), got %v", bundle.F0[0])
	}
}

func TestMockGeneratePostFilterSmooths(t *testing.T) {
	model := predictor.DefaultModelConfig()
	m := testMatrix(3, model)
	m.Data[1][0] = 10 // spike in the middle mgc frame

	req := Request{
		Features:    m,
		Model:       model,
		PostFilter:  true,
		SampleRate:  48000,
		FramePeriod: 5,
	}
	bundle, err := NewMock(0.5).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := (1.0 + 10.0 + 1.0) / 3.0
	if math.Abs(bundle.MGC[1][0]-want) > 1e-9 {
		t.Fatalf("expected smoothed %v, got %v", want, bundle.MGC[1][0])
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(config.VocoderConfig{Mode: "mock"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(config.VocoderConfig{Mode: "exec", Command: "world-synth"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(config.VocoderConfig{Mode: "griffin-lim"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
