package synth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cantabile-labs/cantabile-core/internal/config"
	"github.com/cantabile-labs/cantabile-core/internal/vocoder"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeLabelFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "song.lab")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write label file: %v", err)
	}
	return path
}

func testSynthesisConfig(t *testing.T) config.SynthesisConfig {
	t.Helper()
	cfg := config.SynthesisConfig{
		GroundTruthDuration: true,
		SampleRate:          48000,
		FramePeriod:         5,
	}
	cfg.Acoustic.QuestionPath = writeQuestionFile(t)
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	labelPath := writeLabelFile(t, "0 500000 x^x-sil+a=a/E:60]\n500000 1000000 x^sil-a+u=u/E:69]\n")
	outWav := filepath.Join(t.TempDir(), "out", "song.wav")

	cfg := testSynthesisConfig(t)
	p := NewWithBackends(cfg, mockSet(0), vocoder.NewMock(16000), newLogger())
	t.Cleanup(func() { _ = p.Close() })

	res, err := p.Run(context.Background(), labelPath, outWav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 100ms of labels at a 5ms frame period.
	if res.Frames != 20 {
		t.Fatalf("expected 20 frames, got %d", res.Frames)
	}
	if res.Samples != 4800 {
		t.Fatalf("expected 4800 samples, got %d", res.Samples)
	}
	if res.BitDepth != "int16" || res.MaxGain != 16000 {
		t.Fatalf("unexpected normalization: depth=%q max=%v", res.BitDepth, res.MaxGain)
	}

	// Ground-truth durations: the timeline passes through unchanged.
	if res.Timeline[0].Start != 0 || res.Timeline[1].End != 1000000 {
		t.Fatalf("unexpected timeline: %+v", res.Timeline)
	}

	stem := filepath.Join(filepath.Dir(outWav), "song")
	for _, path := range []string{stem + "_timing.lab", stem + ".f0", stem + ".mgc", stem + ".bap", outWav} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
	}

	timing, err := os.ReadFile(res.Artifacts.TimingPath)
	if err != nil {
		t.Fatalf("read timing: %v", err)
	}
	if string(timing) != "0 500000 sil\n500000 1000000 a\n" {
		t.Fatalf("unexpected timing content: %q", string(timing))
	}

	// One float64 per frame in the f0 dump.
	info, err := os.Stat(res.Artifacts.F0Path)
	if err != nil {
		t.Fatalf("stat f0: %v", err)
	}
	if info.Size() != int64(8*res.Frames) {
		t.Fatalf("expected %d byte f0 dump, got %d", 8*res.Frames, info.Size())
	}

	// A 16000-amplitude signal lands in the int16 bucket and divides by
	// 32767 sample for sample.
	data, err := os.ReadFile(outWav)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	payload := data[len(data)-4*res.Samples:]
	samples := make([]float32, res.Samples)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, samples); err != nil {
		t.Fatalf("decode samples: %v", err)
	}
	want := float32(16000.0 / 32767.0)
	for i, s := range samples {
		if s != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, s)
		}
	}
}

func TestRunGainNormalized(t *testing.T) {
	labelPath := writeLabelFile(t, "0 500000 a\n500000 1000000 b\n")
	outWav := filepath.Join(t.TempDir(), "song.wav")

	cfg := testSynthesisConfig(t)
	cfg.GainNormalize = true
	p := NewWithBackends(cfg, mockSet(0), vocoder.NewMock(16000), newLogger())
	t.Cleanup(func() { _ = p.Close() })

	res, err := p.Run(context.Background(), labelPath, outWav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(outWav)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	payload := data[len(data)-4*res.Samples:]
	samples := make([]float32, res.Samples)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, samples); err != nil {
		t.Fatalf("decode samples: %v", err)
	}
	for i, s := range samples {
		if s != 1 {
			t.Fatalf("sample %d: expected peak-normalized 1.0, got %v", i, s)
		}
	}
}

func TestRunPathFallbacks(t *testing.T) {
	cfg := testSynthesisConfig(t)
	p := NewWithBackends(cfg, mockSet(0), vocoder.NewMock(0.5), newLogger())
	t.Cleanup(func() { _ = p.Close() })

	if _, err := p.Run(context.Background(), "", ""); !errors.Is(err, ErrNoLabelPath) {
		t.Fatalf("expected ErrNoLabelPath, got %v", err)
	}

	labelPath := writeLabelFile(t, "0 500000 a\n")
	if _, err := p.Run(context.Background(), labelPath, ""); !errors.Is(err, ErrNoOutputPath) {
		t.Fatalf("expected ErrNoOutputPath, got %v", err)
	}
}

func TestRunConfiguredPaths(t *testing.T) {
	cfg := testSynthesisConfig(t)
	cfg.LabelPath = writeLabelFile(t, "0 500000 a\n")
	cfg.OutWavPath = filepath.Join(t.TempDir(), "song.wav")
	p := NewWithBackends(cfg, mockSet(0), vocoder.NewMock(0.5), newLogger())
	t.Cleanup(func() { _ = p.Close() })

	res, err := p.Run(context.Background(), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Artifacts.WavPath != cfg.OutWavPath {
		t.Fatalf("expected configured out path, got %q", res.Artifacts.WavPath)
	}
}

func TestRunMalformedLabelFails(t *testing.T) {
	labelPath := writeLabelFile(t, "0 500000 a\n700000 600000 b\n")
	cfg := testSynthesisConfig(t)
	p := NewWithBackends(cfg, mockSet(0), vocoder.NewMock(0.5), newLogger())
	t.Cleanup(func() { _ = p.Close() })

	if _, err := p.Run(context.Background(), labelPath, filepath.Join(t.TempDir(), "song.wav")); err == nil {
		t.Fatal("expected parse error for malformed label file")
	}
}

func TestRunRequiresAcousticQuestions(t *testing.T) {
	labelPath := writeLabelFile(t, "0 500000 a\n")
	cfg := config.SynthesisConfig{
		GroundTruthDuration: true,
		SampleRate:          48000,
		FramePeriod:         5,
	}
	p := NewWithBackends(cfg, mockSet(0), vocoder.NewMock(0.5), newLogger())
	t.Cleanup(func() { _ = p.Close() })

	if _, err := p.Run(context.Background(), labelPath, filepath.Join(t.TempDir(), "song.wav")); !errors.Is(err, ErrNoQuestionPath) {
		t.Fatalf("expected ErrNoQuestionPath, got %v", err)
	}
}
