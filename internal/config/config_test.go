package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "cantabile-runtime" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.Synthesis.SampleRate != 48000 {
		t.Fatalf("expected default sample rate 48000, got %d", cfg.Synthesis.SampleRate)
	}
	if cfg.Synthesis.FramePeriod != 5 {
		t.Fatalf("expected default frame period 5, got %v", cfg.Synthesis.FramePeriod)
	}
	for _, name := range StageNames {
		if mode := cfg.Synthesis.Stage(name).Mode; mode != "mock" {
			t.Fatalf("expected default mode mock for %s, got %q", name, mode)
		}
	}
	if cfg.Synthesis.Timelag.AllowedRange != [2]float64{-20, 20} {
		t.Fatalf("unexpected default allowed range %v", cfg.Synthesis.Timelag.AllowedRange)
	}
}

func TestLoadFile(t *testing.T) {
	content := `
synthesis:
  model_dir: /models/singer
  question_path: /models/questions.hed
  ground_truth_duration: true
  sample_rate: 44100
  timelag:
    mode: onnx
    allowed_range: [-10, 10]
  acoustic:
    mode: exec
    command: "python predict.py --stage acoustic"
    subphone_features: coarse_coding
`
	path := filepath.Join(t.TempDir(), "cantabile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.ModelDir != "/models/singer" {
		t.Fatalf("unexpected model dir %q", cfg.Synthesis.ModelDir)
	}
	if !cfg.Synthesis.GroundTruthDuration {
		t.Fatal("expected ground_truth_duration true")
	}
	if cfg.Synthesis.SampleRate != 44100 {
		t.Fatalf("unexpected sample rate %d", cfg.Synthesis.SampleRate)
	}
	if cfg.Synthesis.Timelag.Mode != "onnx" {
		t.Fatalf("unexpected timelag mode %q", cfg.Synthesis.Timelag.Mode)
	}
	if cfg.Synthesis.Timelag.AllowedRange != [2]float64{-10, 10} {
		t.Fatalf("unexpected allowed range %v", cfg.Synthesis.Timelag.AllowedRange)
	}
	if cfg.Synthesis.Acoustic.SubphoneFeatures != "coarse_coding" {
		t.Fatalf("unexpected subphone features %q", cfg.Synthesis.Acoustic.SubphoneFeatures)
	}
	// Duration stage keeps its default when the file is silent about it.
	if cfg.Synthesis.Duration.Mode != "mock" {
		t.Fatalf("unexpected duration mode %q", cfg.Synthesis.Duration.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CANTABILE_SYNTHESIS_MODEL_DIR", "/opt/models")
	t.Setenv("CANTABILE_SYNTHESIS_QUESTION_PATH", "/opt/questions.hed")
	t.Setenv("CANTABILE_SYNTHESIS_GAIN_NORMALIZE", "true")
	t.Setenv("CANTABILE_SYNTHESIS_SAMPLE_RATE", "16000")
	t.Setenv("CANTABILE_SYNTHESIS_FRAME_PERIOD", "10")
	t.Setenv("CANTABILE_SYNTHESIS_DEVICE", "cuda")
	t.Setenv("CANTABILE_ACOUSTIC_MODE", "exec")
	t.Setenv("CANTABILE_ACOUSTIC_COMMAND", "predict-acoustic")
	t.Setenv("CANTABILE_ACOUSTIC_POST_FILTER", "true")
	t.Setenv("CANTABILE_VOCODER_MODE", "exec")
	t.Setenv("CANTABILE_VOCODER_COMMAND", "world-synth")
	t.Setenv("CANTABILE_RUN_STORE_PATH", "./tmp.db")
	t.Setenv("CANTABILE_RUN_STORE_MAX_RUNS", "42")
	t.Setenv("CANTABILE_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.ModelDir != "/opt/models" {
		t.Fatalf("expected model dir override, got %q", cfg.Synthesis.ModelDir)
	}
	if !cfg.Synthesis.GainNormalize {
		t.Fatal("expected gain normalize override")
	}
	if cfg.Synthesis.SampleRate != 16000 || cfg.Synthesis.FramePeriod != 10 {
		t.Fatalf("expected sample rate/frame period overrides, got %d/%v",
			cfg.Synthesis.SampleRate, cfg.Synthesis.FramePeriod)
	}
	if cfg.Synthesis.Device != "cuda" {
		t.Fatalf("expected device override, got %q", cfg.Synthesis.Device)
	}
	if cfg.Synthesis.Acoustic.Mode != "exec" || cfg.Synthesis.Acoustic.Command != "predict-acoustic" {
		t.Fatalf("expected acoustic stage override, got %+v", cfg.Synthesis.Acoustic.StageConfig)
	}
	if !cfg.Synthesis.Acoustic.PostFilter {
		t.Fatal("expected post filter override")
	}
	if cfg.Synthesis.Vocoder.Command != "world-synth" {
		t.Fatalf("expected vocoder override, got %+v", cfg.Synthesis.Vocoder)
	}
	if cfg.RunStore.Path != "./tmp.db" || cfg.RunStore.MaxRuns != 42 {
		t.Fatalf("expected run store overrides, got %+v", cfg.RunStore)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"zero sample rate":    func(c *Config) { c.Synthesis.SampleRate = 0 },
		"zero frame period":   func(c *Config) { c.Synthesis.FramePeriod = 0 },
		"unknown device":      func(c *Config) { c.Synthesis.Device = "tpu" },
		"unknown stage mode":  func(c *Config) { c.Synthesis.Duration.Mode = "grpc" },
		"exec without cmd":    func(c *Config) { c.Synthesis.Duration.Mode = "exec" },
		"onnx without ckpt":   func(c *Config) { c.Synthesis.Acoustic.Mode = "onnx" },
		"unknown vocoder":     func(c *Config) { c.Synthesis.Vocoder.Mode = "world" },
		"inverted lag range":  func(c *Config) { c.Synthesis.Timelag.AllowedRange = [2]float64{5, -5} },
		"negative max runs":   func(c *Config) { c.RunStore.MaxRuns = -1 },
		"bad http port":       func(c *Config) { c.HTTP.Port = 0 },
		"empty runtime name":  func(c *Config) { c.RuntimeName = "" },
		"no servers external": func(c *Config) { c.Service.Enabled = true; c.Bus.Embedded = false; c.Bus.Servers = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		" Debug ": "DEBUG",
		"":        "INFO",
		"verbose": "INFO",
	}
	for in, want := range cases {
		tc := TelemetryConfig{LogLevel: in}
		if got := tc.SlogLevel().String(); got != want {
			t.Fatalf("SlogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestResolveCheckpoints(t *testing.T) {
	s := Default().Synthesis
	s.ModelDir = "/models/singer"
	s.Acoustic.Checkpoint = "epoch0099.onnx"
	s.ResolveCheckpoints()

	if got := s.Timelag.Checkpoint; got != filepath.Join("/models/singer", "timelag", "best_loss.onnx") {
		t.Fatalf("unexpected timelag checkpoint %q", got)
	}
	if got := s.Acoustic.Checkpoint; got != filepath.Join("/models/singer", "acoustic", "epoch0099.onnx") {
		t.Fatalf("unexpected acoustic checkpoint %q", got)
	}
	if got := s.Duration.InScalerPath; got != filepath.Join("/models/singer", "duration", "in_scaler.json") {
		t.Fatalf("unexpected duration in scaler %q", got)
	}
	if got := s.Duration.OutScalerPath; got != filepath.Join("/models/singer", "duration", "out_scaler.json") {
		t.Fatalf("unexpected duration out scaler %q", got)
	}
}

func TestResolveQuestionPaths(t *testing.T) {
	s := Default().Synthesis
	s.QuestionPath = "/models/questions.hed"
	s.Timelag.QuestionPath = "/models/timelag.hed"
	s.ResolveQuestionPaths()

	if s.Timelag.QuestionPath != "/models/timelag.hed" {
		t.Fatalf("expected stage path kept, got %q", s.Timelag.QuestionPath)
	}
	if s.Duration.QuestionPath != "/models/questions.hed" {
		t.Fatalf("expected global fallback, got %q", s.Duration.QuestionPath)
	}
	if s.Acoustic.QuestionPath != "/models/questions.hed" {
		t.Fatalf("expected global fallback, got %q", s.Acoustic.QuestionPath)
	}
}
