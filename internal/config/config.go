package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StageNames enumerates the predictor stages in pipeline order.
var StageNames = []string{"timelag", "duration", "acoustic"}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

// SlogLevel maps the configured log level onto slog. Unknown values
// fall back to info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type RunStoreConfig struct {
	Path          string `yaml:"path"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ServiceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StageConfig holds the model artifacts and backend selection for one
// predictor stage.
type StageConfig struct {
	Mode          string `yaml:"mode"` // mock, exec, onnx
	Command       string `yaml:"command"`
	Checkpoint    string `yaml:"checkpoint"`
	InScalerPath  string `yaml:"in_scaler_path"`
	OutScalerPath string `yaml:"out_scaler_path"`
	QuestionPath  string `yaml:"question_path"`
}

type TimelagConfig struct {
	StageConfig  `yaml:",inline"`
	AllowedRange [2]float64 `yaml:"allowed_range"`
}

type AcousticConfig struct {
	StageConfig      `yaml:",inline"`
	SubphoneFeatures string `yaml:"subphone_features"`
	PostFilter       bool   `yaml:"post_filter"`
	RelativeF0       bool   `yaml:"relative_f0"`
}

type VocoderConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

// SynthesisConfig is the run configuration for a synthesis: model
// resolution, prediction flags and output parameters. Read-only for the
// whole pipeline once resolved.
type SynthesisConfig struct {
	ModelDir            string         `yaml:"model_dir"`
	QuestionPath        string         `yaml:"question_path"`
	Timelag             TimelagConfig  `yaml:"timelag"`
	Duration            StageConfig    `yaml:"duration"`
	Acoustic            AcousticConfig `yaml:"acoustic"`
	Vocoder             VocoderConfig  `yaml:"vocoder"`
	GroundTruthDuration bool           `yaml:"ground_truth_duration"`
	LogF0Conditioning   bool           `yaml:"log_f0_conditioning"`
	GainNormalize       bool           `yaml:"gain_normalize"`
	SampleRate          int            `yaml:"sample_rate"`
	FramePeriod         float64        `yaml:"frame_period"` // ms
	Device              string         `yaml:"device"`       // cpu, cuda
	LabelPath           string         `yaml:"label_path"`
	OutWavPath          string         `yaml:"out_wav_path"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	RunStore    RunStoreConfig  `yaml:"run_store"`
	Service     ServiceConfig   `yaml:"service"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
}

func Default() Config {
	return Config{
		RuntimeName: "cantabile-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		RunStore: RunStoreConfig{
			Path:    "./data/cantabile-runs.db",
			MaxRuns: 10000,
		},
		Service: ServiceConfig{
			Enabled: false,
		},
		Synthesis: SynthesisConfig{
			Timelag: TimelagConfig{
				StageConfig:  StageConfig{Mode: "mock"},
				AllowedRange: [2]float64{-20, 20},
			},
			Duration: StageConfig{Mode: "mock"},
			Acoustic: AcousticConfig{
				StageConfig: StageConfig{Mode: "mock"},
			},
			Vocoder:     VocoderConfig{Mode: "mock"},
			SampleRate:  48000,
			FramePeriod: 5,
			Device:      "cpu",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Stage returns the stage config for the given stage name, nil if unknown.
func (s *SynthesisConfig) Stage(name string) *StageConfig {
	switch name {
	case "timelag":
		return &s.Timelag.StageConfig
	case "duration":
		return &s.Duration
	case "acoustic":
		return &s.Acoustic.StageConfig
	}
	return nil
}

// ResolveCheckpoints fills in checkpoint and scaler paths for every stage.
// An unset checkpoint defaults to <model_dir>/<stage>/best_loss.onnx; a set
// one is resolved relative to the stage directory.
func (s *SynthesisConfig) ResolveCheckpoints() {
	for _, name := range StageNames {
		st := s.Stage(name)
		if st.Checkpoint == "" {
			st.Checkpoint = filepath.Join(s.ModelDir, name, "best_loss.onnx")
		} else {
			st.Checkpoint = filepath.Join(s.ModelDir, name, st.Checkpoint)
		}
		if st.InScalerPath == "" {
			st.InScalerPath = filepath.Join(s.ModelDir, name, "in_scaler.json")
		}
		if st.OutScalerPath == "" {
			st.OutScalerPath = filepath.Join(s.ModelDir, name, "out_scaler.json")
		}
	}
}

// ResolveQuestionPaths applies the global question_path fallback to every
// stage that does not declare its own.
func (s *SynthesisConfig) ResolveQuestionPaths() {
	for _, name := range StageNames {
		st := s.Stage(name)
		if st.QuestionPath == "" {
			st.QuestionPath = s.QuestionPath
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "CANTABILE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "CANTABILE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CANTABILE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CANTABILE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CANTABILE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CANTABILE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CANTABILE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "CANTABILE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "CANTABILE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CANTABILE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "CANTABILE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CANTABILE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CANTABILE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CANTABILE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CANTABILE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CANTABILE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.RunStore.Path, "CANTABILE_RUN_STORE_PATH")
	overrideInt(&cfg.RunStore.MaxRuns, "CANTABILE_RUN_STORE_MAX_RUNS")
	overrideBool(&cfg.RunStore.VacuumOnStart, "CANTABILE_RUN_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Service.Enabled, "CANTABILE_SERVICE_ENABLED")
	overrideString(&cfg.Synthesis.ModelDir, "CANTABILE_SYNTHESIS_MODEL_DIR")
	overrideString(&cfg.Synthesis.QuestionPath, "CANTABILE_SYNTHESIS_QUESTION_PATH")
	overrideBool(&cfg.Synthesis.GroundTruthDuration, "CANTABILE_SYNTHESIS_GROUND_TRUTH_DURATION")
	overrideBool(&cfg.Synthesis.LogF0Conditioning, "CANTABILE_SYNTHESIS_LOG_F0_CONDITIONING")
	overrideBool(&cfg.Synthesis.GainNormalize, "CANTABILE_SYNTHESIS_GAIN_NORMALIZE")
	overrideInt(&cfg.Synthesis.SampleRate, "CANTABILE_SYNTHESIS_SAMPLE_RATE")
	overrideFloat(&cfg.Synthesis.FramePeriod, "CANTABILE_SYNTHESIS_FRAME_PERIOD")
	overrideString(&cfg.Synthesis.Device, "CANTABILE_SYNTHESIS_DEVICE")
	overrideString(&cfg.Synthesis.LabelPath, "CANTABILE_SYNTHESIS_LABEL_PATH")
	overrideString(&cfg.Synthesis.OutWavPath, "CANTABILE_SYNTHESIS_OUT_WAV_PATH")
	overrideStage(&cfg.Synthesis.Timelag.StageConfig, "CANTABILE_TIMELAG")
	overrideStage(&cfg.Synthesis.Duration, "CANTABILE_DURATION")
	overrideStage(&cfg.Synthesis.Acoustic.StageConfig, "CANTABILE_ACOUSTIC")
	overrideString(&cfg.Synthesis.Acoustic.SubphoneFeatures, "CANTABILE_ACOUSTIC_SUBPHONE_FEATURES")
	overrideBool(&cfg.Synthesis.Acoustic.PostFilter, "CANTABILE_ACOUSTIC_POST_FILTER")
	overrideBool(&cfg.Synthesis.Acoustic.RelativeF0, "CANTABILE_ACOUSTIC_RELATIVE_F0")
	overrideString(&cfg.Synthesis.Vocoder.Mode, "CANTABILE_VOCODER_MODE")
	overrideString(&cfg.Synthesis.Vocoder.Command, "CANTABILE_VOCODER_COMMAND")
}

func overrideStage(st *StageConfig, prefix string) {
	overrideString(&st.Mode, prefix+"_MODE")
	overrideString(&st.Command, prefix+"_COMMAND")
	overrideString(&st.Checkpoint, prefix+"_CHECKPOINT")
	overrideString(&st.InScalerPath, prefix+"_IN_SCALER_PATH")
	overrideString(&st.OutScalerPath, prefix+"_OUT_SCALER_PATH")
	overrideString(&st.QuestionPath, prefix+"_QUESTION_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Service.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.RunStore.MaxRuns < 0 {
		return errors.New("run_store.max_runs must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return validateSynthesis(cfg.Synthesis)
}

func validateSynthesis(s SynthesisConfig) error {
	if s.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if s.FramePeriod <= 0 {
		return errors.New("synthesis.frame_period must be positive")
	}
	switch s.Device {
	case "cpu", "cuda":
	default:
		return errors.New("synthesis.device must be one of cpu|cuda")
	}
	if s.Timelag.AllowedRange[0] > s.Timelag.AllowedRange[1] {
		return errors.New("timelag.allowed_range must be ordered low,high")
	}
	for _, name := range StageNames {
		st := *s.Stage(name)
		switch st.Mode {
		case "mock", "exec", "onnx":
		default:
			return fmt.Errorf("%s.mode must be one of mock|exec|onnx", name)
		}
		if st.Mode == "exec" && st.Command == "" {
			return fmt.Errorf("%s.command must be set when mode=exec", name)
		}
		if st.Mode == "onnx" && s.ModelDir == "" && st.Checkpoint == "" {
			return fmt.Errorf("%s.checkpoint or model_dir must be set when mode=onnx", name)
		}
	}
	switch s.Vocoder.Mode {
	case "mock", "exec":
	default:
		return errors.New("vocoder.mode must be one of mock|exec")
	}
	if s.Vocoder.Mode == "exec" && s.Vocoder.Command == "" {
		return errors.New("vocoder.command must be set when mode=exec")
	}
	return nil
}
