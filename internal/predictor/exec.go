package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/cantabile-labs/cantabile-core/internal/feature"
	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/question"
)

// execRunner invokes an external predictor process: one JSON request on
// stdin, one JSON response on stdout.
type execRunner struct {
	cmd []string
	mu  sync.Mutex
}

type execLabel struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Context string `json:"context"`
}

type execRequest struct {
	Stage             string      `json:"stage"`
	Labels            []execLabel `json:"labels"`
	Features          [][]float32 `json:"features"`
	Lag               []float64   `json:"lag,omitempty"`
	LogF0Conditioning bool        `json:"log_f0_conditioning"`
	SubphoneFeatures  string      `json:"subphone_features,omitempty"`
	FramePeriod       float64     `json:"frame_period"`
}

type execResponse struct {
	Lag       []float64   `json:"lag,omitempty"`
	Durations []float64   `json:"durations,omitempty"`
	Frames    [][]float64 `json:"frames,omitempty"`
}

func newExecRunner(command string) (*execRunner, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse predictor command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("predictor command is empty")
	}
	return &execRunner{cmd: args}, nil
}

func (r *execRunner) run(ctx context.Context, req execRequest) (execResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return execResponse{}, fmt.Errorf("encode %s request: %w", req.Stage, err)
	}

	command := exec.CommandContext(ctx, r.cmd[0], r.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execResponse{}, fmt.Errorf("%s predictor failed: %w: %s", req.Stage, err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return execResponse{}, fmt.Errorf("decode %s response: %w", req.Stage, err)
	}
	return resp, nil
}

func buildRequest(stage string, tl label.Timeline, qs *question.Set, opts Options) execRequest {
	rows := feature.Phoneme(tl, qs)
	if opts.LogF0Conditioning {
		feature.ApplyLogF0(rows, qs.PitchIndices())
	}
	labels := make([]execLabel, len(tl))
	for i, e := range tl {
		labels[i] = execLabel{Start: e.Start, End: e.End, Context: e.Context}
	}
	return execRequest{
		Stage:             stage,
		Labels:            labels,
		Features:          rows,
		LogF0Conditioning: opts.LogF0Conditioning,
		SubphoneFeatures:  opts.SubphoneFeatures,
		FramePeriod:       opts.FramePeriod,
	}
}

type execTimelag struct {
	runner *execRunner
}

func NewExecTimelag(command string) (Timelag, error) {
	runner, err := newExecRunner(command)
	if err != nil {
		return nil, err
	}
	return &execTimelag{runner: runner}, nil
}

func (e *execTimelag) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) ([]float64, error) {
	resp, err := e.runner.run(ctx, buildRequest("timelag", tl, qs, opts))
	if err != nil {
		return nil, err
	}
	if len(resp.Lag) != len(tl) {
		return nil, fmt.Errorf("timelag predictor returned %d values for %d phonemes", len(resp.Lag), len(tl))
	}
	return resp.Lag, nil
}

type execDuration struct {
	runner *execRunner
}

func NewExecDuration(command string) (Duration, error) {
	runner, err := newExecRunner(command)
	if err != nil {
		return nil, err
	}
	return &execDuration{runner: runner}, nil
}

func (e *execDuration) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, lag []float64, opts Options) ([]float64, error) {
	req := buildRequest("duration", tl, qs, opts)
	req.Lag = lag
	resp, err := e.runner.run(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Durations) != len(tl) {
		return nil, fmt.Errorf("duration predictor returned %d values for %d phonemes", len(resp.Durations), len(tl))
	}
	return resp.Durations, nil
}

type execAcoustic struct {
	runner *execRunner
	model  ModelConfig
}

func NewExecAcoustic(command string, model ModelConfig) (Acoustic, error) {
	runner, err := newExecRunner(command)
	if err != nil {
		return nil, err
	}
	return &execAcoustic{runner: runner, model: model}, nil
}

func (e *execAcoustic) Model() ModelConfig { return e.model }

func (e *execAcoustic) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) (*Matrix, error) {
	resp, err := e.runner.run(ctx, buildRequest("acoustic", tl, qs, opts))
	if err != nil {
		return nil, err
	}
	if len(resp.Frames) == 0 {
		return nil, fmt.Errorf("acoustic predictor returned no frames")
	}
	dim := len(resp.Frames[0])
	if want := e.model.FeatureDim(); dim != want {
		return nil, fmt.Errorf("acoustic predictor returned dim %d, stream layout requires %d", dim, want)
	}
	for i, row := range resp.Frames {
		if len(row) != dim {
			return nil, fmt.Errorf("acoustic frame %d has dim %d, expected %d", i, len(row), dim)
		}
	}
	return &Matrix{Frames: len(resp.Frames), Dim: dim, Data: resp.Frames}, nil
}
