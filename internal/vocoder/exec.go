package vocoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execReconstructor struct {
	cmd []string
	mu  sync.Mutex
}

type execVocoderRequest struct {
	Frames             [][]float64 `json:"frames"`
	StreamSizes        []int       `json:"stream_sizes"`
	HasDynamicFeatures []bool      `json:"has_dynamic_features"`
	NumWindows         int         `json:"num_windows"`
	PitchIdx           int         `json:"pitch_idx"`
	SubphoneFeatures   string      `json:"subphone_features,omitempty"`
	LogF0Conditioning  bool        `json:"log_f0_conditioning"`
	PostFilter         bool        `json:"post_filter"`
	RelativeF0         bool        `json:"relative_f0"`
	SampleRate         int         `json:"sample_rate"`
	FramePeriod        float64     `json:"frame_period"`
}

type execVocoderResponse struct {
	F0       []float64   `json:"f0"`
	MGC      [][]float64 `json:"mgc"`
	BAP      [][]float64 `json:"bap"`
	Waveform []float64   `json:"waveform"`
}

// NewExec returns a reconstructor backed by an external WORLD-style
// vocoder process speaking JSON over stdin/stdout.
func NewExec(command string) (Reconstructor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse vocoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("vocoder command is empty")
	}
	return &execReconstructor{cmd: args}, nil
}

func (e *execReconstructor) Generate(ctx context.Context, req Request) (*Bundle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execVocoderRequest{
		Frames:             req.Features.Data,
		StreamSizes:        req.Model.StreamSizes,
		HasDynamicFeatures: req.Model.HasDynamicFeatures,
		NumWindows:         req.Model.NumWindows,
		PitchIdx:           req.PitchIdx,
		SubphoneFeatures:   req.SubphoneFeatures,
		LogF0Conditioning:  req.LogF0Conditioning,
		PostFilter:         req.PostFilter,
		RelativeF0:         req.RelativeF0,
		SampleRate:         req.SampleRate,
		FramePeriod:        req.FramePeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("encode vocoder request: %w", err)
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("vocoder failed: %w: %s", err, stderr.String())
	}

	var resp execVocoderResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode vocoder response: %w", err)
	}
	if len(resp.Waveform) == 0 {
		return nil, fmt.Errorf("vocoder returned no samples")
	}
	return &Bundle{F0: resp.F0, MGC: resp.MGC, BAP: resp.BAP, Waveform: resp.Waveform}, nil
}
