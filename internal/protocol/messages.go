package protocol

import "time"

// SynthRequest asks the runtime to synthesize one label file.
type SynthRequest struct {
	RequestID  string `json:"request_id"`
	LabelPath  string `json:"label_path"`
	OutWavPath string `json:"out_wav_path"`
}

// SynthResult reports the outcome of a synthesis run.
type SynthResult struct {
	RequestID  string    `json:"request_id"`
	OutWavPath string    `json:"out_wav_path,omitempty"`
	TimingPath string    `json:"timing_path,omitempty"`
	Frames     int       `json:"frames,omitempty"`
	Samples    int       `json:"samples,omitempty"`
	BitDepth   string    `json:"bit_depth,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectSynthRequest = "synth.request"
	SubjectSynthResult  = "synth.result"
)
