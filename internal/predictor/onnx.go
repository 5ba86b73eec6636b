package predictor

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/cantabile-labs/cantabile-core/internal/feature"
	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/question"
)

// inputName and outputName are the tensor names every exported stage
// checkpoint declares.
const (
	inputName  = "linguistic_features"
	outputName = "output"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime() error {
	ortInitOnce.Do(func() {
		if path := os.Getenv("CANTABILE_ONNXRUNTIME_LIB"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// onnxSession wraps one stage checkpoint with its normalization scalers.
type onnxSession struct {
	session *ort.DynamicAdvancedSession
	in      *Scaler
	out     *Scaler
	mu      sync.Mutex
}

func newOnnxSession(checkpoint, inScalerPath, outScalerPath, device string) (*onnxSession, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if device == "cuda" {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("cuda requested but unavailable: %w", err)
		}
		if err := cudaOpts.Update(map[string]string{"device_id": "0"}); err == nil {
			err = opts.AppendExecutionProviderCUDA(cudaOpts)
		}
		cudaOpts.Destroy()
		if err != nil {
			return nil, fmt.Errorf("enable cuda provider: %w", err)
		}
	} else {
		_ = opts.SetIntraOpNumThreads(0)
	}

	session, err := ort.NewDynamicAdvancedSession(checkpoint, []string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpoint, err)
	}

	s := &onnxSession{session: session}
	if inScalerPath != "" {
		if s.in, err = LoadScaler(inScalerPath); err != nil {
			session.Destroy()
			return nil, err
		}
	}
	if outScalerPath != "" {
		if s.out, err = LoadScaler(outScalerPath); err != nil {
			session.Destroy()
			return nil, err
		}
	}
	return s, nil
}

// infer runs one batch of shape [1, rows, dim] and returns the
// denormalized output rows.
func (s *onnxSession) infer(ctx context.Context, rows [][]float32) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rows) == 0 {
		return nil, fmt.Errorf("no input rows")
	}
	dim := len(rows[0])
	flat := make([]float32, 0, len(rows)*dim)
	for _, row := range rows {
		scaled := make([]float32, len(row))
		copy(scaled, row)
		s.in.Transform(scaled)
		flat = append(flat, scaled...)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(rows)), int64(dim)), flat)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, 1)
	if err := s.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}
	shape := tensor.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected output rank %d", len(shape))
	}
	frames := int(shape[1])
	outDim := int(shape[2])
	data := tensor.GetData()

	out := make([][]float64, frames)
	for i := 0; i < frames; i++ {
		row := make([]float64, outDim)
		for j := 0; j < outDim; j++ {
			row[j] = float64(data[i*outDim+j])
		}
		s.out.Inverse(row)
		out[i] = row
	}
	return out, nil
}

func (s *onnxSession) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return nil
}

func stageInput(tl label.Timeline, qs *question.Set, opts Options) [][]float32 {
	rows := feature.Phoneme(tl, qs)
	if opts.LogF0Conditioning {
		feature.ApplyLogF0(rows, qs.PitchIndices())
	}
	return rows
}

type onnxTimelag struct {
	s *onnxSession
}

func NewOnnxTimelag(checkpoint, inScalerPath, outScalerPath, device string) (Timelag, error) {
	s, err := newOnnxSession(checkpoint, inScalerPath, outScalerPath, device)
	if err != nil {
		return nil, err
	}
	return &onnxTimelag{s: s}, nil
}

func (o *onnxTimelag) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) ([]float64, error) {
	rows, err := o.s.infer(ctx, stageInput(tl, qs, opts))
	if err != nil {
		return nil, err
	}
	if len(rows) != len(tl) {
		return nil, fmt.Errorf("timelag model returned %d rows for %d phonemes", len(rows), len(tl))
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = row[0]
	}
	return out, nil
}

func (o *onnxTimelag) Close() error { return o.s.close() }

type onnxDuration struct {
	s *onnxSession
}

func NewOnnxDuration(checkpoint, inScalerPath, outScalerPath, device string) (Duration, error) {
	s, err := newOnnxSession(checkpoint, inScalerPath, outScalerPath, device)
	if err != nil {
		return nil, err
	}
	return &onnxDuration{s: s}, nil
}

func (o *onnxDuration) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, lag []float64, opts Options) ([]float64, error) {
	rows := stageInput(tl, qs, opts)
	// The lag conditions duration prediction as an extra trailing feature.
	for i := range rows {
		v := float32(0)
		if i < len(lag) {
			v = float32(lag[i])
		}
		rows[i] = append(rows[i], v)
	}
	out, err := o.s.infer(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(out) != len(tl) {
		return nil, fmt.Errorf("duration model returned %d rows for %d phonemes", len(out), len(tl))
	}
	durations := make([]float64, len(out))
	for i, row := range out {
		durations[i] = row[0]
	}
	return durations, nil
}

func (o *onnxDuration) Close() error { return o.s.close() }

type onnxAcoustic struct {
	s     *onnxSession
	model ModelConfig
}

func NewOnnxAcoustic(checkpoint, inScalerPath, outScalerPath, device string, model ModelConfig) (Acoustic, error) {
	s, err := newOnnxSession(checkpoint, inScalerPath, outScalerPath, device)
	if err != nil {
		return nil, err
	}
	return &onnxAcoustic{s: s, model: model}, nil
}

func (o *onnxAcoustic) Model() ModelConfig { return o.model }

func (o *onnxAcoustic) Predict(ctx context.Context, tl label.Timeline, qs *question.Set, opts Options) (*Matrix, error) {
	rows, err := o.s.infer(ctx, stageInput(tl, qs, opts))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("acoustic model returned no frames")
	}
	dim := len(rows[0])
	if want := o.model.FeatureDim(); dim != want {
		return nil, fmt.Errorf("acoustic model returned dim %d, stream layout requires %d", dim, want)
	}
	return &Matrix{Frames: len(rows), Dim: dim, Data: rows}, nil
}

func (o *onnxAcoustic) Close() error { return o.s.close() }
