package vocoder

import (
	"context"
	"fmt"
	"math"
)

// referenceF0 is the base curve used when F0 is predicted as a delta.
const referenceF0 = 440.0

type mockReconstructor struct {
	amplitude float64
}

// NewMock returns a reconstructor that produces a constant-amplitude
// signal of the exact deterministic length for the frame count. The
// amplitude mimics the implicit scale of the training data.
func NewMock(amplitude float64) Reconstructor {
	return &mockReconstructor{amplitude: amplitude}
}

func (m *mockReconstructor) Generate(ctx context.Context, req Request) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streams, err := splitStreams(req.Features, req.Model.StreamSizes)
	if err != nil {
		return nil, err
	}
	// Stream order follows the WORLD convention: mgc, lf0, vuv, bap. The
	// first two are mandatory; the F0 curve is read from the lf0 stream.
	if len(streams) < 2 || req.Model.StreamSizes[1] < 1 {
		return nil, fmt.Errorf("stream layout %v lacks an lf0 stream", req.Model.StreamSizes)
	}

	bundle := &Bundle{
		MGC: streams[0],
		F0:  make([]float64, req.Features.Frames),
	}
	if len(streams) > 3 {
		bundle.BAP = streams[3]
	} else {
		bundle.BAP = make([][]float64, req.Features.Frames)
		for i := range bundle.BAP {
			bundle.BAP[i] = []float64{0}
		}
	}

	for i := 0; i < req.Features.Frames; i++ {
		v := streams[1][i][0]
		if req.LogF0Conditioning {
			v = math.Exp(v)
		}
		if req.RelativeF0 {
			v += referenceF0
		}
		bundle.F0[i] = v
	}

	if req.PostFilter {
		bundle.MGC = smooth(bundle.MGC)
	}

	n := SampleCount(req.Features.Frames, req.FramePeriod, req.SampleRate)
	bundle.Waveform = make([]float64, n)
	for i := range bundle.Waveform {
		bundle.Waveform[i] = m.amplitude
	}
	return bundle, nil
}

// smooth applies a 3-frame moving average along time, the cheapest
// stand-in for spectral post filtering.
func smooth(rows [][]float64) [][]float64 {
	if len(rows) < 3 {
		return rows
	}
	out := make([][]float64, len(rows))
	out[0] = rows[0]
	out[len(rows)-1] = rows[len(rows)-1]
	for i := 1; i < len(rows)-1; i++ {
		row := make([]float64, len(rows[i]))
		for j := range row {
			row[j] = (rows[i-1][j] + rows[i][j] + rows[i+1][j]) / 3.0
		}
		out[i] = row
	}
	return out
}
