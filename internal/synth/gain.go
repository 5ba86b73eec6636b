package synth

import "math"

// The training bit depth is not recorded anywhere in the run
// configuration; the only observable signal at inference time is the
// output magnitude. Models trained on integer PCM reproduce the integer
// amplitude range, so the maximum gain tells the buckets apart. The
// thresholds and comparison directions are load-bearing; do not round
// them.
const (
	int32Threshold = 8388608 // 2^23
	int16Threshold = 8

	int32Max = 2147483647
	int16Max = 32767
)

// estimateBitDepth classifies the implicit fixed-point scale of a raw
// sample sequence by its maximum absolute amplitude.
func estimateBitDepth(maxGain float64) (string, error) {
	switch {
	case maxGain > int32Threshold:
		return "int32", nil
	case maxGain > int16Threshold:
		return "int16", nil
	case maxGain <= int16Threshold:
		return "float", nil
	}
	// Only NaN amplitudes reach here.
	return "", ErrUnknownBitDepth
}

// Normalize rescales a raw sample sequence to the canonical [-1, 1] float
// range: first the inferred bit-depth correction, then an optional gain
// normalization to peak 1.0. An all-zero signal is treated as already
// normalized. Returns the 32-bit samples ready for writing, the inferred
// depth and the pre-correction maximum gain.
func Normalize(wav []float64, gainNormalize bool) ([]float32, string, float64, error) {
	maxGain := 0.0
	for _, v := range wav {
		maxGain = math.Max(maxGain, math.Abs(v))
	}

	depth, err := estimateBitDepth(maxGain)
	if err != nil {
		return nil, "", maxGain, err
	}

	divisor := 1.0
	switch depth {
	case "int32":
		divisor = int32Max
	case "int16":
		divisor = int16Max
	}

	peak := maxGain / divisor
	norm := 1.0
	if gainNormalize && peak > 0 {
		norm = peak
	}

	out := make([]float32, len(wav))
	for i, v := range wav {
		out[i] = float32(v / divisor / norm)
	}
	return out, depth, maxGain, nil
}
