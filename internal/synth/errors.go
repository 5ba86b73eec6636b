package synth

import "errors"

var (
	// ErrNoLabelPath means neither the call nor the configuration
	// resolved an input label file.
	ErrNoLabelPath = errors.New("no label path resolvable")

	// ErrNoOutputPath means no output wav path was resolvable.
	ErrNoOutputPath = errors.New("no output wav path resolvable")

	// ErrNoQuestionPath means a prediction stage has no question set,
	// neither its own nor the global fallback.
	ErrNoQuestionPath = errors.New("no question path resolvable")

	// ErrUnknownBitDepth means the output amplitude fell into none of
	// the recognized bit-depth buckets.
	ErrUnknownBitDepth = errors.New("output amplitude matches no known bit depth")
)
