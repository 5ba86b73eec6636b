package synth

import (
	"context"
	"fmt"
	"math"

	"github.com/cantabile-labs/cantabile-core/internal/config"
	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/predictor"
	"github.com/cantabile-labs/cantabile-core/internal/question"
)

// resolveTiming produces the duration-corrected timeline. With
// ground-truth duration the input timeline passes through untouched and
// no predictor is invoked. Otherwise the time-lag and duration stages run
// in order and their output is reconciled against the original timeline.
func resolveTiming(ctx context.Context, cfg config.SynthesisConfig, preds *predictor.Set, tl label.Timeline, opts predictor.Options) (label.Timeline, error) {
	if cfg.GroundTruthDuration {
		return tl, nil
	}

	if cfg.Timelag.QuestionPath == "" {
		return nil, fmt.Errorf("timelag: %w", ErrNoQuestionPath)
	}
	if cfg.Duration.QuestionPath == "" {
		return nil, fmt.Errorf("duration: %w", ErrNoQuestionPath)
	}

	timelagQS, err := question.Load(cfg.Timelag.QuestionPath)
	if err != nil {
		return nil, fmt.Errorf("timelag questions: %w", err)
	}
	lag, err := preds.Timelag.Predict(ctx, tl, timelagQS, opts)
	if err != nil {
		return nil, fmt.Errorf("timelag prediction: %w", err)
	}
	clampLag(lag, cfg.Timelag.AllowedRange)

	durationQS, err := question.Load(cfg.Duration.QuestionPath)
	if err != nil {
		return nil, fmt.Errorf("duration questions: %w", err)
	}
	durations, err := preds.Duration.Predict(ctx, tl, durationQS, lag, opts)
	if err != nil {
		return nil, fmt.Errorf("duration prediction: %w", err)
	}

	frameTicks := int64(opts.FramePeriod * label.TicksPerMillisecond)
	return postprocessDurations(tl, durations, lag, frameTicks), nil
}

func clampLag(lag []float64, allowed [2]float64) {
	for i, v := range lag {
		if v < allowed[0] {
			lag[i] = allowed[0]
		} else if v > allowed[1] {
			lag[i] = allowed[1]
		}
	}
}

// postprocessDurations reconciles predicted durations against the
// original timeline: the utterance onset shifts by the first phoneme's
// lag, predicted durations are rescaled proportionally onto the remaining
// span (one frame minimum per phoneme, remainder absorbed by the final
// phoneme), and the result is contiguous by construction.
func postprocessDurations(tl label.Timeline, durations, lag []float64, frameTicks int64) label.Timeline {
	if len(tl) == 0 || frameTicks <= 0 {
		return tl
	}

	onset := tl[0].Start + int64(math.Round(lag[0]))*frameTicks
	if onset < 0 {
		onset = 0
	}
	end := tl[len(tl)-1].End
	if end <= onset {
		end = onset + frameTicks*int64(len(tl))
	}
	span := end - onset

	sum := 0.0
	for _, d := range durations {
		if d < 1 {
			d = 1
		}
		sum += d
	}

	out := make(label.Timeline, len(tl))
	cursor := onset
	for i, e := range tl {
		var phonemeEnd int64
		if i == len(tl)-1 {
			phonemeEnd = end
		} else {
			d := durations[i]
			if d < 1 {
				d = 1
			}
			ticks := int64(math.Round(d/sum*float64(span)/float64(frameTicks))) * frameTicks
			if ticks < frameTicks {
				ticks = frameTicks
			}
			phonemeEnd = cursor + ticks
		}
		if phonemeEnd <= cursor {
			phonemeEnd = cursor + frameTicks
		}
		out[i] = label.Entry{Start: cursor, End: phonemeEnd, Context: e.Context}
		cursor = phonemeEnd
	}
	return out
}
