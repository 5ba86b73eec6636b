// Package label loads HTS-style full-context timing labels.
//
// A label file is a text file with one entry per line:
//
//	start end context
//
// where start and end are times in 100ns ticks and context is the
// full-context string with the current phoneme between the first '-' and
// the first '+'.
package label

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// TicksPerMillisecond is the HTS tick resolution (100ns units).
const TicksPerMillisecond = 10000

// Entry is one phoneme with its timing and full context.
type Entry struct {
	Start   int64
	End     int64
	Context string
}

// Timeline is an ordered, contiguous, non-overlapping phoneme sequence.
type Timeline []Entry

// Load parses a label file. Any malformed line (wrong token count,
// non-numeric time, start >= end) is a fatal parse error.
func Load(path string) (Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open label file: %w", err)
	}
	defer f.Close()

	var tl Timeline
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("label line %d: %w", lineNo, err)
		}
		tl = append(tl, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read label file: %w", err)
	}
	if len(tl) == 0 {
		return nil, fmt.Errorf("label file %s contains no entries", path)
	}
	if err := tl.Validate(); err != nil {
		return nil, err
	}
	return tl, nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Entry{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	start, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad start time %q: %w", fields[0], err)
	}
	end, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad end time %q: %w", fields[1], err)
	}
	if start >= end {
		return Entry{}, fmt.Errorf("start %d not before end %d", start, end)
	}
	return Entry{Start: start, End: end, Context: fields[2]}, nil
}

// Validate checks the timeline invariants: every entry spans positive time,
// entries are ordered by start and contiguous.
func (t Timeline) Validate() error {
	for i, e := range t {
		if e.Start >= e.End {
			return fmt.Errorf("entry %d: start %d not before end %d", i, e.Start, e.End)
		}
		if i > 0 && e.Start != t[i-1].End {
			return fmt.Errorf("entry %d: start %d not contiguous with previous end %d", i, e.Start, t[i-1].End)
		}
	}
	return nil
}

// Round snaps all times to the nearest multiple of step ticks, keeping
// entries contiguous. Entries collapsed to zero length are widened to one
// step.
func (t Timeline) Round(step int64) Timeline {
	if step <= 0 {
		return t
	}
	out := make(Timeline, len(t))
	prev := int64(0)
	for i, e := range t {
		start := prev
		if i == 0 {
			start = roundTo(e.Start, step)
		}
		end := roundTo(e.End, step)
		if end <= start {
			end = start + step
		}
		out[i] = Entry{Start: start, End: end, Context: e.Context}
		prev = end
	}
	return out
}

func roundTo(v, step int64) int64 {
	return int64(math.Round(float64(v)/float64(step))) * step
}

// Clone returns an independent copy of the timeline.
func (t Timeline) Clone() Timeline {
	out := make(Timeline, len(t))
	copy(out, t)
	return out
}

// TotalSpan returns the duration in ticks from first start to last end.
func (t Timeline) TotalSpan() int64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].End - t[0].Start
}

// CorePhoneme extracts the current phoneme symbol from a full-context
// string: the substring strictly between the first '-' and the first '+'.
// Contexts without delimiters are returned unchanged.
func CorePhoneme(context string) string {
	start := strings.Index(context, "-") + 1
	end := strings.Index(context, "+")
	if end < start {
		if start == 0 {
			return context
		}
		return context[start:]
	}
	return context[start:end]
}
