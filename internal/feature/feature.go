// Package feature vectorizes label timelines against a question set.
package feature

import (
	"math"
	"strconv"

	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/question"
)

// Phoneme builds a phoneme-level linguistic feature matrix: one row per
// label entry, binary predicate matches (0/1) followed by continuous
// captures. A continuous question that does not match yields -1.
func Phoneme(tl label.Timeline, qs *question.Set) [][]float32 {
	rows := make([][]float32, len(tl))
	for i, e := range tl {
		row := make([]float32, qs.Dim())
		col := 0
		for _, q := range qs.Binary {
			if matchAny(q, e.Context) {
				row[col] = 1
			}
			col++
		}
		for _, q := range qs.Continuous {
			row[col] = extract(q, e.Context)
			col++
		}
		rows[i] = row
	}
	return rows
}

func matchAny(q question.Question, context string) bool {
	for _, re := range q.Patterns {
		if re.MatchString(context) {
			return true
		}
	}
	return false
}

func extract(q question.Question, context string) float32 {
	m := q.Patterns[0].FindStringSubmatch(context)
	if len(m) < 2 {
		return -1
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return -1
	}
	return float32(v)
}

// ApplyLogF0 rewrites the pitch columns in place from MIDI note numbers to
// log-F0. Unset pitch values (<= 0) are left alone.
func ApplyLogF0(rows [][]float32, pitchIndices [3]int) {
	for _, row := range rows {
		for _, idx := range pitchIndices {
			if idx >= len(row) {
				continue
			}
			if v := row[idx]; v > 0 {
				row[idx] = float32(math.Log(midiToHz(float64(v))))
			}
		}
	}
}

func midiToHz(note float64) float64 {
	return 440.0 * math.Pow(2.0, (note-69.0)/12.0)
}
