// Package question loads HTS question set files.
//
// A question file declares binary predicates (QS) and continuous
// extractors (CQS) over full-context label strings:
//
//	QS  "C-Vowel" {*-a+*,*-i+*,*-u+*}
//	CQS "e1"      {/E:([0-9]+)]}
//
// QS patterns use '*' wildcards; CQS patterns embed a regex capture group
// for the numeric value.
package question

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Question is one named predicate with its compiled patterns.
type Question struct {
	Name     string
	Patterns []*regexp.Regexp
}

// Set is the linguistic feature decomposition for one pipeline stage.
// Immutable once loaded.
type Set struct {
	Binary     []Question
	Continuous []Question
}

// Load parses a question file into a Set.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open question file: %w", err)
	}
	defer f.Close()

	set := &Set{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var kind string
		switch {
		case strings.HasPrefix(line, "CQS"):
			kind = "CQS"
		case strings.HasPrefix(line, "QS"):
			kind = "QS"
		default:
			continue
		}
		q, err := parseQuestion(line, kind == "CQS")
		if err != nil {
			return nil, fmt.Errorf("question line %d: %w", lineNo, err)
		}
		if kind == "CQS" {
			set.Continuous = append(set.Continuous, q)
		} else {
			set.Binary = append(set.Binary, q)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}
	if len(set.Binary) == 0 && len(set.Continuous) == 0 {
		return nil, fmt.Errorf("question file %s declares no questions", path)
	}
	return set, nil
}

func parseQuestion(line string, continuous bool) (Question, error) {
	nameStart := strings.Index(line, `"`)
	nameEnd := strings.Index(line[nameStart+1:], `"`)
	if nameStart < 0 || nameEnd < 0 {
		return Question{}, fmt.Errorf("missing quoted name")
	}
	name := line[nameStart+1 : nameStart+1+nameEnd]

	open := strings.Index(line, "{")
	closing := strings.LastIndex(line, "}")
	if open < 0 || closing < open {
		return Question{}, fmt.Errorf("missing pattern block")
	}
	block := line[open+1 : closing]

	q := Question{Name: name}
	for _, raw := range strings.Split(block, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		re, err := compilePattern(raw, continuous)
		if err != nil {
			return Question{}, fmt.Errorf("pattern %q: %w", raw, err)
		}
		q.Patterns = append(q.Patterns, re)
	}
	if len(q.Patterns) == 0 {
		return Question{}, fmt.Errorf("no patterns")
	}
	if continuous && len(q.Patterns) != 1 {
		return Question{}, fmt.Errorf("continuous questions take exactly one pattern")
	}
	return q, nil
}

// compilePattern turns an HTS wildcard pattern into an anchored regexp.
// Binary patterns are literal apart from '*' and '?'; continuous patterns
// keep their embedded capture group intact.
func compilePattern(pattern string, continuous bool) (*regexp.Regexp, error) {
	if continuous {
		// Searched, not anchored: the capture group extracts the value
		// from anywhere in the context string.
		return regexp.Compile(strings.ReplaceAll(pattern, "*", ".*"))
	}
	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, `\*`, ".*")
	expr = strings.ReplaceAll(expr, `\?`, ".")
	return regexp.Compile("^" + expr + "$")
}

// Dim is the width of the feature block: binary then continuous.
func (s *Set) Dim() int {
	return len(s.Binary) + len(s.Continuous)
}

// PitchIndices returns the three contiguous feature indices immediately
// following the binary block.
func (s *Set) PitchIndices() [3]int {
	n := len(s.Binary)
	return [3]int{n, n + 1, n + 2}
}

// PitchIdx returns the index of the pitch feature, the middle of the
// pitch triple.
func (s *Set) PitchIdx() int {
	return len(s.Binary) + 1
}
