// Package syntax performs a best-effort static scan of beginner Python code.
//
// An empty result means no common mistake was detected, not that the code is
// valid Python. The checks are heuristics and produce both false positives and
// false negatives (a colon on a continuation line, a keyword inside a string).
package syntax

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// FailedMessage is returned when the scan itself breaks.
const FailedMessage = "Syntax check failed"

// controlKeywords are the statements that must end their header with a colon.
var controlKeywords = []string{"if", "elif", "else", "for", "while", "def", "class", "try", "except", "finally"}

var keywordPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(controlKeywords))
	for _, kw := range controlKeywords {
		m[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return m
}()

// bracket tracks the depth of one bracket family.
type bracket struct {
	name  string
	open  rune
	close rune
	depth int
}

func (b *bracket) message() string {
	if b.depth > 0 {
		return fmt.Sprintf("Unmatched %s: missing %d closing %c", b.name, b.depth, b.close)
	}
	return fmt.Sprintf("Unmatched %s: extra %d closing %c", b.name, -b.depth, b.open)
}

// Check scans code and returns the detected problems in order: one missing
// colon message per offending keyword and line, then one aggregate message per
// unbalanced bracket family, then an unterminated string message.
func Check(code string) (errs []string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("syntax check panicked", "panic", r)
			errs = []string{FailedMessage}
		}
	}()
	return scan(code)
}

func scan(code string) []string {
	var errs []string

	brackets := []*bracket{
		{name: "parentheses", open: '(', close: ')'},
		{name: "square brackets", open: '[', close: ']'},
		{name: "curly braces", open: '{', close: '}'},
	}
	inString := false
	var quote rune

	for i, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		// String state carries across lines so that an unclosed quote is
		// reported once at the end of the scan.
		var prev rune
		for _, ch := range line {
			switch {
			case !inString && (ch == '"' || ch == '\''):
				inString = true
				quote = ch
			case inString && ch == quote && prev != '\\':
				inString = false
				quote = 0
			}

			if !inString {
				for _, b := range brackets {
					switch ch {
					case b.open:
						b.depth++
					case b.close:
						b.depth--
					}
				}
			}
			prev = ch
		}

		if trimmed == "" || strings.Contains(trimmed, ":") || strings.Contains(trimmed, "#") {
			continue
		}
		for _, kw := range controlKeywords {
			if keywordPatterns[kw].MatchString(trimmed) {
				errs = append(errs, fmt.Sprintf("Line %d: Missing colon (:) after '%s'", i+1, kw))
			}
		}
	}

	for _, b := range brackets {
		if b.depth != 0 {
			errs = append(errs, b.message())
		}
	}
	if inString {
		errs = append(errs, fmt.Sprintf("Unterminated string: missing closing %c", quote))
	}
	return errs
}

// FirstError returns the first detected problem, or "" when none was found.
func FirstError(code string) string {
	if errs := Check(code); len(errs) > 0 {
		return errs[0]
	}
	return ""
}
