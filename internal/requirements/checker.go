// Package requirements decides whether a submission is eligible to be marked
// complete. The rules are keyword heuristics keyed by exercise id prefix; they
// never judge whether the code is correct, only whether it has the expected
// shape.
package requirements

import (
	"regexp"
	"strings"
)

// Rule reports whether the prepared code lines satisfy an exercise family.
type Rule func(lines []string) bool

type prefixRule struct {
	prefixes []string
	rule     Rule
}

// Checker matches exercise ids against exact-id rules first, then prefix rules.
type Checker struct {
	exact  map[string]Rule
	prefix []prefixRule
}

var intAssignment = regexp.MustCompile(`^\s*\w+\s*=\s*\d+\s*$`)

// NewChecker creates a checker with the default rule table.
func NewChecker() *Checker {
	return &Checker{
		exact: map[string]Rule{
			"dt-1": allOf(hasStringAssignment, hasPrint),
			"dt-2": allOf(hasIntAssignment, hasFloatAssignment, hasPrint),
			"dt-3": allOf(hasBoolAssignment, hasPrint),
			"dt-8": allOf(hasAssignment, hasPrint, anyLine("type(")),
		},
		prefix: []prefixRule{
			{[]string{"dt-"}, allOf(hasAssignment, hasPrint)},
			{[]string{"print-"}, hasPrint},
			{[]string{"math-", "input-"}, anyLine("input", "+", "-", "*", "/")},
			{[]string{"bool-", "if-"}, anyLine("if", "and", "or")},
			{[]string{"loop-", "list-"}, anyLine("for", "while", "[")},
			{[]string{"func-"}, allOf(anyLine("def"), anyLine("("))},
			{[]string{"project-"}, func([]string) bool { return true }},
		},
	}
}

var defaultChecker = NewChecker()

// Check reports whether code meets the requirements of exerciseID using the
// default rules. Unknown ids and an empty id are never eligible.
func Check(code, exerciseID string) bool {
	return defaultChecker.Check(code, exerciseID)
}

// Check reports whether code meets the requirements of exerciseID.
func (c *Checker) Check(code, exerciseID string) bool {
	if exerciseID == "" {
		return false
	}
	lines := prepare(code)

	if rule, ok := c.exact[exerciseID]; ok {
		return rule(lines)
	}
	for _, pr := range c.prefix {
		for _, p := range pr.prefixes {
			if strings.HasPrefix(exerciseID, p) {
				return pr.rule(lines)
			}
		}
	}
	return false
}

// prepare lower-cases the code and drops blank lines and lines that begin
// with a comment marker in the first column.
func prepare(code string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ToLower(code), "\n") {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func allOf(rules ...Rule) Rule {
	return func(lines []string) bool {
		for _, r := range rules {
			if !r(lines) {
				return false
			}
		}
		return true
	}
}

func anyLine(needles ...string) Rule {
	return someLine(func(line string) bool {
		for _, n := range needles {
			if strings.Contains(line, n) {
				return true
			}
		}
		return false
	})
}

func someLine(pred func(string) bool) Rule {
	return func(lines []string) bool {
		for _, l := range lines {
			if pred(l) {
				return true
			}
		}
		return false
	}
}

var (
	hasPrint      = anyLine("print")
	hasAssignment = someLine(func(l string) bool {
		return strings.Contains(l, "=") && !strings.Contains(l, "==")
	})
	hasStringAssignment = someLine(func(l string) bool {
		return strings.Contains(l, "=") && strings.ContainsAny(l, `"'`)
	})
	hasIntAssignment = someLine(func(l string) bool {
		return strings.Contains(l, "=") && intAssignment.MatchString(l)
	})
	hasFloatAssignment = someLine(func(l string) bool {
		return strings.Contains(l, "=") && strings.Contains(l, ".")
	})
	hasBoolAssignment = someLine(func(l string) bool {
		return strings.Contains(l, "=") && (strings.Contains(l, "true") || strings.Contains(l, "false"))
	})
)
