package runner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/syntax"
)

// maxLoopIterations bounds the range() loop so a typo cannot flood the output.
const maxLoopIterations = 10000

var forRangeRegex = regexp.MustCompile(`for\s+(\w+)\s+in\s+range\((\d+)\):`)

// FallbackExecutor is a deliberately small line-by-line interpreter used when
// no real Python runtime is available. It understands print calls with a
// string literal, a known name or simple arithmetic, assignments of literals,
// and a single-level `for x in range(n):` loop whose body is one print call.
// Everything else is ignored.
type FallbackExecutor struct{}

// NewFallbackExecutor creates a fallback executor.
func NewFallbackExecutor() *FallbackExecutor {
	return &FallbackExecutor{}
}

// Strategy returns StrategyFallback.
func (e *FallbackExecutor) Strategy() Strategy { return StrategyFallback }

// Ready always succeeds.
func (e *FallbackExecutor) Ready(context.Context) error { return nil }

// Execute interprets the code. Input requests are never raised.
func (e *FallbackExecutor) Execute(_ context.Context, req Request) (*Result, error) {
	start := time.Now()
	out, failed := Interpret(req.Code)
	return &Result{
		Output:   out,
		Strategy: StrategyFallback,
		Failed:   failed,
		Duration: time.Since(start),
	}, nil
}

// Interpret runs code through the syntax checker and then the toy
// interpreter. It reports whether the output is an error message.
func Interpret(code string) (out string, failed bool) {
	if first := syntax.FirstError(code); first != "" {
		return SyntaxErrorPrefix + first, true
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("fallback interpreter panicked", "panic", r)
			out, failed = ErrorPrefix+fmt.Sprint(r), true
		}
	}()

	in := &interpreter{vars: make(map[string]value)}
	return withNoOutput(in.run(code)), false
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindRaw
)

type value struct {
	kind valueKind
	text string
	num  number
}

func (v value) String() string {
	if v.kind == kindNumber {
		return v.num.String()
	}
	return v.text
}

type interpreter struct {
	vars map[string]value
	out  strings.Builder
}

func (in *interpreter) run(code string) string {
	var lines []string
	for _, l := range strings.Split(code, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(trimmed, "print("):
			if arg, ok := printArg(trimmed); ok {
				in.print(arg)
			}
		case strings.Contains(trimmed, " = "):
			in.assign(trimmed)
		case strings.HasPrefix(trimmed, "for "):
			if in.loop(trimmed, lines, i) {
				i++
			}
		}
	}
	return in.out.String()
}

func (in *interpreter) print(content string) {
	in.out.WriteString(in.render(content))
	in.out.WriteString("\n")
}

// render resolves a print argument: a quoted literal, a known name, a simple
// arithmetic expression, or else the argument text itself.
func (in *interpreter) render(content string) string {
	if s, ok := unquote(content); ok {
		return s
	}
	if v, ok := in.vars[content]; ok {
		return v.String()
	}
	if n, err := evalArithmetic(content, in.lookupNumber); err == nil {
		return n.String()
	}
	return content
}

func (in *interpreter) assign(line string) {
	parts := strings.Split(line, " = ")
	name := strings.TrimSpace(parts[0])
	raw := strings.TrimSpace(parts[1])

	if s, ok := unquote(raw); ok {
		in.vars[name] = value{kind: kindString, text: s}
		return
	}
	if n, err := evalArithmetic(raw, in.lookupNumber); err == nil {
		in.vars[name] = value{kind: kindNumber, num: n}
		return
	}
	in.vars[name] = value{kind: kindRaw, text: raw}
}

// loop handles `for x in range(n):` followed by an indented print line. It
// reports whether the body line was consumed.
func (in *interpreter) loop(line string, lines []string, i int) bool {
	m := forRangeRegex.FindStringSubmatch(line)
	if m == nil || i+1 >= len(lines) {
		return false
	}
	body := lines[i+1]
	bodyTrimmed := strings.TrimSpace(body)
	if body == bodyTrimmed || !strings.HasPrefix(bodyTrimmed, "print(") {
		return false
	}
	arg, ok := printArg(bodyTrimmed)
	if !ok {
		return false
	}

	name := m[1]
	count, err := strconv.Atoi(m[2])
	if err != nil {
		return false
	}
	count = min(count, maxLoopIterations)
	for k := 0; k < count; k++ {
		in.vars[name] = value{kind: kindNumber, num: intNumber(int64(k))}
		in.print(arg)
	}
	return true
}

func (in *interpreter) lookupNumber(name string) (number, bool) {
	v, ok := in.vars[name]
	if !ok || v.kind != kindNumber {
		return number{}, false
	}
	return v.num, true
}

// printArg returns the argument of a line starting with print(, up to the
// parenthesis that closes the call. Parentheses inside string literals do
// not count.
func printArg(line string) (string, bool) {
	const open = "print("
	if !strings.HasPrefix(line, open) {
		return "", false
	}
	depth := 1
	var quote byte
	for i := len(open); i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(line[len(open):i]), true
			}
		}
	}
	return "", false
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1], true
	}
	return "", false
}
