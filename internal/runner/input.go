package runner

import (
	"context"
	"regexp"
	"strconv"
)

// inputCallRegex matches input() and input("prompt") with a literal prompt.
var inputCallRegex = regexp.MustCompile(`input\s*\(\s*(?:"([^"\\]*(?:\\.[^"\\]*)*)"|'([^'\\]*(?:\\.[^'\\]*)*)')?\s*\)`)

// InputCall is one textual input() occurrence.
type InputCall struct {
	Start  int
	End    int
	Prompt string
}

// FindInputCalls locates input() calls in source order. It is a text match,
// not a parse: calls in comments or strings are found too, and calls whose
// prompt is not a single literal are skipped.
func FindInputCalls(code string) []InputCall {
	var calls []InputCall
	for _, m := range inputCallRegex.FindAllStringSubmatchIndex(code, -1) {
		if m[0] > 0 && isIdentByte(code[m[0]-1]) {
			continue
		}
		call := InputCall{Start: m[0], End: m[1]}
		switch {
		case m[2] >= 0:
			call.Prompt = code[m[2]:m[3]]
		case m[4] >= 0:
			call.Prompt = code[m[4]:m[5]]
		}
		calls = append(calls, call)
	}
	return calls
}

// SubstituteInputs asks the provider for each input() call in source order,
// one at a time, and replaces that call with a string literal of the answer.
// It stops at the first provider error and leaves later calls untouched.
// The number of resolved requests is returned.
func SubstituteInputs(ctx context.Context, code string, provider InputProvider) (string, int, error) {
	if provider == nil {
		return code, 0, nil
	}
	calls := FindInputCalls(code)
	if len(calls) == 0 {
		return code, 0, nil
	}

	out := make([]byte, 0, len(code))
	last := 0
	resolved := 0
	var stopErr error
	for i, call := range calls {
		answer, err := provider.RequestInput(ctx, InputRequest{Index: i, Prompt: call.Prompt})
		if err != nil {
			stopErr = err
			break
		}
		out = append(out, code[last:call.Start]...)
		out = append(out, strconv.Quote(answer)...)
		last = call.End
		resolved++
	}
	out = append(out, code[last:]...)

	if stopErr != nil && ctx.Err() != nil {
		return string(out), resolved, ctx.Err()
	}
	return string(out), resolved, nil
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '.' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
