package syntax

import (
	"reflect"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "balanced print",
			code: "print('hi')",
			want: nil,
		},
		{
			name: "missing closing paren",
			code: "print('hi'",
			want: []string{"Unmatched parentheses: missing 1 closing )"},
		},
		{
			name: "extra closing paren",
			code: "print('hi'))",
			want: []string{"Unmatched parentheses: extra 1 closing ("},
		},
		{
			name: "square brackets",
			code: "items = [1, 2, [3]",
			want: []string{"Unmatched square brackets: missing 1 closing ]"},
		},
		{
			name: "curly braces",
			code: "d = {'a': 1}}",
			want: []string{"Unmatched curly braces: extra 1 closing {"},
		},
		{
			name: "brackets inside strings are ignored",
			code: "print(\"(([[{{\")",
			want: nil,
		},
		{
			name: "unterminated string",
			code: "name = \"Sam",
			want: []string{"Unterminated string: missing closing \""},
		},
		{
			name: "escaped quote does not close",
			code: "print('it\\'s')",
			want: nil,
		},
		{
			name: "missing colon after if",
			code: "x = 5\nif x > 3\n    print(x)",
			want: []string{"Line 2: Missing colon (:) after 'if'"},
		},
		{
			name: "missing colon after def and for",
			code: "def greet()\n    for i in range(3)\n        print(i)",
			want: []string{
				"Line 1: Missing colon (:) after 'def'",
				"Line 2: Missing colon (:) after 'for'",
			},
		},
		{
			name: "elif is not reported as if",
			code: "elif x",
			want: []string{"Line 1: Missing colon (:) after 'elif'"},
		},
		{
			name: "keyword inside a word is not a keyword",
			code: "print(\"Enter your country\")",
			want: nil,
		},
		{
			name: "identifier containing if",
			code: "diff = 3\nprint(diff)",
			want: nil,
		},
		{
			name: "comment lines are skipped",
			code: "# if this were code (\nprint('ok')",
			want: nil,
		},
		{
			name: "inline comment suppresses colon check",
			code: "if x # todo",
			want: nil,
		},
		{
			name: "colon present",
			code: "while True:\n    break",
			want: nil,
		},
		{
			name: "multiple aggregate errors in order",
			code: "print([{'a'",
			want: []string{
				"Unmatched parentheses: missing 1 closing )",
				"Unmatched square brackets: missing 1 closing ]",
				"Unmatched curly braces: missing 1 closing }",
			},
		},
		{
			name: "empty input",
			code: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.code)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Check(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestCheck_StringSpansLines(t *testing.T) {
	code := "msg = \"hello\nprint(msg)"
	errs := Check(code)
	if len(errs) != 1 || !strings.HasPrefix(errs[0], "Unterminated string") {
		t.Errorf("Check() = %q, want a single unterminated string error", errs)
	}
}

func TestCheck_MissingParenMentionsParenthesis(t *testing.T) {
	errs := Check("print('hi'")
	if len(errs) == 0 {
		t.Fatal("expected errors")
	}
	if !strings.Contains(errs[0], "missing") || !strings.Contains(errs[0], ")") {
		t.Errorf("error %q should mention a missing closing parenthesis", errs[0])
	}
}

func TestFirstError(t *testing.T) {
	if got := FirstError("print('x')"); got != "" {
		t.Errorf("FirstError() = %q, want empty", got)
	}
	if got := FirstError("if x\nprint((1)"); got != "Line 1: Missing colon (:) after 'if'" {
		t.Errorf("FirstError() = %q", got)
	}
}
