package runner

import "testing"

func TestParser_ParseTraceback(t *testing.T) {
	p := NewParser("main.py")

	tests := []struct {
		name     string
		stderr   string
		wantOK   bool
		wantKind string
		wantMsg  string
		wantLine int
	}{
		{
			name:   "empty",
			stderr: "",
			wantOK: false,
		},
		{
			name: "name error",
			stderr: `Traceback (most recent call last):
  File "/usr/lib/python3.12/runpy.py", line 286, in run_path
    return _run_module_code(code, init_globals, run_name,
  File "/tmp/pylearner-run-1/main.py", line 3, in <module>
    print(y)
          ^
NameError: name 'y' is not defined
`,
			wantOK:   true,
			wantKind: "NameError",
			wantMsg:  "name 'y' is not defined",
			wantLine: 3,
		},
		{
			name: "innermost user frame wins",
			stderr: `Traceback (most recent call last):
  File "/tmp/x/main.py", line 5, in <module>
    greet()
  File "/tmp/x/main.py", line 2, in greet
    return 1 / 0
ZeroDivisionError: division by zero
`,
			wantOK:   true,
			wantKind: "ZeroDivisionError",
			wantMsg:  "division by zero",
			wantLine: 2,
		},
		{
			name: "syntax error",
			stderr: `  File "/tmp/x/main.py", line 1
    print("hi"
         ^
SyntaxError: '(' was never closed
`,
			wantOK:   true,
			wantKind: "SyntaxError",
			wantMsg:  "'(' was never closed",
			wantLine: 1,
		},
		{
			name: "exception without message",
			stderr: `Traceback (most recent call last):
  File "/tmp/x/main.py", line 1, in <module>
KeyboardInterrupt
`,
			wantOK:   true,
			wantKind: "KeyboardInterrupt",
			wantLine: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diag, ok := p.ParseTraceback(tt.stderr)
			if ok != tt.wantOK {
				t.Fatalf("ParseTraceback() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diag.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", diag.Kind, tt.wantKind)
			}
			if diag.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", diag.Message, tt.wantMsg)
			}
			if diag.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", diag.Line, tt.wantLine)
			}
		})
	}
}

func TestDiagnostic_Summary(t *testing.T) {
	tests := []struct {
		diag Diagnostic
		want string
	}{
		{Diagnostic{Kind: "NameError", Message: "name 'y' is not defined", Line: 3}, "NameError: name 'y' is not defined (line 3)"},
		{Diagnostic{Kind: "KeyboardInterrupt"}, "KeyboardInterrupt"},
		{Diagnostic{Kind: "ValueError", Message: "bad"}, "ValueError: bad"},
	}
	for _, tt := range tests {
		if got := tt.diag.Summary(); got != tt.want {
			t.Errorf("Summary() = %q, want %q", got, tt.want)
		}
	}
}
