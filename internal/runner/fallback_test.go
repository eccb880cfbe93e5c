package runner

import (
	"context"
	"strings"
	"testing"
)

func TestInterpret(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"print variable", "x = 5\nprint(x)", "5\n"},
		{"print literal", `print("hi")`, "hi\n"},
		{"single quotes", `print('hello world')`, "hello world\n"},
		{"no print", "x = 1\ny = 2", NoOutputMessage},
		{"empty", "", NoOutputMessage},
		{"arithmetic", "print(2 + 3 * 4)", "14\n"},
		{"true division", "print(7 / 2)", "3.5\n"},
		{"float result", "print(6 / 2)", "3.0\n"},
		{"floor division", "print(7 // 2)", "3\n"},
		{"power", "print(2 ** 10)", "1024\n"},
		{"parentheses", "print((1 + 2) * 3)", "9\n"},
		{"numeric variables", "a = 4\nb = a * 2\nprint(a + b)", "12\n"},
		{"string variable", "name = \"Sam\"\nprint(\"Hello\")\nprint(name)", "Hello\nSam\n"},
		{"unknown name echoed", "print(foo)", "foo\n"},
		{"range loop", "for i in range(3):\n    print(i)", "0\n1\n2\n"},
		{"range loop literal body", "for i in range(2):\n  print(\"hey\")", "hey\nhey\n"},
		{"loop body not indented", "for i in range(2):\nprint(i)", "i\n"},
		{"comments ignored", "# note\nprint(1)", "1\n"},
		{"nested parentheses", "print(((2 + 1)) * (4 - 1))", "9\n"},
		{"parenthesis in string", `print("a (b) c")`, "a (b) c\n"},
		{"empty print", "print()\nprint(1)", "\n1\n"},
		{"big power", "print(2 ** 70)", "1180591620717411303424\n"},
		{"big variable", "x = 10 ** 20\nprint(x)", "100000000000000000000\n"},
		{"exact literal above 2^53", "print(9007199254740993)", "9007199254740993\n"},
		{"loop with parentheses", "for i in range(2):\n    print((i + 1) * 10)", "10\n20\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, failed := Interpret(tt.code)
			if failed {
				t.Fatalf("Interpret(%q) failed: %s", tt.code, got)
			}
			if got != tt.want {
				t.Errorf("Interpret(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestInterpret_SyntaxGate(t *testing.T) {
	got, failed := Interpret(`print("hi"`)
	if !failed {
		t.Fatal("Interpret() should fail on unbalanced parentheses")
	}
	if !strings.HasPrefix(got, SyntaxErrorPrefix) {
		t.Errorf("output = %q, want %q prefix", got, SyntaxErrorPrefix)
	}
	if !strings.Contains(got, "parentheses") {
		t.Errorf("output = %q, want the parentheses error", got)
	}
}

func TestInterpret_LoopCap(t *testing.T) {
	got, _ := Interpret("for i in range(100000):\n    print(\"x\")")
	if n := strings.Count(got, "\n"); n != maxLoopIterations {
		t.Errorf("printed %d lines, want %d", n, maxLoopIterations)
	}
}

func TestFallbackExecutor_Execute(t *testing.T) {
	e := NewFallbackExecutor()
	if e.Strategy() != StrategyFallback {
		t.Errorf("Strategy() = %s", e.Strategy())
	}
	if err := e.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	res, err := e.Execute(context.Background(), Request{Code: "print(1 + 1)"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Output != "2\n" || res.Failed || res.Strategy != StrategyFallback {
		t.Errorf("Execute() = %+v", res)
	}
}

func TestEvalArithmetic(t *testing.T) {
	lookup := func(name string) (number, bool) {
		if name == "n" {
			return intNumber(10), true
		}
		return number{}, false
	}

	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{"1 + 2", "3", false},
		{"-3 + 5", "2", false},
		{"-2 ** 2", "-4", false},
		{"2 ** -1", "0.5", false},
		{"7 % 3", "1", false},
		{"n * n", "100", false},
		{"1.5 + 1", "2.5", false},
		{"1_000 + 1", "1001", false},
		{"-7 // 2", "-4", false},
		{"-7 % 2", "1", false},
		{"7 % -2", "-1", false},
		{"2 ** 70 // 3", "393530540239137101141", false},
		{"2.0 ** 60", "1.152921504606847e+18", false},
		{"1 / 100000", "1e-05", false},
		{"9 ** 9 ** 9", "", true},
		{"1 / 0", "", true},
		{"5 % 0", "", true},
		{"x + 1", "", true},
		{"1 +", "", true},
		{"(1 + 2", "", true},
		{"\"a\" + 1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalArithmetic(tt.expr, lookup)
			if tt.wantErr {
				if err == nil {
					t.Errorf("evalArithmetic(%q) = %s, want error", tt.expr, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("evalArithmetic(%q) error = %v", tt.expr, err)
			}
			if got.String() != tt.want {
				t.Errorf("evalArithmetic(%q) = %s, want %s", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyAuto, false},
		{"auto", StrategyAuto, false},
		{" Python ", StrategyPython, false},
		{"docker", StrategyDocker, false},
		{"fallback", StrategyFallback, false},
		{"pyodide", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
