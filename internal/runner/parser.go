package runner

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic points at the line of user code that raised an error.
type Diagnostic struct {
	Line     int    `json:"line,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Summary renders the diagnostic the way it is shown to the learner.
func (d Diagnostic) Summary() string {
	s := d.Kind
	if d.Message != "" {
		s += ": " + d.Message
	}
	if d.Line > 0 {
		s += " (line " + strconv.Itoa(d.Line) + ")"
	}
	return s
}

// Parser parses Python interpreter error output
type Parser struct {
	frameRegex     *regexp.Regexp
	exceptionRegex *regexp.Regexp
	mainFile       string
}

// NewParser creates a parser that attributes frames of mainFile to user code.
func NewParser(mainFile string) *Parser {
	return &Parser{
		// Matches:   File "/tmp/x/main.py", line 3, in <module>
		frameRegex: regexp.MustCompile(`^\s*File "(.+)", line (\d+)`),
		// Matches: NameError: name 'x' is not defined
		exceptionRegex: regexp.MustCompile(`^([A-Za-z_][\w.]*)(?::\s?(.*))?$`),
		mainFile:       mainFile,
	}
}

// ParseTraceback extracts the exception and the innermost user-code line from
// a Python traceback. It returns false when no exception line is present.
func (p *Parser) ParseTraceback(stderr string) (Diagnostic, bool) {
	var diag Diagnostic
	found := false

	scanner := bufio.NewScanner(strings.NewReader(stderr))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := p.frameRegex.FindStringSubmatch(line); m != nil {
			if p.mainFile == "" || strings.HasSuffix(m[1], p.mainFile) {
				diag.Line, _ = strconv.Atoi(m[2])
			}
			continue
		}

		// Exception lines are not indented; source excerpts and carets are.
		if line[0] == ' ' || line[0] == '\t' || strings.HasPrefix(line, "Traceback ") {
			continue
		}
		if m := p.exceptionRegex.FindStringSubmatch(line); m != nil {
			diag.Kind = m[1]
			diag.Message = m[2]
			found = true
		}
	}

	diag.Severity = "error"
	return diag, found
}
