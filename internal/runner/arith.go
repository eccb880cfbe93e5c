package runner

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

// number is a Python-like numeric value. Integers have arbitrary precision
// and stay integers until an operation such as true division produces a float.
type number struct {
	i       *big.Int
	f       float64
	isFloat bool
}

func intNumber(v int64) number { return number{i: big.NewInt(v)} }

func floatNumber(f float64) number { return number{f: f, isFloat: true} }

// int returns the integer value; the zero number is 0.
func (n number) int() *big.Int {
	if n.i == nil {
		return new(big.Int)
	}
	return n.i
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	f, _ := new(big.Float).SetInt(n.int()).Float64()
	return f
}

func (n number) isZero() bool {
	if n.isFloat {
		return n.f == 0
	}
	return n.int().Sign() == 0
}

func (n number) neg() number {
	if n.isFloat {
		return floatNumber(-n.f)
	}
	return number{i: new(big.Int).Neg(n.int())}
}

// String formats like Python's repr: shortest round-trip digits, with
// exponent notation outside 1e-4 <= |v| < 1e16.
func (n number) String() string {
	if !n.isFloat {
		return n.int().String()
	}
	v := n.f
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	if v != 0 {
		e := strconv.FormatFloat(v, 'e', -1, 64)
		exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
		if exp < -4 || exp >= 16 {
			return e
		}
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

var (
	errBadExpression = errors.New("not a simple arithmetic expression")
	errZeroDivision  = errors.New("division by zero")
	errTooLarge      = errors.New("integer result too large")
)

// evalArithmetic evaluates +, -, *, /, //, %, ** and parentheses over numeric
// literals and numeric variables.
func evalArithmetic(expr string, lookup func(string) (number, bool)) (number, error) {
	p := &arithParser{src: expr, lookup: lookup}
	p.next()
	n, err := p.parseSum()
	if err != nil {
		return number{}, err
	}
	if p.tok != "" {
		return number{}, errBadExpression
	}
	return n, nil
}

type arithParser struct {
	src    string
	pos    int
	tok    string
	lookup func(string) (number, bool)
}

func (p *arithParser) next() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = ""
		return
	}
	start := p.pos
	c := rune(p.src[p.pos])
	switch {
	case unicode.IsDigit(c) || c == '.':
		for p.pos < len(p.src) && (unicode.IsDigit(rune(p.src[p.pos])) || p.src[p.pos] == '.' || p.src[p.pos] == '_') {
			p.pos++
		}
	case unicode.IsLetter(c) || c == '_':
		for p.pos < len(p.src) && (unicode.IsLetter(rune(p.src[p.pos])) || unicode.IsDigit(rune(p.src[p.pos])) || p.src[p.pos] == '_') {
			p.pos++
		}
	case strings.HasPrefix(p.src[p.pos:], "**"), strings.HasPrefix(p.src[p.pos:], "//"):
		p.pos += 2
	default:
		p.pos++
	}
	p.tok = p.src[start:p.pos]
}

func (p *arithParser) parseSum() (number, error) {
	left, err := p.parseProduct()
	if err != nil {
		return number{}, err
	}
	for p.tok == "+" || p.tok == "-" {
		op := p.tok
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return number{}, err
		}
		if left, err = combine(op, left, right); err != nil {
			return number{}, err
		}
	}
	return left, nil
}

func (p *arithParser) parseProduct() (number, error) {
	left, err := p.parseUnary()
	if err != nil {
		return number{}, err
	}
	for p.tok == "*" || p.tok == "/" || p.tok == "//" || p.tok == "%" {
		op := p.tok
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		if right.isZero() && op != "*" {
			return number{}, errZeroDivision
		}
		if left, err = combine(op, left, right); err != nil {
			return number{}, err
		}
	}
	return left, nil
}

func (p *arithParser) parseUnary() (number, error) {
	if p.tok == "-" || p.tok == "+" {
		op := p.tok
		p.next()
		n, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		if op == "-" {
			n = n.neg()
		}
		return n, nil
	}
	return p.parsePower()
}

func (p *arithParser) parsePower() (number, error) {
	base, err := p.parseAtom()
	if err != nil {
		return number{}, err
	}
	if p.tok != "**" {
		return base, nil
	}
	p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return number{}, err
	}
	return combine("**", base, exp)
}

func (p *arithParser) parseAtom() (number, error) {
	tok := p.tok
	switch {
	case tok == "":
		return number{}, errBadExpression
	case tok == "(":
		p.next()
		n, err := p.parseSum()
		if err != nil {
			return number{}, err
		}
		if p.tok != ")" {
			return number{}, errBadExpression
		}
		p.next()
		return n, nil
	case unicode.IsDigit(rune(tok[0])) || tok[0] == '.':
		p.next()
		return parseNumber(tok)
	case unicode.IsLetter(rune(tok[0])) || tok[0] == '_':
		p.next()
		if p.lookup != nil {
			if n, ok := p.lookup(tok); ok {
				return n, nil
			}
		}
		return number{}, fmt.Errorf("name %q is not a number", tok)
	}
	return number{}, errBadExpression
}

func parseNumber(s string) (number, error) {
	clean := strings.ReplaceAll(s, "_", "")
	if i, ok := new(big.Int).SetString(clean, 10); ok {
		return number{i: i}, nil
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return number{}, errBadExpression
	}
	return floatNumber(f), nil
}

// maxIntBits bounds integer results so an expression like 9 ** 9 ** 9
// cannot exhaust memory.
const maxIntBits = 1 << 16

func combine(op string, a, b number) (number, error) {
	if a.isFloat || b.isFloat || op == "/" {
		return combineFloat(op, a, b), nil
	}
	x, y := a.int(), b.int()
	r := new(big.Int)
	switch op {
	case "+":
		r.Add(x, y)
	case "-":
		r.Sub(x, y)
	case "*":
		r.Mul(x, y)
	case "//", "%":
		q, m := new(big.Int).QuoRem(x, y, new(big.Int))
		// Python rounds toward negative infinity.
		if m.Sign() != 0 && (m.Sign() < 0) != (y.Sign() < 0) {
			q.Sub(q, big.NewInt(1))
			m.Add(m, y)
		}
		if op == "//" {
			return number{i: q}, nil
		}
		return number{i: m}, nil
	case "**":
		if y.Sign() < 0 {
			return combineFloat(op, a, b), nil
		}
		if !y.IsInt64() || y.Int64() > maxIntBits || int64(x.BitLen())*y.Int64() > maxIntBits {
			if x.CmpAbs(big.NewInt(1)) > 0 {
				return number{}, errTooLarge
			}
		}
		r.Exp(x, y, nil)
	default:
		return number{}, errBadExpression
	}
	return number{i: r}, nil
}

func combineFloat(op string, a, b number) number {
	x, y := a.float(), b.float()
	switch op {
	case "+":
		return floatNumber(x + y)
	case "-":
		return floatNumber(x - y)
	case "*":
		return floatNumber(x * y)
	case "/":
		if !a.isFloat && !b.isFloat {
			f, _ := new(big.Rat).SetFrac(a.int(), b.int()).Float64()
			return floatNumber(f)
		}
		return floatNumber(x / y)
	case "//":
		return floatNumber(math.Floor(x / y))
	case "%":
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return floatNumber(m)
	case "**":
		return floatNumber(math.Pow(x, y))
	}
	return number{}
}
