package sparql

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/flynn-ai/kgbridge/internal/graph"
)

// errType is an expression evaluation error. In a FILTER it makes the
// solution fail; in a projection it leaves the variable unbound.
var errType = errors.New("type error")

var errUnbound = errors.New("unbound variable")

type env struct {
	sol     Binding
	group   []Binding
	grouped bool
}

func (ev *evaluator) eval(e Expr, en *env) (graph.Term, error) {
	switch x := e.(type) {
	case VarExpr:
		if t, ok := en.sol[x.Name]; ok {
			return t, nil
		}
		return graph.Term{}, errUnbound
	case TermExpr:
		return x.Term, nil
	case UnaryExpr:
		return ev.evalUnary(x, en)
	case BinaryExpr:
		return ev.evalBinary(x, en)
	case InExpr:
		return ev.evalIn(x, en)
	case ExistsExpr:
		sols, err := ev.evalGroup(x.Group, []Binding{en.sol})
		if err != nil {
			return graph.Term{}, err
		}
		return graph.Bool((len(sols) > 0) != x.Not), nil
	case CallExpr:
		if aggregateNames[x.Name] {
			if !en.grouped {
				return graph.Term{}, fmt.Errorf("%s used outside an aggregate query: %w", x.Name, errType)
			}
			return ev.evalAggregate(x, en.group)
		}
		return ev.evalCall(x, en)
	}
	return graph.Term{}, fmt.Errorf("unsupported expression %T", e)
}

// ebv computes the effective boolean value of a term.
func ebv(t graph.Term) (bool, error) {
	if !t.IsLiteral() {
		return false, errType
	}
	if t.Datatype == graph.XSDBoolean {
		return t.Value == "true" || t.Value == "1", nil
	}
	if n, ok := toNumber(t); ok {
		return !n.isZero(), nil
	}
	if isStringLike(t) {
		return t.Value != "", nil
	}
	return false, errType
}

func (ev *evaluator) evalUnary(x UnaryExpr, en *env) (graph.Term, error) {
	v, err := ev.eval(x.X, en)
	if err != nil {
		return graph.Term{}, err
	}
	switch x.Op {
	case "!":
		b, err := ebv(v)
		if err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(!b), nil
	case "-":
		n, ok := toNumber(v)
		if !ok {
			return graph.Term{}, errType
		}
		return n.neg().term(), nil
	case "+":
		if _, ok := toNumber(v); !ok {
			return graph.Term{}, errType
		}
		return v, nil
	}
	return graph.Term{}, errType
}

func (ev *evaluator) evalBinary(x BinaryExpr, en *env) (graph.Term, error) {
	switch x.Op {
	case "||", "&&":
		return ev.evalLogical(x, en)
	}

	l, err := ev.eval(x.L, en)
	if err != nil {
		return graph.Term{}, err
	}
	r, err := ev.eval(x.R, en)
	if err != nil {
		return graph.Term{}, err
	}

	switch x.Op {
	case "=":
		eq, err := termsEqual(l, r)
		if err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(eq), nil
	case "!=":
		eq, err := termsEqual(l, r)
		if err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(!eq), nil
	case "<", ">", "<=", ">=":
		c, err := compareValues(l, r)
		if err != nil {
			return graph.Term{}, err
		}
		switch x.Op {
		case "<":
			return graph.Bool(c < 0), nil
		case ">":
			return graph.Bool(c > 0), nil
		case "<=":
			return graph.Bool(c <= 0), nil
		default:
			return graph.Bool(c >= 0), nil
		}
	case "+", "-", "*", "/":
		a, ok := toNumber(l)
		if !ok {
			return graph.Term{}, errType
		}
		b, ok := toNumber(r)
		if !ok {
			return graph.Term{}, errType
		}
		n, err := arith(x.Op, a, b)
		if err != nil {
			return graph.Term{}, err
		}
		return n.term(), nil
	}
	return graph.Term{}, fmt.Errorf("unknown operator %q", x.Op)
}

// evalLogical implements the three-valued || and && of SPARQL: an error
// on one side is absorbed when the other side decides the result.
func (ev *evaluator) evalLogical(x BinaryExpr, en *env) (graph.Term, error) {
	side := func(e Expr) (bool, error) {
		v, err := ev.eval(e, en)
		if err != nil {
			return false, err
		}
		return ebv(v)
	}
	lb, lerr := side(x.L)
	rb, rerr := side(x.R)

	if x.Op == "||" {
		if (lerr == nil && lb) || (rerr == nil && rb) {
			return graph.Bool(true), nil
		}
		if lerr != nil {
			return graph.Term{}, lerr
		}
		if rerr != nil {
			return graph.Term{}, rerr
		}
		return graph.Bool(false), nil
	}

	if (lerr == nil && !lb) || (rerr == nil && !rb) {
		return graph.Bool(false), nil
	}
	if lerr != nil {
		return graph.Term{}, lerr
	}
	if rerr != nil {
		return graph.Term{}, rerr
	}
	return graph.Bool(true), nil
}

func (ev *evaluator) evalIn(x InExpr, en *env) (graph.Term, error) {
	v, err := ev.eval(x.X, en)
	if err != nil {
		return graph.Term{}, err
	}
	var firstErr error
	for _, item := range x.List {
		w, err := ev.eval(item, en)
		if err == nil {
			var eq bool
			eq, err = termsEqual(v, w)
			if err == nil && eq {
				return graph.Bool(!x.Not), nil
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return graph.Term{}, firstErr
	}
	return graph.Bool(x.Not), nil
}

// ============================================================
// Value comparison
// ============================================================

func isStringLike(t graph.Term) bool {
	return t.IsLiteral() && (t.Lang != "" || t.Datatype == graph.XSDString)
}

func termsEqual(a, b graph.Term) (bool, error) {
	if a.IsLiteral() && b.IsLiteral() {
		if na, ok := toNumber(a); ok {
			if nb, ok := toNumber(b); ok {
				return na.cmp(nb) == 0, nil
			}
		}
		if a.Datatype == graph.XSDBoolean && b.Datatype == graph.XSDBoolean {
			ab, _ := ebv(a)
			bb, _ := ebv(b)
			return ab == bb, nil
		}
	}
	return a == b, nil
}

func compareValues(a, b graph.Term) (int, error) {
	if !a.IsLiteral() || !b.IsLiteral() {
		return 0, errType
	}
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na.cmp(nb), nil
		}
		return 0, errType
	}
	switch {
	case isStringLike(a) && isStringLike(b) && a.Lang == b.Lang:
		return strings.Compare(a.Value, b.Value), nil
	case a.Datatype == graph.XSDBoolean && b.Datatype == graph.XSDBoolean:
		ab, _ := ebv(a)
		bb, _ := ebv(b)
		switch {
		case ab == bb:
			return 0, nil
		case !ab:
			return -1, nil
		default:
			return 1, nil
		}
	case a.Datatype == b.Datatype && a.Datatype == graph.XSDDateTime:
		return strings.Compare(a.Value, b.Value), nil
	}
	return 0, errType
}

// ============================================================
// Numbers
// ============================================================

type numKind int

const (
	numInteger numKind = iota
	numDecimal
	numDouble
)

type number struct {
	kind numKind
	i    int64
	f    float64
}

var integerTypes = map[string]bool{
	graph.XSDInteger: true, graph.XSDInt: true, graph.XSDLong: true,
	graph.XSD + "short": true, graph.XSD + "byte": true,
	graph.XSD + "nonNegativeInteger": true, graph.XSD + "positiveInteger": true,
	graph.XSD + "nonPositiveInteger": true, graph.XSD + "negativeInteger": true,
	graph.XSD + "unsignedLong": true, graph.XSD + "unsignedInt": true,
	graph.XSD + "unsignedShort": true, graph.XSD + "unsignedByte": true,
}

func toNumber(t graph.Term) (number, bool) {
	if !t.IsLiteral() || t.Lang != "" {
		return number{}, false
	}
	v := strings.TrimSpace(t.Value)
	switch {
	case integerTypes[t.Datatype]:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return number{}, false
			}
			return number{kind: numDecimal, f: f}, true
		}
		return number{kind: numInteger, i: i, f: float64(i)}, true
	case t.Datatype == graph.XSDDecimal:
		f, err := strconv.ParseFloat(v, 64)
		return number{kind: numDecimal, f: f}, err == nil
	case t.Datatype == graph.XSDDouble || t.Datatype == graph.XSDFloat:
		f, err := strconv.ParseFloat(v, 64)
		return number{kind: numDouble, f: f}, err == nil
	}
	return number{}, false
}

func intNumber(i int64) number { return number{kind: numInteger, i: i, f: float64(i)} }

func (n number) isZero() bool {
	if n.kind == numInteger {
		return n.i == 0
	}
	return n.f == 0 || math.IsNaN(n.f)
}

func (n number) neg() number {
	if n.kind == numInteger {
		return intNumber(-n.i)
	}
	return number{kind: n.kind, f: -n.f}
}

func (n number) cmp(m number) int {
	if n.kind == numInteger && m.kind == numInteger {
		switch {
		case n.i < m.i:
			return -1
		case n.i > m.i:
			return 1
		}
		return 0
	}
	switch {
	case n.f < m.f:
		return -1
	case n.f > m.f:
		return 1
	}
	return 0
}

func (n number) term() graph.Term {
	switch n.kind {
	case numInteger:
		return graph.Integer(n.i)
	case numDecimal:
		s := strconv.FormatFloat(n.f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return graph.Literal(s, graph.XSDDecimal)
	default:
		return graph.Literal(strconv.FormatFloat(n.f, 'E', -1, 64), graph.XSDDouble)
	}
}

func arith(op string, a, b number) (number, error) {
	kind := max(a.kind, b.kind)
	if op == "/" && kind == numInteger {
		kind = numDecimal
	}

	if kind == numInteger {
		switch op {
		case "+":
			return intNumber(a.i + b.i), nil
		case "-":
			return intNumber(a.i - b.i), nil
		case "*":
			return intNumber(a.i * b.i), nil
		}
	}

	var f float64
	switch op {
	case "+":
		f = a.f + b.f
	case "-":
		f = a.f - b.f
	case "*":
		f = a.f * b.f
	case "/":
		if b.f == 0 && kind != numDouble {
			return number{}, fmt.Errorf("division by zero: %w", errType)
		}
		f = a.f / b.f
	}
	return number{kind: kind, f: f}, nil
}

// ============================================================
// Builtin functions
// ============================================================

func (ev *evaluator) evalCall(x CallExpr, en *env) (graph.Term, error) {
	switch x.Name {
	case "BOUND":
		_, ok := en.sol[x.Args[0].(VarExpr).Name]
		return graph.Bool(ok), nil
	case "COALESCE":
		for _, a := range x.Args {
			if v, err := ev.eval(a, en); err == nil {
				return v, nil
			}
		}
		return graph.Term{}, errType
	case "IF":
		if len(x.Args) != 3 {
			return graph.Term{}, errType
		}
		c, err := ev.eval(x.Args[0], en)
		if err != nil {
			return graph.Term{}, err
		}
		b, err := ebv(c)
		if err != nil {
			return graph.Term{}, err
		}
		if b {
			return ev.eval(x.Args[1], en)
		}
		return ev.eval(x.Args[2], en)
	}

	args := make([]graph.Term, len(x.Args))
	for i, a := range x.Args {
		v, err := ev.eval(a, en)
		if err != nil {
			return graph.Term{}, err
		}
		args[i] = v
	}

	if castNames[x.Name] {
		return cast(x.Name, args[0])
	}

	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d arguments: %w", x.Name, n, errType)
		}
		return nil
	}

	switch x.Name {
	case "STR":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		if args[0].IsBlank() {
			return graph.Term{}, errType
		}
		return graph.Literal(args[0].Value, graph.XSDString), nil
	case "LANG":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		if !args[0].IsLiteral() {
			return graph.Term{}, errType
		}
		return graph.Literal(args[0].Lang, graph.XSDString), nil
	case "DATATYPE":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		if !args[0].IsLiteral() {
			return graph.Term{}, errType
		}
		return graph.IRI(args[0].EffectiveDatatype()), nil
	case "ISIRI", "ISURI":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(args[0].IsIRI()), nil
	case "ISBLANK":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(args[0].IsBlank()), nil
	case "ISLITERAL":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(args[0].IsLiteral()), nil
	case "ISNUMERIC":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		_, ok := toNumber(args[0])
		return graph.Bool(ok), nil
	case "SAMETERM":
		if err := need(2); err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(args[0] == args[1]), nil
	case "STRLEN":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		if !args[0].IsLiteral() {
			return graph.Term{}, errType
		}
		return graph.Integer(int64(utf8.RuneCountInString(args[0].Value))), nil
	case "LCASE", "UCASE":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		if !isStringLike(args[0]) {
			return graph.Term{}, errType
		}
		out := args[0]
		if x.Name == "LCASE" {
			out.Value = strings.ToLower(out.Value)
		} else {
			out.Value = strings.ToUpper(out.Value)
		}
		return out, nil
	case "CONTAINS", "STRSTARTS", "STRENDS", "STRBEFORE", "STRAFTER":
		if err := need(2); err != nil {
			return graph.Term{}, err
		}
		if !args[0].IsLiteral() || !args[1].IsLiteral() {
			return graph.Term{}, errType
		}
		return stringOp(x.Name, args[0], args[1].Value), nil
	case "CONCAT":
		var sb strings.Builder
		for _, a := range args {
			if !a.IsLiteral() {
				return graph.Term{}, errType
			}
			sb.WriteString(a.Value)
		}
		return graph.Literal(sb.String(), graph.XSDString), nil
	case "LANGMATCHES":
		if err := need(2); err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(langMatches(args[0].Value, args[1].Value)), nil
	case "REGEX":
		if len(args) != 2 && len(args) != 3 {
			return graph.Term{}, errType
		}
		if !args[0].IsLiteral() {
			return graph.Term{}, errType
		}
		flags := ""
		if len(args) == 3 {
			flags = args[2].Value
		}
		re, err := ev.regex(args[1].Value, flags)
		if err != nil {
			return graph.Term{}, err
		}
		return graph.Bool(re.MatchString(args[0].Value)), nil
	case "ABS":
		if err := need(1); err != nil {
			return graph.Term{}, err
		}
		n, ok := toNumber(args[0])
		if !ok {
			return graph.Term{}, errType
		}
		if n.cmp(intNumber(0)) < 0 {
			n = n.neg()
		}
		return n.term(), nil
	}
	return graph.Term{}, fmt.Errorf("unsupported function %s", x.Name)
}

func stringOp(name string, a graph.Term, b string) graph.Term {
	switch name {
	case "CONTAINS":
		return graph.Bool(strings.Contains(a.Value, b))
	case "STRSTARTS":
		return graph.Bool(strings.HasPrefix(a.Value, b))
	case "STRENDS":
		return graph.Bool(strings.HasSuffix(a.Value, b))
	case "STRBEFORE":
		before, _, ok := strings.Cut(a.Value, b)
		if !ok {
			return graph.Literal("", graph.XSDString)
		}
		out := a
		out.Value = before
		return out
	default:
		_, after, ok := strings.Cut(a.Value, b)
		if !ok {
			return graph.Literal("", graph.XSDString)
		}
		out := a
		out.Value = after
		return out
	}
}

func langMatches(tag, rng string) bool {
	if rng == "*" {
		return tag != ""
	}
	tag, rng = strings.ToLower(tag), strings.ToLower(rng)
	return tag == rng || strings.HasPrefix(tag, rng+"-")
}

func (ev *evaluator) regex(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	if re, ok := ev.regexes[key]; ok {
		return re, nil
	}
	var goFlags strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			goFlags.WriteRune(f)
		case 'x', 'q':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q: %w", f, errType)
		}
	}
	src := pattern
	if strings.ContainsRune(flags, 'q') {
		src = regexp.QuoteMeta(pattern)
	}
	if goFlags.Len() > 0 {
		src = "(?" + goFlags.String() + ")" + src
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("bad regex %q: %w", pattern, errType)
	}
	ev.regexes[key] = re
	return re, nil
}

func cast(datatype string, v graph.Term) (graph.Term, error) {
	if v.IsBlank() {
		return graph.Term{}, errType
	}
	lex := strings.TrimSpace(v.Value)
	switch datatype {
	case graph.XSDString:
		return graph.Literal(v.Value, graph.XSDString), nil
	case graph.XSDBoolean:
		switch lex {
		case "true", "1":
			return graph.Bool(true), nil
		case "false", "0":
			return graph.Bool(false), nil
		}
		if n, ok := toNumber(v); ok {
			return graph.Bool(!n.isZero()), nil
		}
	case graph.XSDInteger:
		if n, ok := toNumber(v); ok {
			if n.kind == numInteger {
				return n.term(), nil
			}
			return graph.Integer(int64(n.f)), nil
		}
		if i, err := strconv.ParseInt(lex, 10, 64); err == nil {
			return graph.Integer(i), nil
		}
	case graph.XSDDecimal, graph.XSDDouble:
		f, err := strconv.ParseFloat(lex, 64)
		if err == nil {
			kind := numDecimal
			if datatype == graph.XSDDouble {
				kind = numDouble
			}
			return number{kind: kind, f: f}.term(), nil
		}
	}
	return graph.Term{}, errType
}
