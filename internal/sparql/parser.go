package sparql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/flynn-ai/kgbridge/internal/graph"
)

var functionNames = map[string]bool{
	"BOUND": true, "STR": true, "LANG": true, "DATATYPE": true,
	"ISIRI": true, "ISURI": true, "ISLITERAL": true, "ISBLANK": true, "ISNUMERIC": true,
	"REGEX": true, "CONTAINS": true, "STRSTARTS": true, "STRENDS": true,
	"STRBEFORE": true, "STRAFTER": true, "CONCAT": true,
	"LCASE": true, "UCASE": true, "STRLEN": true, "LANGMATCHES": true,
	"SAMETERM": true, "COALESCE": true, "IF": true, "ABS": true,
}

var castNames = map[string]bool{
	graph.XSDString: true, graph.XSDInteger: true, graph.XSDDecimal: true,
	graph.XSDDouble: true, graph.XSDBoolean: true,
}

// Parse parses a SELECT or ASK query. Other query forms and features
// outside the supported subset are reported as syntax errors.
func Parse(src string) (*Query, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{
		toks:     toks,
		prefixes: make(map[string]string),
		seenVars: make(map[string]bool),
	}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	q.patternVars = p.vars
	if err := validateGrouping(q); err != nil {
		return nil, err
	}
	return q, nil
}

type parser struct {
	toks     []token
	pos      int
	prefixes map[string]string
	base     string
	blankSeq int
	vars     []string
	seenVars map[string]bool
}

func (p *parser) peek() token       { return p.toks[p.pos] }
func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokKeyword && strings.EqualFold(t.text, word)
}

func (p *parser) acceptKeyword(word string) bool {
	if p.isKeyword(word) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectKeyword(word string) error {
	if !p.acceptKeyword(word) {
		return p.errorf(p.peek(), "expected %s, found %s", word, p.peek())
	}
	return nil
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) acceptPunct(s string) bool {
	if p.isPunct(s) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectPunct(s string) error {
	if !p.acceptPunct(s) {
		return p.errorf(p.peek(), "expected %q, found %s", s, p.peek())
	}
	return nil
}

func (p *parser) useVar(name string) {
	if strings.HasPrefix(name, blankVarPrefix) || p.seenVars[name] {
		return
	}
	p.seenVars[name] = true
	p.vars = append(p.vars, name)
}

func (p *parser) freshBlank() string {
	p.blankSeq++
	return fmt.Sprintf("%sanon%d", blankVarPrefix, p.blankSeq)
}

// ============================================================
// Prologue and query forms
// ============================================================

func (p *parser) parseQuery() (*Query, error) {
prologue:
	for {
		switch {
		case p.acceptKeyword("BASE"):
			t := p.advance()
			if t.kind != tokIRI {
				return nil, p.errorf(t, "BASE needs an IRI")
			}
			p.base = t.text
		case p.acceptKeyword("PREFIX"):
			t := p.advance()
			if t.kind != tokPName || !strings.HasSuffix(t.text, ":") {
				return nil, p.errorf(t, "PREFIX needs a name ending in ':'")
			}
			iri := p.advance()
			if iri.kind != tokIRI {
				return nil, p.errorf(iri, "PREFIX %s needs an IRI", t.text)
			}
			p.prefixes[strings.TrimSuffix(t.text, ":")] = p.resolve(iri.text)
		default:
			break prologue
		}
	}

	var q *Query
	var err error
	switch {
	case p.acceptKeyword("SELECT"):
		q, err = p.parseSelect()
	case p.acceptKeyword("ASK"):
		q, err = p.parseAsk()
	case p.isKeyword("CONSTRUCT"), p.isKeyword("DESCRIBE"):
		return nil, p.errorf(p.peek(), "%s queries are not supported", strings.ToUpper(p.peek().text))
	default:
		return nil, p.errorf(p.peek(), "expected SELECT or ASK, found %s", p.peek())
	}
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s after query", t)
	}
	return q, nil
}

func (p *parser) resolve(iri string) string {
	if p.base == "" || strings.Contains(iri, ":") {
		return iri
	}
	base, err := url.Parse(p.base)
	if err != nil {
		return iri
	}
	ref, err := url.Parse(iri)
	if err != nil {
		return iri
	}
	return base.ResolveReference(ref).String()
}

func (p *parser) parseSelect() (*Query, error) {
	q := &Query{Form: FormSelect, Limit: -1}

	if p.acceptKeyword("DISTINCT") {
		q.Distinct = true
	} else {
		p.acceptKeyword("REDUCED")
	}

	if p.acceptPunct("*") {
		q.Star = true
	} else {
		for {
			t := p.peek()
			if t.kind == tokVar {
				p.advance()
				q.Project = append(q.Project, Projection{Var: t.text})
				continue
			}
			if p.acceptPunct("(") {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				if err := p.expectKeyword("AS"); err != nil {
					return nil, err
				}
				v := p.advance()
				if v.kind != tokVar {
					return nil, p.errorf(v, "expected variable after AS")
				}
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
				q.Project = append(q.Project, Projection{Var: v.text, Expr: e})
				continue
			}
			break
		}
		if len(q.Project) == 0 {
			return nil, p.errorf(p.peek(), "SELECT needs '*' or at least one variable")
		}
	}

	if p.isKeyword("FROM") {
		return nil, p.errorf(p.peek(), "FROM clauses are not supported")
	}
	p.acceptKeyword("WHERE")

	g, err := p.parseGroup()
	if err != nil {
		return nil, err
	}
	q.Where = g

	if err := p.parseModifiers(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) parseAsk() (*Query, error) {
	q := &Query{Form: FormAsk, Limit: -1}
	p.acceptKeyword("WHERE")
	g, err := p.parseGroup()
	if err != nil {
		return nil, err
	}
	q.Where = g
	if err := p.parseModifiers(q); err != nil {
		return nil, err
	}
	return q, nil
}

// ============================================================
// Solution modifiers
// ============================================================

func (p *parser) parseModifiers(q *Query) error {
	if p.acceptKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
	group:
		for {
			t := p.peek()
			switch {
			case t.kind == tokVar:
				p.advance()
				q.GroupBy = append(q.GroupBy, Projection{Var: t.text})
			case p.acceptPunct("("):
				e, err := p.parseExpr()
				if err != nil {
					return err
				}
				proj := Projection{Expr: e}
				if p.acceptKeyword("AS") {
					v := p.advance()
					if v.kind != tokVar {
						return p.errorf(v, "expected variable after AS")
					}
					proj.Var = v.text
				}
				if err := p.expectPunct(")"); err != nil {
					return err
				}
				q.GroupBy = append(q.GroupBy, proj)
			case p.isCallStart():
				e, err := p.parsePrimaryExpr()
				if err != nil {
					return err
				}
				q.GroupBy = append(q.GroupBy, Projection{Expr: e})
			default:
				if len(q.GroupBy) == 0 {
					return p.errorf(t, "GROUP BY needs at least one condition")
				}
				break group
			}
		}
	}

	if p.acceptKeyword("HAVING") {
		for p.isPunct("(") || p.isCallStart() {
			e, err := p.parsePrimaryExpr()
			if err != nil {
				return err
			}
			q.Having = append(q.Having, e)
		}
		if len(q.Having) == 0 {
			return p.errorf(p.peek(), "HAVING needs a constraint")
		}
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
	order:
		for {
			t := p.peek()
			switch {
			case p.isKeyword("ASC"), p.isKeyword("DESC"):
				desc := p.isKeyword("DESC")
				p.advance()
				if !p.isPunct("(") {
					return p.errorf(p.peek(), "expected '(' after %s", strings.ToUpper(t.text))
				}
				e, err := p.parsePrimaryExpr()
				if err != nil {
					return err
				}
				q.OrderBy = append(q.OrderBy, OrderKey{Expr: e, Desc: desc})
			case t.kind == tokVar:
				p.advance()
				q.OrderBy = append(q.OrderBy, OrderKey{Expr: VarExpr{Name: t.text}})
			case p.isPunct("("), p.isCallStart():
				e, err := p.parsePrimaryExpr()
				if err != nil {
					return err
				}
				q.OrderBy = append(q.OrderBy, OrderKey{Expr: e})
			default:
				if len(q.OrderBy) == 0 {
					return p.errorf(t, "ORDER BY needs at least one condition")
				}
				break order
			}
		}
	}

	for {
		switch {
		case p.acceptKeyword("LIMIT"):
			n, err := p.parseNonNegative("LIMIT")
			if err != nil {
				return err
			}
			q.Limit = n
		case p.acceptKeyword("OFFSET"):
			n, err := p.parseNonNegative("OFFSET")
			if err != nil {
				return err
			}
			q.Offset = n
		default:
			return nil
		}
	}
}

func (p *parser) parseNonNegative(clause string) (int, error) {
	t := p.advance()
	if t.kind != tokInteger {
		return 0, p.errorf(t, "%s needs an integer", clause)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, p.errorf(t, "%s out of range", clause)
	}
	return n, nil
}

// ============================================================
// Group graph patterns
// ============================================================

func (p *parser) parseGroup() (*Group, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	if p.isKeyword("SELECT") {
		return nil, p.errorf(p.peek(), "sub-queries are not supported")
	}

	g := &Group{}
	var cur *BGP
	flush := func() {
		if cur != nil && len(cur.Triples) > 0 {
			g.Elements = append(g.Elements, *cur)
		}
		cur = nil
	}

	for !p.isPunct("}") {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return nil, p.errorf(t, "unterminated group pattern")
		case p.acceptKeyword("OPTIONAL"):
			flush()
			sub, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			g.Elements = append(g.Elements, Optional{Group: sub})
		case p.acceptKeyword("MINUS"):
			flush()
			sub, err := p.parseScopedGroup()
			if err != nil {
				return nil, err
			}
			g.Elements = append(g.Elements, Minus{Group: sub})
		case p.acceptKeyword("FILTER"):
			e, err := p.parsePrimaryExpr()
			if err != nil {
				return nil, err
			}
			g.Filters = append(g.Filters, e)
		case p.acceptKeyword("BIND"):
			flush()
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			v := p.advance()
			if v.kind != tokVar {
				return nil, p.errorf(v, "expected variable after AS")
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			p.useVar(v.text)
			g.Elements = append(g.Elements, Bind{Expr: e, Var: v.text})
		case p.isKeyword("VALUES"), p.isKeyword("SERVICE"), p.isKeyword("GRAPH"):
			return nil, p.errorf(t, "%s is not supported", strings.ToUpper(t.text))
		case p.isPunct("{"):
			flush()
			first, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			if !p.isKeyword("UNION") {
				g.Elements = append(g.Elements, SubGroup{Group: first})
				break
			}
			u := Union{Branches: []*Group{first}}
			for p.acceptKeyword("UNION") {
				next, err := p.parseGroup()
				if err != nil {
					return nil, err
				}
				u.Branches = append(u.Branches, next)
			}
			g.Elements = append(g.Elements, u)
		default:
			if cur == nil {
				cur = &BGP{}
			}
			triples, err := p.parseTriplesSameSubject()
			if err != nil {
				return nil, err
			}
			cur.Triples = append(cur.Triples, triples...)
			if !p.acceptPunct(".") && !p.isPunct("}") && !p.isGroupKeyword() && !p.isPunct("{") {
				return nil, p.errorf(p.peek(), "expected '.' or '}' after triple, found %s", p.peek())
			}
			continue
		}
		p.acceptPunct(".")
	}
	flush()
	p.advance()
	return g, nil
}

// parseScopedGroup parses a group whose variables do not become visible
// to SELECT *, as for MINUS and EXISTS.
func (p *parser) parseScopedGroup() (*Group, error) {
	saved := len(p.vars)
	g, err := p.parseGroup()
	for _, v := range p.vars[saved:] {
		delete(p.seenVars, v)
	}
	p.vars = p.vars[:saved]
	return g, err
}

func (p *parser) isGroupKeyword() bool {
	for _, kw := range []string{"OPTIONAL", "MINUS", "FILTER", "BIND", "VALUES", "SERVICE", "GRAPH"} {
		if p.isKeyword(kw) {
			return true
		}
	}
	return false
}

// ============================================================
// Triples
// ============================================================

func (p *parser) parseTriplesSameSubject() ([]TriplePattern, error) {
	var out []TriplePattern

	if p.isPunct("[") {
		subj, err := p.parseBlankNodePropertyList(&out)
		if err != nil {
			return nil, err
		}
		if p.isVerbStart() {
			if err := p.parsePropertyList(subj, &out); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	subj, err := p.parseVarOrTerm()
	if err != nil {
		return nil, err
	}
	if err := p.parsePropertyList(subj, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) isVerbStart() bool {
	t := p.peek()
	switch t.kind {
	case tokVar, tokIRI, tokPName:
		return true
	case tokKeyword:
		return t.text == "a"
	case tokPunct:
		return t.text == "^" || t.text == "(" || t.text == "!"
	}
	return false
}

func (p *parser) parsePropertyList(subj Node, out *[]TriplePattern) error {
	if !p.isVerbStart() {
		return p.errorf(p.peek(), "expected predicate, found %s", p.peek())
	}
	for {
		var verb Node
		var path Path
		if t := p.peek(); t.kind == tokVar {
			p.advance()
			p.useVar(t.text)
			verb = Node{Var: t.text}
		} else {
			pp, err := p.parsePath()
			if err != nil {
				return err
			}
			if link, ok := pp.(LinkPath); ok {
				verb = Node{Term: link.IRI}
			} else {
				path = pp
			}
		}

		for {
			obj, err := p.parseObject(out)
			if err != nil {
				return err
			}
			*out = append(*out, TriplePattern{S: subj, P: verb, Path: path, O: obj})
			if !p.acceptPunct(",") {
				break
			}
		}

		if !p.acceptPunct(";") {
			return nil
		}
		for p.acceptPunct(";") {
		}
		if !p.isVerbStart() {
			return nil
		}
	}
}

func (p *parser) parseObject(out *[]TriplePattern) (Node, error) {
	if p.isPunct("[") {
		return p.parseBlankNodePropertyList(out)
	}
	return p.parseVarOrTerm()
}

func (p *parser) parseBlankNodePropertyList(out *[]TriplePattern) (Node, error) {
	if err := p.expectPunct("["); err != nil {
		return Node{}, err
	}
	n := Node{Var: p.freshBlank()}
	if p.acceptPunct("]") {
		return n, nil
	}
	if err := p.parsePropertyList(n, out); err != nil {
		return Node{}, err
	}
	if err := p.expectPunct("]"); err != nil {
		return Node{}, err
	}
	return n, nil
}

func (p *parser) parseVarOrTerm() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tokVar:
		p.advance()
		p.useVar(t.text)
		return Node{Var: t.text}, nil
	case tokBlank:
		p.advance()
		return Node{Var: blankVarPrefix + t.text}, nil
	}
	term, err := p.parseTerm()
	if err != nil {
		return Node{}, err
	}
	return Node{Term: term}, nil
}

// parseTerm parses an IRI, prefixed name or literal.
func (p *parser) parseTerm() (graph.Term, error) {
	t := p.advance()
	switch t.kind {
	case tokIRI:
		return graph.IRI(p.resolve(t.text)), nil
	case tokPName:
		iri, err := p.expandPName(t)
		if err != nil {
			return graph.Term{}, err
		}
		return graph.IRI(iri), nil
	case tokString:
		if lt := p.peek(); lt.kind == tokLangTag {
			p.advance()
			return graph.LangLiteral(t.text, lt.text), nil
		}
		if p.acceptPunct("^^") {
			dt := p.advance()
			switch dt.kind {
			case tokIRI:
				return graph.Literal(t.text, p.resolve(dt.text)), nil
			case tokPName:
				iri, err := p.expandPName(dt)
				if err != nil {
					return graph.Term{}, err
				}
				return graph.Literal(t.text, iri), nil
			default:
				return graph.Term{}, p.errorf(dt, "expected datatype IRI after ^^")
			}
		}
		return graph.Literal(t.text, graph.XSDString), nil
	case tokInteger:
		return graph.Literal(t.text, graph.XSDInteger), nil
	case tokDecimal:
		return graph.Literal(t.text, graph.XSDDecimal), nil
	case tokDouble:
		return graph.Literal(t.text, graph.XSDDouble), nil
	case tokKeyword:
		switch {
		case t.text == "a":
			return graph.IRI(graph.RDFType), nil
		case strings.EqualFold(t.text, "true"):
			return graph.Bool(true), nil
		case strings.EqualFold(t.text, "false"):
			return graph.Bool(false), nil
		}
	case tokPunct:
		if (t.text == "-" || t.text == "+") && isNumberToken(p.peek()) {
			n := p.advance()
			lit, _ := p.numberLiteral(n)
			if t.text == "-" {
				lit.Value = "-" + lit.Value
			}
			return lit, nil
		}
	}
	return graph.Term{}, p.errorf(t, "expected RDF term, found %s", t)
}

func isNumberToken(t token) bool {
	return t.kind == tokInteger || t.kind == tokDecimal || t.kind == tokDouble
}

func (p *parser) numberLiteral(t token) (graph.Term, bool) {
	switch t.kind {
	case tokInteger:
		return graph.Literal(t.text, graph.XSDInteger), true
	case tokDecimal:
		return graph.Literal(t.text, graph.XSDDecimal), true
	case tokDouble:
		return graph.Literal(t.text, graph.XSDDouble), true
	}
	return graph.Term{}, false
}

func (p *parser) expandPName(t token) (string, error) {
	prefix, local, _ := strings.Cut(t.text, ":")
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", p.errorf(t, "undefined prefix %q", prefix+":")
	}
	return ns + unescapeLocal(local), nil
}

func unescapeLocal(local string) string {
	if !strings.Contains(local, "%") {
		return local
	}
	if s, err := url.PathUnescape(local); err == nil {
		return s
	}
	return local
}

// ============================================================
// Property paths
// ============================================================

func (p *parser) parsePath() (Path, error) {
	first, err := p.parsePathSeq()
	if err != nil {
		return nil, err
	}
	if !p.isPunct("|") {
		return first, nil
	}
	alt := AltPath{Alts: []Path{first}}
	for p.acceptPunct("|") {
		next, err := p.parsePathSeq()
		if err != nil {
			return nil, err
		}
		alt.Alts = append(alt.Alts, next)
	}
	return alt, nil
}

func (p *parser) parsePathSeq() (Path, error) {
	first, err := p.parsePathEltOrInverse()
	if err != nil {
		return nil, err
	}
	if !p.isPunct("/") {
		return first, nil
	}
	seq := SeqPath{Parts: []Path{first}}
	for p.acceptPunct("/") {
		next, err := p.parsePathEltOrInverse()
		if err != nil {
			return nil, err
		}
		seq.Parts = append(seq.Parts, next)
	}
	return seq, nil
}

func (p *parser) parsePathEltOrInverse() (Path, error) {
	if p.acceptPunct("^") {
		elt, err := p.parsePathElt()
		if err != nil {
			return nil, err
		}
		return InversePath{Sub: elt}, nil
	}
	return p.parsePathElt()
}

func (p *parser) parsePathElt() (Path, error) {
	prim, err := p.parsePathPrimary()
	if err != nil {
		return nil, err
	}
	for _, mod := range []string{"?", "*", "+"} {
		if p.acceptPunct(mod) {
			return ModPath{Sub: prim, Mod: mod[0]}, nil
		}
	}
	return prim, nil
}

func (p *parser) parsePathPrimary() (Path, error) {
	t := p.peek()
	switch {
	case t.kind == tokIRI || t.kind == tokPName || (t.kind == tokKeyword && t.text == "a"):
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return LinkPath{IRI: term}, nil
	case p.acceptPunct("("):
		inner, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case p.isPunct("!"):
		return nil, p.errorf(t, "negated property sets are not supported")
	}
	return nil, p.errorf(t, "expected predicate, found %s", t)
}

// ============================================================
// Expressions
// ============================================================

func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "||", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct("&&") {
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "&&", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"=", "!=", "<=", ">=", "<", ">"} {
		if p.acceptPunct(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return BinaryExpr{Op: op, L: left, R: right}, nil
		}
	}

	not := false
	if p.isKeyword("NOT") && p.peekAt(1).kind == tokKeyword && strings.EqualFold(p.peekAt(1).text, "IN") {
		p.advance()
		not = true
	}
	if p.acceptKeyword("IN") {
		list, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return InExpr{X: left, List: list, Not: not}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.advance().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	for _, op := range []string{"!", "-", "+"} {
		if p.acceptPunct(op) {
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return UnaryExpr{Op: op, X: x}, nil
		}
	}
	return p.parsePrimaryExpr()
}

func (p *parser) isCallStart() bool {
	t := p.peek()
	if t.kind != tokKeyword {
		return false
	}
	name := strings.ToUpper(t.text)
	if name == "EXISTS" || name == "NOT" {
		return true
	}
	return (functionNames[name] || aggregateNames[name]) && p.peekAt(1).kind == tokPunct && p.peekAt(1).text == "("
}

func (p *parser) parsePrimaryExpr() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokPunct:
		if p.acceptPunct("(") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case tokVar:
		p.advance()
		return VarExpr{Name: t.text}, nil
	case tokString, tokInteger, tokDecimal, tokDouble:
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return TermExpr{Term: term}, nil
	case tokIRI, tokPName:
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			if !castNames[term.Value] {
				return nil, p.errorf(t, "unsupported function <%s>", term.Value)
			}
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf(t, "cast takes exactly one argument")
			}
			return CallExpr{Name: term.Value, Args: args}, nil
		}
		return TermExpr{Term: term}, nil
	case tokKeyword:
		name := strings.ToUpper(t.text)
		switch {
		case name == "TRUE" || name == "FALSE":
			p.advance()
			return TermExpr{Term: graph.Bool(name == "TRUE")}, nil
		case name == "EXISTS":
			p.advance()
			g, err := p.parseScopedGroup()
			if err != nil {
				return nil, err
			}
			return ExistsExpr{Group: g}, nil
		case name == "NOT" && strings.EqualFold(p.peekAt(1).text, "EXISTS"):
			p.advance()
			p.advance()
			g, err := p.parseScopedGroup()
			if err != nil {
				return nil, err
			}
			return ExistsExpr{Group: g, Not: true}, nil
		case aggregateNames[name]:
			p.advance()
			return p.parseAggregate(name)
		case functionNames[name]:
			p.advance()
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			if name == "BOUND" {
				if len(args) != 1 {
					return nil, p.errorf(t, "BOUND takes one variable")
				}
				if _, ok := args[0].(VarExpr); !ok {
					return nil, p.errorf(t, "BOUND takes one variable")
				}
			}
			return CallExpr{Name: name, Args: args}, nil
		default:
			return nil, p.errorf(t, "unsupported function or keyword %s", t)
		}
	}
	return nil, p.errorf(t, "expected expression, found %s", t)
}

func (p *parser) parseArgList() ([]Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []Expr
	if p.acceptPunct(")") {
		return args, nil
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.acceptPunct(")") {
			return args, nil
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseAggregate(name string) (Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	call := CallExpr{Name: name, Separator: " "}
	call.Distinct = p.acceptKeyword("DISTINCT")

	if name == "COUNT" && p.acceptPunct("*") {
		call.Star = true
	} else {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = []Expr{e}
	}

	if name == "GROUP_CONCAT" && p.acceptPunct(";") {
		if err := p.expectKeyword("SEPARATOR"); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		s := p.advance()
		if s.kind != tokString {
			return nil, p.errorf(s, "SEPARATOR needs a string")
		}
		call.Separator = s.text
	}

	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return call, nil
}

// validateGrouping rejects projections of variables that are neither
// grouped nor aggregated.
func validateGrouping(q *Query) error {
	if q.Form != FormSelect || !q.isAggregated() {
		return nil
	}
	if q.Star {
		return &SyntaxError{Msg: "SELECT * cannot be combined with GROUP BY or aggregates"}
	}
	grouped := make(map[string]bool)
	for _, g := range q.GroupBy {
		if g.Var != "" {
			grouped[g.Var] = true
		}
		if v, ok := g.Expr.(VarExpr); ok {
			grouped[v.Name] = true
		}
	}
	for _, proj := range q.Project {
		if proj.Expr == nil && !grouped[proj.Var] {
			return &SyntaxError{Msg: fmt.Sprintf("variable ?%s is projected but not grouped", proj.Var)}
		}
	}
	return nil
}

func (q *Query) isAggregated() bool {
	if len(q.GroupBy) > 0 || len(q.Having) > 0 {
		return true
	}
	for _, proj := range q.Project {
		if proj.Expr != nil && containsAggregate(proj.Expr) {
			return true
		}
	}
	for _, k := range q.OrderBy {
		if containsAggregate(k.Expr) {
			return true
		}
	}
	return false
}
