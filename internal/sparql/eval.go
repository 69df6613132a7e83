// Package sparql executes a SELECT/ASK subset of SPARQL 1.1 against an
// in-memory graph.Handle.
package sparql

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/flynn-ai/kgbridge/internal/graph"
)

// maxSolutions bounds intermediate results so a runaway cross product
// fails instead of exhausting memory.
const maxSolutions = 1_000_000

// Binding maps variable names to terms. Unbound variables are absent.
type Binding map[string]graph.Term

func (b Binding) clone() Binding {
	out := make(Binding, len(b)+2)
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Result is the outcome of a query. For SELECT, Vars lists the projected
// variables and Bindings holds one entry per solution. For ASK only
// Boolean is meaningful.
type Result struct {
	Form     Form
	Vars     []string
	Bindings []Binding
	Boolean  bool
}

// Exec parses and executes src against h.
func Exec(ctx context.Context, h *graph.Handle, src string) (*Result, error) {
	q, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return q.Execute(ctx, h)
}

type evaluator struct {
	ctx     context.Context
	h       *graph.Handle
	steps   int
	regexes map[string]*regexp.Regexp
}

func (ev *evaluator) tick() error {
	ev.steps++
	if ev.steps&255 == 0 {
		return ev.ctx.Err()
	}
	return nil
}

// Execute runs q against h. Row order follows pattern evaluation order
// unless the query carries ORDER BY.
func (q *Query) Execute(ctx context.Context, h *graph.Handle) (*Result, error) {
	if h == nil {
		return nil, fmt.Errorf("no graph to query")
	}
	ev := &evaluator{ctx: ctx, h: h, regexes: make(map[string]*regexp.Regexp)}

	sols, err := ev.evalGroup(q.Where, []Binding{{}})
	if err != nil {
		return nil, err
	}

	if q.Form == FormAsk {
		return &Result{Form: FormAsk, Boolean: len(sols) > 0}, nil
	}

	var rows []row
	if q.isAggregated() {
		rows, err = ev.aggregate(q, sols)
		if err != nil {
			return nil, err
		}
	} else {
		rows = make([]row, len(sols))
		for i, sol := range sols {
			r, cloned := sol, false
			for _, proj := range q.Project {
				if proj.Expr == nil {
					continue
				}
				if v, err := ev.eval(proj.Expr, &env{sol: r}); err == nil {
					if !cloned {
						r, cloned = sol.clone(), true
					}
					r[proj.Var] = v
				}
			}
			rows[i] = row{sol: r}
		}
	}

	if len(q.OrderBy) > 0 {
		ev.orderRows(q.OrderBy, rows)
	}

	vars := q.Vars()
	out := make([]Binding, 0, len(rows))
	seen := make(map[string]bool)
	for _, r := range rows {
		b := make(Binding, len(vars))
		for _, v := range vars {
			if t, ok := r.sol[v]; ok {
				b[v] = t
			}
		}
		if q.Distinct {
			key := bindingKey(vars, b)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, b)
	}

	out = slice(out, q.Offset, q.Limit)
	return &Result{Form: FormSelect, Vars: vars, Bindings: out}, nil
}

func slice(bs []Binding, offset, limit int) []Binding {
	if offset >= len(bs) {
		return []Binding{}
	}
	bs = bs[offset:]
	if limit >= 0 && limit < len(bs) {
		bs = bs[:limit]
	}
	return bs
}

func bindingKey(vars []string, b Binding) string {
	var sb strings.Builder
	for _, v := range vars {
		if t, ok := b[v]; ok {
			sb.WriteString(t.NT())
		} else {
			sb.WriteString("UNDEF")
		}
		sb.WriteByte(0)
	}
	return sb.String()
}

// ============================================================
// Group patterns
// ============================================================

func (ev *evaluator) evalGroup(g *Group, input []Binding) ([]Binding, error) {
	sols := input
	var err error

	for _, el := range g.Elements {
		switch e := el.(type) {
		case BGP:
			sols, err = ev.evalBGP(e.Triples, sols)
		case Optional:
			sols, err = ev.leftJoin(e.Group, sols)
		case SubGroup:
			sols, err = ev.evalGroup(e.Group, sols)
		case Union:
			var out []Binding
			for _, branch := range e.Branches {
				part, berr := ev.evalGroup(branch, sols)
				if berr != nil {
					return nil, berr
				}
				out = append(out, part...)
			}
			sols = out
		case Minus:
			var right []Binding
			right, err = ev.evalGroup(e.Group, []Binding{{}})
			if err == nil {
				sols = minus(sols, right)
			}
		case Bind:
			sols = ev.bind(e, sols)
		}
		if err != nil {
			return nil, err
		}
		if len(sols) == 0 {
			break
		}
	}

	if len(g.Filters) == 0 {
		return sols, nil
	}
	kept := sols[:0:0]
	for _, sol := range sols {
		if err := ev.tick(); err != nil {
			return nil, err
		}
		if ev.passes(g.Filters, &env{sol: sol}) {
			kept = append(kept, sol)
		}
	}
	return kept, nil
}

func (ev *evaluator) passes(filters []Expr, en *env) bool {
	for _, f := range filters {
		v, err := ev.eval(f, en)
		if err != nil {
			return false
		}
		ok, err := ebv(v)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (ev *evaluator) leftJoin(g *Group, sols []Binding) ([]Binding, error) {
	var out []Binding
	for _, sol := range sols {
		ext, err := ev.evalGroup(g, []Binding{sol})
		if err != nil {
			return nil, err
		}
		if len(ext) == 0 {
			out = append(out, sol)
			continue
		}
		out = append(out, ext...)
	}
	return out, nil
}

func (ev *evaluator) bind(b Bind, sols []Binding) []Binding {
	out := make([]Binding, len(sols))
	for i, sol := range sols {
		out[i] = sol
		if _, bound := sol[b.Var]; bound {
			continue
		}
		v, err := ev.eval(b.Expr, &env{sol: sol})
		if err != nil {
			continue
		}
		ext := sol.clone()
		ext[b.Var] = v
		out[i] = ext
	}
	return out
}

func minus(left, right []Binding) []Binding {
	out := left[:0:0]
	for _, l := range left {
		drop := false
		for _, r := range right {
			if compatible(l, r) && sharesVar(l, r) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, l)
		}
	}
	return out
}

func compatible(a, b Binding) bool {
	for k, v := range a {
		if w, ok := b[k]; ok && w != v {
			return false
		}
	}
	return true
}

func sharesVar(a, b Binding) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// ============================================================
// Basic graph patterns
// ============================================================

func (ev *evaluator) evalBGP(patterns []TriplePattern, input []Binding) ([]Binding, error) {
	bound := make(map[string]bool)
	if len(input) > 0 {
		for k := range input[0] {
			bound[k] = true
		}
	}

	sols := input
	for _, tp := range orderPatterns(patterns, bound) {
		var next []Binding
		for _, sol := range sols {
			if err := ev.tick(); err != nil {
				return nil, err
			}
			matches, err := ev.matchPattern(tp, sol)
			if err != nil {
				return nil, err
			}
			next = append(next, matches...)
			if len(next) > maxSolutions {
				return nil, fmt.Errorf("query produces more than %d intermediate solutions", maxSolutions)
			}
		}
		sols = next
		if len(sols) == 0 {
			return nil, nil
		}
	}
	return sols, nil
}

// orderPatterns greedily evaluates the most constrained pattern first.
func orderPatterns(patterns []TriplePattern, bound map[string]bool) []TriplePattern {
	remaining := append([]TriplePattern(nil), patterns...)
	known := make(map[string]bool, len(bound))
	for k := range bound {
		known[k] = true
	}

	score := func(tp TriplePattern) int {
		s := 0
		for _, n := range []Node{tp.S, tp.P, tp.O} {
			if !n.isVar() || known[n.Var] {
				s++
			}
		}
		if tp.Path != nil {
			s--
		}
		return s
	}

	out := make([]TriplePattern, 0, len(patterns))
	for len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if score(remaining[i]) > score(remaining[best]) {
				best = i
			}
		}
		tp := remaining[best]
		out = append(out, tp)
		remaining = append(remaining[:best], remaining[best+1:]...)
		for _, n := range []Node{tp.S, tp.P, tp.O} {
			if n.isVar() {
				known[n.Var] = true
			}
		}
	}
	return out
}

func resolveNode(n Node, sol Binding) graph.Term {
	if n.isVar() {
		return sol[n.Var]
	}
	return n.Term
}

func (ev *evaluator) matchPattern(tp TriplePattern, sol Binding) ([]Binding, error) {
	s := resolveNode(tp.S, sol)
	o := resolveNode(tp.O, sol)

	var out []Binding
	if tp.Path != nil {
		pairs, err := ev.evalPath(tp.Path, s, o)
		if err != nil {
			return nil, err
		}
		for _, pr := range pairs {
			nb := sol.clone()
			if bindNode(nb, tp.S, pr.s) && bindNode(nb, tp.O, pr.o) {
				out = append(out, nb)
			}
		}
		return out, nil
	}

	p := resolveNode(tp.P, sol)
	for _, t := range ev.h.Match(s, p, o) {
		nb := sol.clone()
		if bindNode(nb, tp.S, t.S) && bindNode(nb, tp.P, t.P) && bindNode(nb, tp.O, t.O) {
			out = append(out, nb)
		}
	}
	return out, nil
}

// bindNode binds a variable node to t, failing when the variable already
// holds a different term (as in ?x ?p ?x).
func bindNode(b Binding, n Node, t graph.Term) bool {
	if !n.isVar() {
		return n.Term == t
	}
	if cur, ok := b[n.Var]; ok {
		return cur == t
	}
	b[n.Var] = t
	return true
}

// ============================================================
// Ordering
// ============================================================

type row struct {
	sol     Binding
	group   []Binding
	grouped bool
}

func (ev *evaluator) orderRows(keys []OrderKey, rows []row) {
	vals := make([][]graph.Term, len(rows))
	for i, r := range rows {
		vals[i] = make([]graph.Term, len(keys))
		for j, k := range keys {
			if v, err := ev.eval(k.Expr, &env{sol: r.sol, group: r.group, grouped: r.grouped}); err == nil {
				vals[i][j] = v
			}
		}
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, k := range keys {
			c := orderCompare(vals[idx[a]][j], vals[idx[b]][j])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	sorted := make([]row, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func kindRank(t graph.Term) int {
	switch t.Kind {
	case graph.KindBlank:
		return 1
	case graph.KindIRI:
		return 2
	case graph.KindLiteral:
		return 3
	default:
		return 0
	}
}

// orderCompare is the total order used by ORDER BY, MIN and MAX:
// unbound < blank < IRI < literal, numbers compared by value.
func orderCompare(a, b graph.Term) int {
	if ra, rb := kindRank(a), kindRank(b); ra != rb {
		return ra - rb
	}
	if a.IsLiteral() {
		if na, ok := toNumber(a); ok {
			if nb, ok := toNumber(b); ok {
				return na.cmp(nb)
			}
		}
		if c := strings.Compare(a.Value, b.Value); c != 0 {
			return c
		}
		if c := strings.Compare(a.Datatype, b.Datatype); c != 0 {
			return c
		}
		return strings.Compare(a.Lang, b.Lang)
	}
	return strings.Compare(a.Value, b.Value)
}
