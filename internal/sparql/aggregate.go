package sparql

import (
	"maps"
	"slices"
	"strings"

	"github.com/flynn-ai/kgbridge/internal/graph"
)

type groupBucket struct {
	key     Binding
	members []Binding
}

// aggregate partitions sols by the GROUP BY keys and evaluates the
// projection once per group. Without GROUP BY the whole solution
// sequence is one group, so COUNT over no matches yields 0.
func (ev *evaluator) aggregate(q *Query, sols []Binding) ([]row, error) {
	var buckets []*groupBucket
	if len(q.GroupBy) == 0 {
		buckets = []*groupBucket{{key: Binding{}, members: sols}}
	} else {
		index := make(map[string]*groupBucket)
		for _, sol := range sols {
			if err := ev.tick(); err != nil {
				return nil, err
			}
			key := Binding{}
			var sb strings.Builder
			for _, g := range q.GroupBy {
				name, v, ok := ev.groupKey(g, sol)
				if ok && name != "" {
					key[name] = v
				}
				if ok {
					sb.WriteString(v.NT())
				} else {
					sb.WriteString("UNDEF")
				}
				sb.WriteByte(0)
			}
			k := sb.String()
			b, ok := index[k]
			if !ok {
				b = &groupBucket{key: key}
				index[k] = b
				buckets = append(buckets, b)
			}
			b.members = append(b.members, sol)
		}
	}

	rows := make([]row, 0, len(buckets))
	for _, b := range buckets {
		r := b.key.clone()
		en := &env{sol: r, group: b.members, grouped: true}
		for _, proj := range q.Project {
			if proj.Expr == nil {
				continue
			}
			if v, err := ev.eval(proj.Expr, en); err == nil {
				r[proj.Var] = v
			}
		}
		if len(q.Having) > 0 && !ev.passes(q.Having, en) {
			continue
		}
		rows = append(rows, row{sol: r, group: b.members, grouped: true})
	}
	return rows, nil
}

func (ev *evaluator) groupKey(g Projection, sol Binding) (string, graph.Term, bool) {
	if g.Expr == nil {
		v, ok := sol[g.Var]
		return g.Var, v, ok
	}
	name := g.Var
	if v, isVar := g.Expr.(VarExpr); isVar && name == "" {
		name = v.Name
	}
	v, err := ev.eval(g.Expr, &env{sol: sol})
	return name, v, err == nil
}

func (ev *evaluator) evalAggregate(x CallExpr, members []Binding) (graph.Term, error) {
	if x.Name == "COUNT" && x.Star {
		if !x.Distinct {
			return graph.Integer(int64(len(members))), nil
		}
		seen := make(map[string]bool)
		for _, m := range members {
			seen[bindingKey(sortedKeys(m), m)] = true
		}
		return graph.Integer(int64(len(seen))), nil
	}

	var values []graph.Term
	seen := make(map[graph.Term]bool)
	for _, m := range members {
		v, err := ev.eval(x.Args[0], &env{sol: m})
		if err != nil {
			continue
		}
		if x.Distinct {
			if seen[v] {
				continue
			}
			seen[v] = true
		}
		values = append(values, v)
	}

	switch x.Name {
	case "COUNT":
		return graph.Integer(int64(len(values))), nil
	case "SUM", "AVG":
		total := intNumber(0)
		for _, v := range values {
			n, ok := toNumber(v)
			if !ok {
				return graph.Term{}, errType
			}
			var err error
			if total, err = arith("+", total, n); err != nil {
				return graph.Term{}, err
			}
		}
		if x.Name == "SUM" {
			return total.term(), nil
		}
		if len(values) == 0 {
			return intNumber(0).term(), nil
		}
		avg, err := arith("/", total, intNumber(int64(len(values))))
		if err != nil {
			return graph.Term{}, err
		}
		return avg.term(), nil
	case "MIN", "MAX":
		if len(values) == 0 {
			return graph.Term{}, errUnbound
		}
		best := values[0]
		for _, v := range values[1:] {
			c := orderCompare(v, best)
			if (x.Name == "MIN" && c < 0) || (x.Name == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "SAMPLE":
		if len(values) == 0 {
			return graph.Term{}, errUnbound
		}
		return values[0], nil
	case "GROUP_CONCAT":
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = v.Value
		}
		return graph.Literal(strings.Join(parts, x.Separator), graph.XSDString), nil
	}
	return graph.Term{}, errType
}

func sortedKeys(b Binding) []string {
	return slices.Sorted(maps.Keys(b))
}
