package sparql

import (
	"fmt"

	"github.com/flynn-ai/kgbridge/internal/graph"
)

type pair struct {
	s, o graph.Term
}

type pairSet struct {
	seen  map[pair]struct{}
	pairs []pair
}

func newPairSet() *pairSet { return &pairSet{seen: make(map[pair]struct{})} }

func (ps *pairSet) add(p pair) {
	if _, ok := ps.seen[p]; ok {
		return
	}
	ps.seen[p] = struct{}{}
	ps.pairs = append(ps.pairs, p)
}

// evalPath returns the distinct (subject, object) pairs connected by p.
// Zero terms in s or o are unconstrained.
func (ev *evaluator) evalPath(p Path, s, o graph.Term) ([]pair, error) {
	if err := ev.tick(); err != nil {
		return nil, err
	}

	switch x := p.(type) {
	case LinkPath:
		triples := ev.h.Match(s, x.IRI, o)
		out := make([]pair, len(triples))
		for i, t := range triples {
			out[i] = pair{t.S, t.O}
		}
		return out, nil

	case InversePath:
		inner, err := ev.evalPath(x.Sub, o, s)
		if err != nil {
			return nil, err
		}
		out := make([]pair, len(inner))
		for i, pr := range inner {
			out[i] = pair{pr.o, pr.s}
		}
		return out, nil

	case SeqPath:
		return ev.evalSeq(x.Parts, s, o)

	case AltPath:
		set := newPairSet()
		for _, alt := range x.Alts {
			part, err := ev.evalPath(alt, s, o)
			if err != nil {
				return nil, err
			}
			for _, pr := range part {
				set.add(pr)
			}
		}
		return set.pairs, nil

	case ModPath:
		switch x.Mod {
		case '?':
			set := newPairSet()
			for _, pr := range ev.zeroLength(s, o) {
				set.add(pr)
			}
			one, err := ev.evalPath(x.Sub, s, o)
			if err != nil {
				return nil, err
			}
			for _, pr := range one {
				set.add(pr)
			}
			return set.pairs, nil
		case '*':
			return ev.closure(x.Sub, s, o, true)
		case '+':
			return ev.closure(x.Sub, s, o, false)
		}
	}
	return nil, fmt.Errorf("unsupported path %T", p)
}

func (ev *evaluator) evalSeq(parts []Path, s, o graph.Term) ([]pair, error) {
	if len(parts) == 1 {
		return ev.evalPath(parts[0], s, o)
	}

	set := newPairSet()

	// walk from the bound end
	if s.IsZero() && !o.IsZero() {
		last, err := ev.evalPath(parts[len(parts)-1], graph.Term{}, o)
		if err != nil {
			return nil, err
		}
		for _, l := range last {
			rest, err := ev.evalSeq(parts[:len(parts)-1], s, l.s)
			if err != nil {
				return nil, err
			}
			for _, r := range rest {
				set.add(pair{r.s, l.o})
			}
		}
		return set.pairs, nil
	}

	first, err := ev.evalPath(parts[0], s, graph.Term{})
	if err != nil {
		return nil, err
	}
	for _, f := range first {
		rest, err := ev.evalSeq(parts[1:], f.o, o)
		if err != nil {
			return nil, err
		}
		for _, r := range rest {
			set.add(pair{f.s, r.o})
		}
	}
	return set.pairs, nil
}

func (ev *evaluator) zeroLength(s, o graph.Term) []pair {
	switch {
	case !s.IsZero() && !o.IsZero():
		if s == o {
			return []pair{{s, s}}
		}
		return nil
	case !s.IsZero():
		return []pair{{s, s}}
	case !o.IsZero():
		return []pair{{o, o}}
	}
	nodes := ev.h.Nodes()
	out := make([]pair, len(nodes))
	for i, n := range nodes {
		out[i] = pair{n, n}
	}
	return out
}

func (ev *evaluator) closure(sub Path, s, o graph.Term, includeZero bool) ([]pair, error) {
	set := newPairSet()

	switch {
	case !s.IsZero():
		reached, err := ev.reach(sub, s, true)
		if err != nil {
			return nil, err
		}
		if includeZero {
			reached = append([]graph.Term{s}, reached...)
		}
		for _, n := range reached {
			if o.IsZero() || n == o {
				set.add(pair{s, n})
			}
		}
	case !o.IsZero():
		reached, err := ev.reach(sub, o, false)
		if err != nil {
			return nil, err
		}
		if includeZero {
			reached = append([]graph.Term{o}, reached...)
		}
		for _, n := range reached {
			set.add(pair{n, o})
		}
	default:
		for _, start := range ev.h.Nodes() {
			reached, err := ev.reach(sub, start, true)
			if err != nil {
				return nil, err
			}
			if includeZero {
				set.add(pair{start, start})
			}
			for _, n := range reached {
				set.add(pair{start, n})
			}
		}
	}
	return set.pairs, nil
}

// reach returns the nodes reachable from start in one or more steps of
// sub, following sub backwards when forward is false.
func (ev *evaluator) reach(sub Path, start graph.Term, forward bool) ([]graph.Term, error) {
	visited := make(map[graph.Term]bool)
	var order []graph.Term
	queue := []graph.Term{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var step []pair
		var err error
		if forward {
			step, err = ev.evalPath(sub, cur, graph.Term{})
		} else {
			step, err = ev.evalPath(sub, graph.Term{}, cur)
		}
		if err != nil {
			return nil, err
		}
		for _, pr := range step {
			next := pr.o
			if !forward {
				next = pr.s
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			order = append(order, next)
			queue = append(queue, next)
		}
	}
	return order, nil
}
