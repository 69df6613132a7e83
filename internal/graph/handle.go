package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Handle is a fully built, read-only RDF graph. A Handle is never mutated
// after NewHandle returns; replacing a graph means building a new Handle.
type Handle struct {
	triples     []Triple
	bySubject   map[Term][]int
	byPredicate map[Term][]int
	byObject    map[Term][]int
	nodes       []Term
	ns          *Namespaces
	fingerprint string
}

// NewHandle deduplicates triples and indexes them by position.
func NewHandle(ns *Namespaces, triples []Triple) *Handle {
	h := &Handle{
		bySubject:   make(map[Term][]int),
		byPredicate: make(map[Term][]int),
		byObject:    make(map[Term][]int),
		ns:          ns,
	}

	seen := make(map[Triple]struct{}, len(triples))
	nodes := make(map[Term]struct{})
	for _, t := range triples {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}

		i := len(h.triples)
		h.triples = append(h.triples, t)
		h.bySubject[t.S] = append(h.bySubject[t.S], i)
		h.byPredicate[t.P] = append(h.byPredicate[t.P], i)
		h.byObject[t.O] = append(h.byObject[t.O], i)
		nodes[t.S] = struct{}{}
		nodes[t.O] = struct{}{}
	}

	h.nodes = make([]Term, 0, len(nodes))
	for n := range nodes {
		h.nodes = append(h.nodes, n)
	}
	sort.Slice(h.nodes, func(i, j int) bool { return h.nodes[i].NT() < h.nodes[j].NT() })

	h.fingerprint = fingerprint(h.triples)
	return h
}

func fingerprint(triples []Triple) string {
	lines := make([]string, len(triples))
	for i, t := range triples {
		lines[i] = t.NT()
	}
	sort.Strings(lines)

	sum := sha256.New()
	for _, l := range lines {
		sum.Write([]byte(l))
		sum.Write([]byte{'\n'})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// Len returns the number of distinct triples.
func (h *Handle) Len() int { return len(h.triples) }

// Namespaces returns the prefix table bound at load time.
func (h *Handle) Namespaces() *Namespaces { return h.ns }

// Fingerprint is a content hash independent of triple order. Two handles
// loaded from the same source have the same fingerprint.
func (h *Handle) Fingerprint() string { return h.fingerprint }

// Nodes returns every term in subject or object position, sorted.
func (h *Handle) Nodes() []Term { return h.nodes }

// Triples returns all triples in load order. Callers must not modify the slice.
func (h *Handle) Triples() []Triple { return h.triples }

// Match returns triples matching the pattern. A zero Term is a wildcard.
func (h *Handle) Match(s, p, o Term) []Triple {
	var candidates []int
	all := true

	pick := func(index map[Term][]int, key Term) {
		if key.IsZero() {
			return
		}
		idx := index[key]
		if all || len(idx) < len(candidates) {
			candidates = idx
			all = false
		}
	}
	pick(h.bySubject, s)
	pick(h.byPredicate, p)
	pick(h.byObject, o)

	if all {
		return h.triples
	}

	out := make([]Triple, 0, len(candidates))
	for _, i := range candidates {
		t := h.triples[i]
		if (s.IsZero() || t.S == s) && (p.IsZero() || t.P == p) && (o.IsZero() || t.O == o) {
			out = append(out, t)
		}
	}
	return out
}
