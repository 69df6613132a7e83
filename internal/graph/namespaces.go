package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Standard vocabulary namespaces bound on every load.
const (
	NamespaceRDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NamespaceRDFS = "http://www.w3.org/2000/01/rdf-schema#"
	NamespaceOWL  = "http://www.w3.org/2002/07/owl#"
	NamespaceSH   = "http://www.w3.org/ns/shacl#"
	NamespaceDCT  = "http://purl.org/dc/terms/"
	NamespaceXSD  = XSD
	NamespaceSKOS = "http://www.w3.org/2004/02/skos/core#"
)

var prefixName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// Binding maps a short prefix to a namespace IRI.
type Binding struct {
	Prefix    string `json:"prefix"`
	Namespace string `json:"namespace"`
}

// Namespaces is a closed, injective prefix table. It is immutable after
// construction and safe for concurrent use.
type Namespaces struct {
	bindings []Binding
	byPrefix map[string]string
	// longest namespace first, for Shorten
	byLength []Binding
}

// NewNamespaces builds a table. Prefixes and namespaces must both be unique
// so that shortening can always be undone.
func NewNamespaces(bindings ...Binding) (*Namespaces, error) {
	n := &Namespaces{
		bindings: make([]Binding, 0, len(bindings)),
		byPrefix: make(map[string]string, len(bindings)),
	}
	seenNS := make(map[string]string, len(bindings))

	for _, b := range bindings {
		if !prefixName.MatchString(b.Prefix) {
			return nil, fmt.Errorf("invalid prefix %q", b.Prefix)
		}
		if b.Namespace == "" {
			return nil, fmt.Errorf("prefix %q has empty namespace", b.Prefix)
		}
		if _, dup := n.byPrefix[b.Prefix]; dup {
			return nil, fmt.Errorf("prefix %q bound twice", b.Prefix)
		}
		if other, dup := seenNS[b.Namespace]; dup {
			return nil, fmt.Errorf("namespace %s bound to both %q and %q", b.Namespace, other, b.Prefix)
		}
		n.byPrefix[b.Prefix] = b.Namespace
		seenNS[b.Namespace] = b.Prefix
		n.bindings = append(n.bindings, b)
	}

	n.byLength = append([]Binding(nil), n.bindings...)
	sort.SliceStable(n.byLength, func(i, j int) bool {
		return len(n.byLength[i].Namespace) > len(n.byLength[j].Namespace)
	})
	return n, nil
}

// Standard returns the default domain binding followed by rdf, rdfs, owl,
// sh, dct, xsd and skos.
func Standard(defaultPrefix, defaultNamespace string) (*Namespaces, error) {
	return NewNamespaces(
		Binding{defaultPrefix, defaultNamespace},
		Binding{"rdf", NamespaceRDF},
		Binding{"rdfs", NamespaceRDFS},
		Binding{"owl", NamespaceOWL},
		Binding{"sh", NamespaceSH},
		Binding{"dct", NamespaceDCT},
		Binding{"xsd", NamespaceXSD},
		Binding{"skos", NamespaceSKOS},
	)
}

// Bindings returns the table in declaration order.
func (n *Namespaces) Bindings() []Binding {
	return append([]Binding(nil), n.bindings...)
}

// Lookup returns the namespace bound to prefix.
func (n *Namespaces) Lookup(prefix string) (string, bool) {
	ns, ok := n.byPrefix[prefix]
	return ns, ok
}

// Shorten rewrites iri as prefix:local using the longest matching namespace.
// IRIs outside every namespace are returned unchanged.
func (n *Namespaces) Shorten(iri string) string {
	for _, b := range n.byLength {
		if strings.HasPrefix(iri, b.Namespace) {
			return b.Prefix + ":" + iri[len(b.Namespace):]
		}
	}
	return iri
}

// Expand is the inverse of Shorten. It reports false when s does not start
// with a bound prefix.
func (n *Namespaces) Expand(s string) (string, bool) {
	prefix, local, ok := strings.Cut(s, ":")
	if !ok {
		return s, false
	}
	ns, ok := n.byPrefix[prefix]
	if !ok {
		return s, false
	}
	return ns + local, true
}

// PrefixDeclarations renders the table as SPARQL PREFIX lines.
func (n *Namespaces) PrefixDeclarations() string {
	var sb strings.Builder
	for _, b := range n.bindings {
		fmt.Fprintf(&sb, "PREFIX %s: <%s>\n", b.Prefix, b.Namespace)
	}
	return sb.String()
}
