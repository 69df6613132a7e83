package sparql

import "github.com/flynn-ai/kgbridge/internal/graph"

// Form is the query form.
type Form int

const (
	FormSelect Form = iota + 1
	FormAsk
)

func (f Form) String() string {
	switch f {
	case FormSelect:
		return "SELECT"
	case FormAsk:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Query is a parsed SELECT or ASK query.
type Query struct {
	Form     Form
	Distinct bool
	Star     bool
	Project  []Projection
	Where    *Group
	GroupBy  []Projection
	Having   []Expr
	OrderBy  []OrderKey
	Limit    int // -1 when absent
	Offset   int

	// patternVars lists variables in order of first appearance in Where.
	patternVars []string
}

// Projection is one SELECT item: a plain variable or (expr AS ?var).
type Projection struct {
	Var  string
	Expr Expr // nil for a plain variable
}

// OrderKey is one ORDER BY condition.
type OrderKey struct {
	Expr Expr
	Desc bool
}

// Vars returns the projected variable names in SELECT order.
func (q *Query) Vars() []string {
	if q.Form != FormSelect {
		return nil
	}
	if q.Star {
		return append([]string(nil), q.patternVars...)
	}
	vars := make([]string, len(q.Project))
	for i, p := range q.Project {
		vars[i] = p.Var
	}
	return vars
}

// Node is a triple pattern position: a variable or a constant term.
type Node struct {
	Var  string
	Term graph.Term
}

func (n Node) isVar() bool { return n.Var != "" }

// TriplePattern matches triples. Path is set for property paths other than
// a single IRI; otherwise P holds the predicate.
type TriplePattern struct {
	S    Node
	P    Node
	Path Path
	O    Node
}

// Group is a group graph pattern. Filters apply to the whole group.
type Group struct {
	Elements []Element
	Filters  []Expr
}

// Element is one member of a group.
type Element interface{ isElement() }

type (
	// BGP is a block of triple patterns joined together.
	BGP struct{ Triples []TriplePattern }
	// Optional is a left join with its group.
	Optional struct{ Group *Group }
	// Union concatenates the solutions of its branches.
	Union struct{ Branches []*Group }
	// Minus removes compatible solutions of its group.
	Minus struct{ Group *Group }
	// SubGroup is a nested { } joined with the enclosing solutions.
	SubGroup struct{ Group *Group }
	// Bind extends each solution with an expression value.
	Bind struct {
		Expr Expr
		Var  string
	}
)

func (BGP) isElement()      {}
func (Optional) isElement() {}
func (Union) isElement()    {}
func (Minus) isElement()    {}
func (SubGroup) isElement() {}
func (Bind) isElement()     {}

// Path is a property path expression.
type Path interface{ isPath() }

type (
	LinkPath    struct{ IRI graph.Term }
	InversePath struct{ Sub Path }
	SeqPath     struct{ Parts []Path }
	AltPath     struct{ Alts []Path }
	// ModPath applies '?', '*' or '+'.
	ModPath struct {
		Sub Path
		Mod byte
	}
)

func (LinkPath) isPath()    {}
func (InversePath) isPath() {}
func (SeqPath) isPath()     {}
func (AltPath) isPath()     {}
func (ModPath) isPath()     {}

// Expr is a filter or projection expression.
type Expr interface{ isExpr() }

type (
	VarExpr  struct{ Name string }
	TermExpr struct{ Term graph.Term }
	// BinaryExpr covers logical, comparison and arithmetic operators.
	BinaryExpr struct {
		Op   string
		L, R Expr
	}
	UnaryExpr struct {
		Op string
		X  Expr
	}
	// CallExpr is a builtin function or aggregate. Name is upper case.
	CallExpr struct {
		Name      string
		Args      []Expr
		Distinct  bool
		Star      bool
		Separator string
	}
	InExpr struct {
		X    Expr
		List []Expr
		Not  bool
	}
	ExistsExpr struct {
		Group *Group
		Not   bool
	}
)

func (VarExpr) isExpr()    {}
func (TermExpr) isExpr()   {}
func (BinaryExpr) isExpr() {}
func (UnaryExpr) isExpr()  {}
func (CallExpr) isExpr()   {}
func (InExpr) isExpr()     {}
func (ExistsExpr) isExpr() {}

var aggregateNames = map[string]bool{
	"COUNT": true, "SUM": true, "MIN": true, "MAX": true,
	"AVG": true, "SAMPLE": true, "GROUP_CONCAT": true,
}

// containsAggregate reports whether an aggregate appears anywhere in e.
func containsAggregate(e Expr) bool {
	switch x := e.(type) {
	case CallExpr:
		if aggregateNames[x.Name] {
			return true
		}
		for _, a := range x.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case BinaryExpr:
		return containsAggregate(x.L) || containsAggregate(x.R)
	case UnaryExpr:
		return containsAggregate(x.X)
	case InExpr:
		if containsAggregate(x.X) {
			return true
		}
		for _, a := range x.List {
			if containsAggregate(a) {
				return true
			}
		}
	}
	return false
}

// blankVarPrefix marks variables introduced for blank nodes in patterns.
// It cannot collide with a user variable name.
const blankVarPrefix = "_:"
