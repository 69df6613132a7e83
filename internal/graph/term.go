// Package graph holds the in-memory RDF graph queried by the SPARQL engine.
package graph

import (
	"strconv"
	"strings"
)

// Well-known datatype IRIs.
const (
	XSD           = "http://www.w3.org/2001/XMLSchema#"
	XSDString     = XSD + "string"
	XSDBoolean    = XSD + "boolean"
	XSDInteger    = XSD + "integer"
	XSDDecimal    = XSD + "decimal"
	XSDDouble     = XSD + "double"
	XSDFloat      = XSD + "float"
	XSDLong       = XSD + "long"
	XSDInt        = XSD + "int"
	XSDDateTime   = XSD + "dateTime"
	RDFLangString = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
	RDFType       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
)

// Kind is the kind of an RDF term.
type Kind uint8

const (
	KindIRI Kind = iota + 1
	KindBlank
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unbound"
	}
}

// Term is an RDF term. It is comparable and used directly as a map key,
// so literals are kept in one canonical shape: a language-tagged literal
// has an empty Datatype, any other literal has a non-empty one.
type Term struct {
	Kind     Kind
	Value    string
	Datatype string
	Lang     string
}

// IRI returns an IRI term.
func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

// Blank returns a blank node term. A leading "_:" is stripped.
func Blank(id string) Term { return Term{Kind: KindBlank, Value: strings.TrimPrefix(id, "_:")} }

// Literal returns a typed literal. An empty datatype means xsd:string.
func Literal(v, datatype string) Term {
	if datatype == "" {
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

// LangLiteral returns a language-tagged literal.
func LangLiteral(v, lang string) Term {
	if lang == "" {
		return Literal(v, XSDString)
	}
	return Term{Kind: KindLiteral, Value: v, Lang: strings.ToLower(lang)}
}

// Bool returns an xsd:boolean literal.
func Bool(b bool) Term { return Literal(strconv.FormatBool(b), XSDBoolean) }

// Integer returns an xsd:integer literal.
func Integer(n int64) Term { return Literal(strconv.FormatInt(n, 10), XSDInteger) }

// IsZero reports whether t is the unbound term.
func (t Term) IsZero() bool { return t.Kind == 0 }

func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsBlank() bool   { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// EffectiveDatatype returns rdf:langString for tagged literals.
func (t Term) EffectiveDatatype() string {
	if t.Kind != KindLiteral {
		return ""
	}
	if t.Lang != "" {
		return RDFLangString
	}
	return t.Datatype
}

// String returns the plain string form: the IRI, the blank node label,
// or the literal's lexical form.
func (t Term) String() string { return t.Value }

// NT returns the N-Triples serialization of t.
func (t Term) NT() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := strconv.Quote(t.Value)
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != XSDString {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return "UNDEF"
	}
}

// Triple is a single RDF statement.
type Triple struct {
	S, P, O Term
}

// NT returns the N-Triples line for tr, without the trailing newline.
func (tr Triple) NT() string {
	return tr.S.NT() + " " + tr.P.NT() + " " + tr.O.NT() + " ."
}
