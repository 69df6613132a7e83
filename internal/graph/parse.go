package graph

import (
	"errors"
	"fmt"
	"io"

	"github.com/knakk/rdf"
)

// Format is an RDF serialization.
type Format string

const (
	FormatTurtle   Format = "turtle"
	FormatRDFXML   Format = "rdfxml"
	FormatNTriples Format = "ntriples"
)

func (f Format) decoderFormat() (rdf.Format, error) {
	switch f {
	case FormatTurtle:
		return rdf.Turtle, nil
	case FormatRDFXML:
		return rdf.RDFXML, nil
	case FormatNTriples:
		return rdf.NTriples, nil
	default:
		return 0, fmt.Errorf("unsupported RDF format %q", f)
	}
}

// Parse decodes every triple from r and returns a built Handle. Any decode
// error fails the whole parse; no partial handle is returned.
func Parse(r io.Reader, format Format, ns *Namespaces) (*Handle, error) {
	df, err := format.decoderFormat()
	if err != nil {
		return nil, err
	}

	dec := rdf.NewTripleDecoder(r, df)
	var triples []Triple
	for {
		t, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if format != FormatRDFXML {
				drain(dec)
			}
			return nil, fmt.Errorf("decode %s triple %d: %w", format, len(triples)+1, err)
		}
		triples = append(triples, Triple{
			S: fromRDF(t.Subj),
			P: fromRDF(t.Pred),
			O: fromRDF(t.Obj),
		})
	}

	return NewHandle(ns, triples), nil
}

// maxDrain bounds how many decode calls drain makes after an error.
const maxDrain = 1 << 20

// drain pulls from dec until EOF so the Turtle and N-Triples lexer
// goroutine, which blocks on an unbuffered send, can exit. The RDF/XML
// decoder has no goroutine and its errors are sticky, so it is not drained.
func drain(dec rdf.TripleDecoder) {
	for i := 0; i < maxDrain; i++ {
		if _, err := dec.Decode(); errors.Is(err, io.EOF) {
			return
		}
	}
}

func fromRDF(t rdf.Term) Term {
	switch t.Type() {
	case rdf.TermIRI:
		return IRI(t.String())
	case rdf.TermBlank:
		return Blank(t.String())
	case rdf.TermLiteral:
		lit, ok := t.(rdf.Literal)
		if !ok {
			return Literal(t.String(), "")
		}
		if lang := lit.Lang(); lang != "" {
			return LangLiteral(lit.String(), lang)
		}
		return Literal(lit.String(), lit.DataType.String())
	default:
		return Literal(t.String(), "")
	}
}
