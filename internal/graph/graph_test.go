package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flynn-ai/kgbridge/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func standard(t *testing.T) *Namespaces {
	t.Helper()
	ns, err := Standard("dvt", testutil.DVT)
	require.NoError(t, err)
	return ns
}

func TestNamespacesShortenExpandRoundTrip(t *testing.T) {
	ns := standard(t)

	iris := []string{
		testutil.DVT + "vehicle1",
		NamespaceRDF + "type",
		NamespaceSKOS + "prefLabel",
		NamespaceXSD + "integer",
		NamespaceOWL,
	}
	for _, iri := range iris {
		short := ns.Shorten(iri)
		assert.NotEqual(t, iri, short)
		back, ok := ns.Expand(short)
		require.True(t, ok, short)
		assert.Equal(t, iri, back)
	}

	assert.Equal(t, "dvt:vehicle1", ns.Shorten(testutil.DVT+"vehicle1"))
	assert.Equal(t, "http://example.org/x", ns.Shorten("http://example.org/x"))

	_, ok := ns.Expand("http://example.org/x")
	assert.False(t, ok)
}

func TestNamespacesLongestMatchWins(t *testing.T) {
	ns, err := NewNamespaces(
		Binding{"ex", "http://example.org/"},
		Binding{"exv", "http://example.org/vocab#"},
	)
	require.NoError(t, err)

	assert.Equal(t, "exv:name", ns.Shorten("http://example.org/vocab#name"))
	assert.Equal(t, "ex:thing", ns.Shorten("http://example.org/thing"))
}

func TestNamespacesRejectNonInjective(t *testing.T) {
	_, err := NewNamespaces(Binding{"a", "http://x/"}, Binding{"b", "http://x/"})
	assert.Error(t, err)

	_, err = NewNamespaces(Binding{"a", "http://x/"}, Binding{"a", "http://y/"})
	assert.Error(t, err)

	_, err = NewNamespaces(Binding{"1bad", "http://x/"})
	assert.Error(t, err)
}

func TestPrefixDeclarations(t *testing.T) {
	decl := standard(t).PrefixDeclarations()
	lines := strings.Split(strings.TrimSpace(decl), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "PREFIX dvt: <"+testutil.DVT+">", lines[0])
	assert.Equal(t, "PREFIX skos: <"+NamespaceSKOS+">", lines[7])
}

func TestParseTurtle(t *testing.T) {
	h, err := Parse(strings.NewReader(testutil.VehicleTurtle), FormatTurtle, standard(t))
	require.NoError(t, err)
	assert.Equal(t, testutil.VehicleTriples, h.Len())

	vehicles := h.Match(Term{}, IRI(RDFType), IRI(testutil.DVT+"Vehicle"))
	assert.Len(t, vehicles, 2)

	labels := h.Match(IRI(testutil.DVT+"Vehicle"), IRI(NamespaceRDFS+"label"), Term{})
	require.Len(t, labels, 1)
	assert.Equal(t, LangLiteral("Vehicle", "en"), labels[0].O)

	mileage := h.Match(IRI(testutil.DVT+"vehicle1"), IRI(testutil.DVT+"mileage"), Term{})
	require.Len(t, mileage, 1)
	assert.Equal(t, XSDInteger, mileage[0].O.Datatype)
	assert.Equal(t, "42000", mileage[0].O.String())
}

func TestParseRDFXML(t *testing.T) {
	h, err := Parse(strings.NewReader(testutil.VehicleRDFXML), FormatRDFXML, standard(t))
	require.NoError(t, err)

	typed := h.Match(IRI(testutil.DVT+"vehicle9"), IRI(RDFType), Term{})
	require.Len(t, typed, 1)
	assert.Equal(t, IRI(testutil.DVT+"Vehicle"), typed[0].O)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader("dvt:x a ."), FormatTurtle, standard(t))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(""), Format("jsonld"), standard(t))
	assert.Error(t, err)
}

func TestParseMalformedReleasesDecoder(t *testing.T) {
	ns := standard(t)
	inputs := []struct {
		format Format
		text   string
	}{
		{FormatTurtle, "this is <not turtle"},
		{FormatTurtle, testutil.VehicleTurtle + "\n<broken"},
		{FormatNTriples, "<http://example.org/a> <http://example.org/b> .\n<http://example.org/c> <http://example.org/d> <http://example.org/e> .\n"},
	}
	for range 20 {
		for _, in := range inputs {
			_, err := Parse(strings.NewReader(in.text), in.format, ns)
			require.Error(t, err, in.text)
		}
	}
	goleak.VerifyNone(t)
}

func TestHandleDedupAndFingerprint(t *testing.T) {
	ns := standard(t)
	a := Triple{IRI("http://x/a"), IRI("http://x/p"), Literal("1", XSDInteger)}
	b := Triple{IRI("http://x/b"), IRI("http://x/p"), LangLiteral("hi", "EN")}

	h1 := NewHandle(ns, []Triple{a, b, a})
	h2 := NewHandle(ns, []Triple{b, a})

	assert.Equal(t, 2, h1.Len())
	assert.Equal(t, h1.Fingerprint(), h2.Fingerprint())
	assert.Equal(t, "en", h1.Triples()[1].O.Lang)
	assert.Len(t, h1.Nodes(), 4)

	assert.Empty(t, h1.Match(IRI("http://x/missing"), Term{}, Term{}))
	assert.Len(t, h1.Match(Term{}, IRI("http://x/p"), Term{}), 2)
	assert.Len(t, h1.Match(Term{}, Term{}, Term{}), 2)
}

func TestTermNT(t *testing.T) {
	assert.Equal(t, "<http://x/a>", IRI("http://x/a").NT())
	assert.Equal(t, "_:b0", Blank("_:b0").NT())
	assert.Equal(t, `"v"`, Literal("v", "").NT())
	assert.Equal(t, `"v"@de`, LangLiteral("v", "de").NT())
	assert.Equal(t, `"1"^^<`+XSDInteger+`>`, Integer(1).NT())
}
