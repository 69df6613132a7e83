package connector

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/ontology"
	"github.com/flynn-ai/kgbridge/internal/testutil"
)

func newStore(t *testing.T) *GraphStore {
	t.Helper()
	ns, err := graph.Standard("dvt", testutil.DVT)
	require.NoError(t, err)
	return NewGraphStore(ns, nil)
}

func loadVehicles(t *testing.T, s *GraphStore) *graph.Handle {
	t.Helper()
	src, err := ontology.Open(testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	h, err := s.Load(context.Background(), src)
	require.NoError(t, err)
	return h
}

func TestLoad(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)
	assert.Equal(t, testutil.VehicleTriples, h.Len())
	assert.Same(t, s.Namespaces(), h.Namespaces())
}

func TestLoadFailures(t *testing.T) {
	s := newStore(t)

	bad, err := ontology.Open(testutil.WriteFile(t, "broken.ttl", "<urn:a> <urn:b> \"unterminated ."))
	require.NoError(t, err)
	h, err := s.Load(context.Background(), bad)
	assert.Nil(t, h)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLoadError))
	assert.Equal(t, "could not parse broken.ttl", apperrors.UserMessage(err))

	path := testutil.WriteFile(t, "gone.ttl", testutil.VehicleTurtle)
	gone, err := ontology.Open(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))
	h, err = s.Load(context.Background(), gone)
	assert.Nil(t, h)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLoadError))

	_, err = s.Load(context.Background(), nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLoadError))
}

func TestLoadRDFXML(t *testing.T) {
	s := newStore(t)
	src, err := ontology.Open(testutil.WriteFile(t, "vehicle.owl", testutil.VehicleRDFXML))
	require.NoError(t, err)
	require.Equal(t, graph.FormatRDFXML, src.Format)

	h, err := s.Load(context.Background(), src)
	require.NoError(t, err)

	res, err := s.Query(context.Background(), h, `SELECT ?v ?l WHERE { ?v a dvt:Vehicle ; rdfs:label ?l }`)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"v": "dvt:vehicle9", "l": "Test Vehicle 9"}}, res.Rows)
}

func TestQueryFaultyVehicle(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	res, err := s.Query(context.Background(), h, testutil.FaultyVehicleQuery)
	require.NoError(t, err)
	require.NoError(t, res.ExecErr)

	want := []map[string]any{{"vehicle": "dvt:vehicle1"}}
	if diff := cmp.Diff(want, res.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryRowKeysMatchProjection(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	queries := []string{
		`SELECT ?v ?label WHERE { ?v a dvt:Vehicle . OPTIONAL { ?v dvt:nickname ?label } }`,
		`SELECT ?class ?comment WHERE { ?class a owl:Class OPTIONAL { ?class rdfs:comment ?comment } }`,
		`SELECT * WHERE { ?c dvt:status ?status }`,
		`select ?v (count(?c) as ?n) where { ?v dvt:hasComponent ?c } group by ?v`,
	}
	for _, q := range queries {
		res, err := s.Query(context.Background(), h, q)
		require.NoError(t, err, q)
		require.NoError(t, res.ExecErr, q)
		require.NotEmpty(t, res.Rows, q)
		for _, row := range res.Rows {
			keys := make([]string, 0, len(row))
			for k := range row {
				keys = append(keys, k)
			}
			assert.ElementsMatch(t, res.Vars, keys, q)
		}
	}
}

func TestQueryNormalizesTerms(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	res, err := s.Query(context.Background(), h, `
		SELECT ?class ?label ?mileage ?other WHERE {
			?class rdfs:label ?label FILTER(LANG(?label) = "en")
			OPTIONAL { ?class dvt:mileage ?mileage }
			OPTIONAL { ?class dvt:nothing ?other }
		} ORDER BY ?class`)
	require.NoError(t, err)

	want := []map[string]any{
		{"class": "dvt:Component", "label": "Component", "mileage": nil, "other": nil},
		{"class": "dvt:Vehicle", "label": "Vehicle", "mileage": nil, "other": nil},
	}
	assert.Equal(t, want, res.Rows)

	res, err = s.Query(context.Background(), h, `SELECT ?m WHERE { dvt:vehicle1 dvt:mileage ?m }`)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"m": "42000"}}, res.Rows)

	res, err = s.Query(context.Background(), h, `SELECT ?t WHERE { dvt:Vehicle a ?t }`)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"t": "owl:Class"}}, res.Rows)
}

func TestQueryShortenedValuesExpandBack(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	res, err := s.Query(context.Background(), h, `SELECT DISTINCT ?p WHERE { ?s ?p ?o }`)
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows)

	for _, row := range res.Rows {
		short := row["p"].(string)
		full, ok := s.Namespaces().Expand(short)
		require.True(t, ok, short)
		assert.Equal(t, short, s.Namespaces().Shorten(full))
	}
}

func TestQueryAsk(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	res, err := s.Query(context.Background(), h, `ASK { dvt:brake1 dvt:status "faulty" }`)
	require.NoError(t, err)
	assert.True(t, res.Ask)
	assert.Equal(t, true, res.Content())
	assert.False(t, res.Empty())
}

func TestQueryNotLoaded(t *testing.T) {
	s := newStore(t)

	res, err := s.Query(context.Background(), nil, testutil.FaultyVehicleQuery)
	assert.Nil(t, res)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotLoaded))
}

func TestQueryInvalidForm(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	for _, q := range []string{
		`CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }`,
		`DESCRIBE dvt:vehicle1`,
		`which vehicles are faulty?`,
		``,
	} {
		res, err := s.Query(context.Background(), h, q)
		assert.Nil(t, res, q)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidQuery), q)
	}
}

func TestQueryExecutionErrorIsEmptyResult(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	res, err := s.Query(context.Background(), h, `SELECT ?v WHERE { ?v a ex:Vehicle }`)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Empty())
	assert.Equal(t, []map[string]any{}, res.Content())
	assert.True(t, apperrors.HasCode(res.ExecErr, apperrors.CodeQueryError))
}

func TestQueryNoMatchesIsEmptyResult(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	res, err := s.Query(context.Background(), h, `SELECT ?v WHERE { ?v a dvt:Truck }`)
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.NoError(t, res.ExecErr)
}

func TestQueryTimeout(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.Query(ctx, h, `SELECT * WHERE { ?a ?b ?c . ?d ?e ?f . ?g ?h ?i }`)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBackendTimeout))
}

func TestInjectPrefixes(t *testing.T) {
	ns, err := graph.Standard("dvt", testutil.DVT)
	require.NoError(t, err)

	got := InjectPrefixes(ns, "SELECT ?s WHERE { ?s a dvt:Vehicle }")
	assert.Equal(t, ns.PrefixDeclarations()+"SELECT ?s WHERE { ?s a dvt:Vehicle }", got)

	own := "prefix DVT: <urn:x#>\nPREFIX dvt:<urn:mine#>\nSELECT ?s WHERE { ?s a dvt:Vehicle }"
	got = InjectPrefixes(ns, own)
	assert.True(t, strings.HasSuffix(got, own))
	assert.Contains(t, got, "<urn:mine#>")
	assert.NotContains(t, got, testutil.DVT)
	assert.Contains(t, got, "PREFIX rdfs: <")

	full := ns.PrefixDeclarations() + "ASK { ?s ?p ?o }"
	assert.Equal(t, full, InjectPrefixes(ns, full))
}

func TestDeclaredPrefixes(t *testing.T) {
	text := "PREFIX dvt: <urn:a#>\nprefix DVT:<urn:b#>\nPrefix  rdf :\t<urn:c#>\nPREFIX : <urn:d#>\nSELECT ?s WHERE { ?s a dvt:X }"
	assert.Equal(t, map[string]bool{"dvt": true, "DVT": true, "rdf": true, "": true}, declaredPrefixes(text))
	assert.Empty(t, declaredPrefixes("SELECT ?s WHERE { ?s a dvt:Vehicle }"))
}

func TestUserPrefixOverridesDefault(t *testing.T) {
	s := newStore(t)
	h := loadVehicles(t, s)

	res, err := s.Query(context.Background(), h, `PREFIX ex: <`+testutil.DVT+`>
		SELECT ?v WHERE { ?v ex:hasComponent ex:brake1 }`)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"v": "dvt:vehicle1"}}, res.Rows)
}
