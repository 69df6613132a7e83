package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flynn-ai/kgbridge/internal/config"
	"github.com/flynn-ai/kgbridge/internal/connector"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/ontology"
	"github.com/flynn-ai/kgbridge/internal/retrieval"
	"github.com/flynn-ai/kgbridge/internal/testutil"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var opts = Options{DefaultK: 4, MaxK: 10}

type backends struct {
	store *connector.GraphStore
	h     *graph.Handle
	ix    *retrieval.Index
}

func newBackends(t *testing.T) backends {
	t.Helper()
	ns, err := graph.Standard("dvt", testutil.DVT)
	require.NoError(t, err)
	store := connector.NewGraphStore(ns, nil)

	src, err := ontology.Open(testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	h, err := store.Load(context.Background(), src)
	require.NoError(t, err)

	cfg := config.Default().Retrieval
	cfg.ChunkSize, cfg.ChunkOverlap = 200, 40
	b := retrieval.NewBuilder(cfg, func() (retrieval.Embedder, error) { return retrieval.NewTFIDFEmbedder(), nil }, 0, nil)
	ix, err := b.Build(context.Background(), src)
	require.NoError(t, err)

	return backends{store: store, h: h, ix: ix}
}

func call(id, name, args string) protocol.ToolCallRequest {
	return protocol.ToolCallRequest{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestDeriveToolSets(t *testing.T) {
	be := newBackends(t)

	tests := []struct {
		name  string
		h     *graph.Handle
		ix    *retrieval.Index
		names []string
	}{
		{"nothing loaded", nil, nil, []string{}},
		{"graph only", be.h, nil, []string{schemas.GraphQueryTool}},
		{"index only", nil, be.ix, []string{schemas.RetrievalTool}},
		{"both", be.h, be.ix, []string{schemas.GraphQueryTool, schemas.RetrievalTool}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := Derive(be.store, tt.h, tt.ix, opts)
			require.NoError(t, err)
			assert.Equal(t, len(tt.names), reg.Len())
			assert.ElementsMatch(t, tt.names, reg.Names())
			assert.Len(t, reg.Specs(), len(tt.names))
			assert.Len(t, reg.ToOpenAIFormat(), len(tt.names))
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	be := newBackends(t)
	a, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)
	b, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Specs(), b.Specs())
	assert.Contains(t, a.Specs()[0].Description, "(like dvt:, rdf:, rdfs:, owl:)")
	assert.Equal(t, 0, Empty().Len())
}

func TestDecode(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  protocol.ToolCallRequest
		want Call
	}{
		{
			"graph query",
			call("c1", schemas.GraphQueryTool, `{"sparql_query":"SELECT ?s WHERE { ?s ?p ?o }"}`),
			GraphQueryCall{ID: "c1", Query: "SELECT ?s WHERE { ?s ?p ?o }"},
		},
		{
			"retrieval default k",
			call("c2", schemas.RetrievalTool, `{"query_text":"brakes"}`),
			RetrievalCall{ID: "c2", Text: "brakes", K: 4},
		},
		{
			"retrieval explicit k",
			call("c3", schemas.RetrievalTool, `{"query_text":"brakes","k":7}`),
			RetrievalCall{ID: "c3", Text: "brakes", K: 7},
		},
		{
			"retrieval k above max is capped",
			call("c5", schemas.RetrievalTool, `{"query_text":"brakes","k":50}`),
			RetrievalCall{ID: "c5", Text: "brakes", K: 10},
		},
		{
			"retrieval k beyond int range is capped",
			call("c6", schemas.RetrievalTool, `{"query_text":"brakes","k":1e19}`),
			RetrievalCall{ID: "c6", Text: "brakes", K: 10},
		},
		{
			"unknown tool",
			call("c4", "delete_everything", `{}`),
			UnknownCall{ID: "c4", Name: "delete_everything"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Decode(tt.req))
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)

	for name, req := range map[string]protocol.ToolCallRequest{
		"not json":        call("m1", schemas.GraphQueryTool, `{"sparql_query": SELECT`),
		"array":           call("m2", schemas.GraphQueryTool, `["SELECT"]`),
		"missing field":   call("m3", schemas.GraphQueryTool, `{"query":"SELECT ?s WHERE {}"}`),
		"empty arguments": call("m4", schemas.GraphQueryTool, ``),
		"wrong type":      call("m5", schemas.GraphQueryTool, `{"sparql_query": 42}`),
		"k zero":          call("m6", schemas.RetrievalTool, `{"query_text":"x","k":0}`),
		"k fractional":    call("m7", schemas.RetrievalTool, `{"query_text":"x","k":2.5}`),
		"blank text":      call("m8", schemas.RetrievalTool, `{"query_text":"   "}`),
		"null":            call("m9", schemas.RetrievalTool, `null`),
	} {
		t.Run(name, func(t *testing.T) {
			c, ok := reg.Decode(req).(MalformedCall)
			require.True(t, ok, "got %T", reg.Decode(req))
			assert.Equal(t, req.ID, c.ID)
			assert.True(t, apperrors.HasCode(c.Err, apperrors.CodeInvalidToolCall))
		})
	}
}

func TestDecodeUnavailable(t *testing.T) {
	reg := Empty()

	c, ok := reg.Decode(call("u1", schemas.GraphQueryTool, `{"sparql_query":"ASK {}"}`)).(UnavailableCall)
	require.True(t, ok)
	assert.True(t, apperrors.HasCode(c.Err, apperrors.CodeNotLoaded))

	c, ok = reg.Decode(call("u2", schemas.RetrievalTool, `{"query_text":"x"}`)).(UnavailableCall)
	require.True(t, ok)
	assert.True(t, apperrors.HasCode(c.Err, apperrors.CodeNotInitialized))
}

func TestExecuteGraphQuery(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)
	d := NewDispatcher(reg, time.Second, nil)

	args, err := json.Marshal(map[string]string{"sparql_query": testutil.FaultyVehicleQuery})
	require.NoError(t, err)
	res := d.Execute(context.Background(), call("call_1", schemas.GraphQueryTool, string(args)))

	assert.Equal(t, "call_1", res.CallID)
	assert.Equal(t, schemas.GraphQueryTool, res.Name)
	assert.True(t, res.Success)
	assert.JSONEq(t, `[{"vehicle":"dvt:vehicle1"}]`, res.Content)
}

func TestExecuteQueryFailuresStayConversational(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)
	d := NewDispatcher(reg, time.Second, nil)

	res := d.Execute(context.Background(), call("a", schemas.GraphQueryTool, `{"sparql_query":"SELECT ?x WHERE { ?x a ex:Nope }"}`))
	assert.True(t, res.Success)
	assert.Equal(t, "[]", res.Content)

	res = d.Execute(context.Background(), call("b", schemas.GraphQueryTool, `{"sparql_query":"DESCRIBE dvt:vehicle1"}`))
	assert.False(t, res.Success)
	assert.Equal(t, "Error: Invalid SPARQL query. Must contain SELECT or ASK.", res.Content)

	res = d.Execute(context.Background(), call("c", schemas.GraphQueryTool, `{"sparql_query":"ASK { dvt:brake1 dvt:status \"faulty\" }"}`))
	assert.True(t, res.Success)
	assert.Equal(t, "true", res.Content)
}

func TestExecuteRetrieval(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)
	d := NewDispatcher(reg, time.Second, nil)

	res := d.Execute(context.Background(), call("r", schemas.RetrievalTool, `{"query_text":"faulty brake","k":50}`))
	require.True(t, res.Success, res.Content)

	var docs []retrieval.Document
	require.NoError(t, json.Unmarshal([]byte(res.Content), &docs))
	assert.Len(t, docs, min(10, be.ix.Len()))
	var texts []string
	for _, d := range docs {
		texts = append(texts, d.PageContent)
		assert.Contains(t, d.Metadata, "source")
	}
	assert.Contains(t, strings.Join(texts, "\n"), `"faulty"`)
}

func TestExecuteBeforeUpload(t *testing.T) {
	d := NewDispatcher(nil, time.Second, nil)

	res := d.Execute(context.Background(), call("x", schemas.GraphQueryTool, `{"sparql_query":"SELECT ?s WHERE { ?s ?p ?o }"}`))
	assert.False(t, res.Success)
	assert.Equal(t, "Error: no ontology graph is loaded. Upload an ontology source first", res.Content)

	res = d.Execute(context.Background(), call("y", schemas.RetrievalTool, `{"query_text":"x"}`))
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Content, "Error: retrieval index is not initialized"))
}

func TestExecuteAllIsolatesFaultsAndKeepsOrder(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, nil, opts)
	require.NoError(t, err)
	d := NewDispatcher(reg, time.Second, nil)

	reqs := []protocol.ToolCallRequest{
		call("call_unknown", "lookup_weather", `{"city":"Munich"}`),
		call("call_graph", schemas.GraphQueryTool, `{"sparql_query":"SELECT ?c WHERE { ?c dvt:status \"faulty\" }"}`),
		call("call_bad", schemas.GraphQueryTool, `{oops`),
	}
	results := d.ExecuteAll(context.Background(), reqs)
	require.Len(t, results, 3)

	byID := make(map[string]protocol.ToolCallResult)
	for i, r := range results {
		assert.Equal(t, reqs[i].ID, r.CallID, "results keep request order")
		byID[r.CallID] = r
	}

	assert.False(t, byID["call_unknown"].Success)
	assert.Equal(t, "Error: Unknown tool: lookup_weather", byID["call_unknown"].Content)

	assert.True(t, byID["call_graph"].Success)
	assert.JSONEq(t, `[{"c":"dvt:brake1"}]`, byID["call_graph"].Content)

	assert.False(t, byID["call_bad"].Success)
	assert.Contains(t, byID["call_bad"].Content, "not a valid JSON object")
}

func TestExecuteAllManyCalls(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, be.ix, opts)
	require.NoError(t, err)
	d := NewDispatcher(reg, time.Second, nil)

	var reqs []protocol.ToolCallRequest
	for i := range 20 {
		reqs = append(reqs, call(fmt.Sprintf("c%02d", i), schemas.GraphQueryTool,
			`{"sparql_query":"SELECT (COUNT(?v) AS ?n) WHERE { ?v a dvt:Vehicle }"}`))
	}
	results := d.ExecuteAll(context.Background(), reqs)
	for i, r := range results {
		assert.Equal(t, reqs[i].ID, r.CallID)
		assert.JSONEq(t, `[{"n":"2"}]`, r.Content)
	}
}

func TestExecuteTimeout(t *testing.T) {
	be := newBackends(t)
	reg, err := Derive(be.store, be.h, nil, opts)
	require.NoError(t, err)
	d := NewDispatcher(reg, time.Nanosecond, nil)

	res := d.Execute(context.Background(), call("slow", schemas.GraphQueryTool,
		`{"sparql_query":"SELECT * WHERE { ?a ?b ?c . ?d ?e ?f . ?g ?h ?i }"}`))
	assert.False(t, res.Success)
	assert.Equal(t, "Error: graph query timed out", res.Content)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{nil, ""},
		{true, "true"},
		{42, "42"},
		{[]map[string]any{{"a": "b"}}, `[{"a":"b"}]`},
		{map[string]any{"k": 1}, `{"k":1}`},
		{[]retrieval.Document{{PageContent: "x", Metadata: map[string]any{"source": "f.ttl"}}},
			`[{"page_content":"x","metadata":{"source":"f.ttl"}}]`},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
