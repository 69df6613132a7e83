package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

func TestGraphQuerySchema(t *testing.T) {
	s := GraphQuery("dvt", "rdf", "rdfs", "owl")
	assert.Equal(t, GraphQueryTool, s.Name)
	assert.Contains(t, s.Description, "(like dvt:, rdf:, rdfs:, owl:)")
	assert.Equal(t, []string{ParamSPARQLQuery}, s.Required())

	spec := s.Spec()
	assert.Equal(t, map[string]protocol.Parameter{
		ParamSPARQLQuery: {
			Type:        "string",
			Description: "The SPARQL query string to execute on the uploaded graph. E.g., 'SELECT DISTINCT ?class WHERE { ?class a owl:Class }'",
			Required:    true,
		},
	}, spec.Parameters)
}

func TestRetrievalSchema(t *testing.T) {
	s := Retrieval(4, 10)
	spec := s.Spec()

	require.Contains(t, spec.Parameters, ParamQueryText)
	require.Contains(t, spec.Parameters, ParamK)
	assert.True(t, spec.Parameters[ParamQueryText].Required)
	assert.False(t, spec.Parameters[ParamK].Required)
	assert.Equal(t, "integer", spec.Parameters[ParamK].Type)
	assert.Equal(t, "The number of top relevant documents to retrieve (default is 4). Max is 10.", spec.Parameters[ParamK].Description)

	k := s.Parameters["properties"].(map[string]any)[ParamK].(map[string]any)
	assert.Equal(t, 1, k["minimum"])
}

func TestRegistryKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(GraphQuery())
	r.Register(Retrieval(4, 10))
	r.Register(GraphQuery("dvt"))

	assert.Equal(t, []string{GraphQueryTool, RetrievalTool}, r.List())
	assert.Equal(t, 2, r.Len())
	g, ok := r.Get(GraphQueryTool)
	require.True(t, ok)
	assert.Contains(t, g.Description, "like dvt:)")

	openai := r.ToOpenAIFormat()
	require.Len(t, openai, 2)
	assert.Equal(t, "function", openai[0]["type"])

	raw, err := json.Marshal(openai)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"required":["sparql_query"]`)
}
