package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

const prefixes = "PREFIX dvt: <https://example.org/dvt/>\nPREFIX rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#>\n"

func TestBuildSystemPromptListsOfferedTools(t *testing.T) {
	p := NewBuilder(ModeFull).BuildSystemPrompt(SystemContext{
		Tools: []protocol.ToolSpec{
			{Name: schemas.GraphQueryTool},
			{Name: schemas.RetrievalTool},
		},
		Prefixes: prefixes,
		Source:   "vehicles.ttl",
	})

	assert.Contains(t, p, "specialized in understanding and querying knowledge graphs")
	assert.Contains(t, p, "1. Execute SPARQL queries directly on the uploaded RDF graph.")
	assert.Contains(t, p, "2. Retrieve information from an uploaded ontology file")
	assert.Contains(t, p, "If a tool call fails, inform the user")
	assert.Contains(t, p, "Active ontology source: vehicles.ttl")
	assert.Contains(t, p, "Here are the prefixes for the ontology:\nPREFIX dvt: <https://example.org/dvt/>\nPREFIX rdf:")
}

func TestBuildSystemPromptMinimal(t *testing.T) {
	p := NewBuilder(ModeMinimal).BuildSystemPrompt(SystemContext{
		Tools:  []protocol.ToolSpec{{Name: schemas.RetrievalTool}},
		Source: "vehicles.ttl",
	})

	assert.Contains(t, p, "1. Retrieve information")
	assert.NotContains(t, p, "SPARQL queries directly")
	assert.NotContains(t, p, "vehicles.ttl")
	assert.NotContains(t, p, "prefixes")
}

func TestBuildSystemPromptWithoutTools(t *testing.T) {
	p := NewBuilder(ModeFull).BuildSystemPrompt(SystemContext{})
	assert.Contains(t, p, "tools that allow you to:\nNone.")
}
