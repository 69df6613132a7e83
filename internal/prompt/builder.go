// Package prompt builds the system prompt for knowledge-graph questions.
package prompt

import (
	"fmt"
	"strings"

	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

type Mode string

const (
	ModeFull    Mode = "full"
	ModeMinimal Mode = "minimal"
)

type Builder struct {
	Mode Mode
}

// SystemContext is what the prompt needs to know about the active
// snapshot.
type SystemContext struct {
	Tools    []protocol.ToolSpec
	Prefixes string // PREFIX lines, one per binding
	Source   string
}

func NewBuilder(mode Mode) *Builder {
	return &Builder{Mode: mode}
}

func (b *Builder) BuildSystemPrompt(ctx SystemContext) string {
	var sections []string
	sections = append(sections, "You are a helpful assistant specialized in understanding and querying knowledge graphs.")
	sections = append(sections, "You have access to tools that allow you to:\n"+capabilities(ctx.Tools))
	sections = append(sections, strings.Join([]string{
		"Always try to use the provided tools to answer questions about the ontology, its classes, properties, and instances.",
		"If a question is about the structure or content of the ontology, use the appropriate tool.",
		"If a tool call fails, inform the user that the information could not be retrieved.",
	}, "\n"))

	if b.Mode == ModeFull && ctx.Source != "" {
		sections = append(sections, "Active ontology source: "+ctx.Source)
	}
	if p := strings.TrimSpace(ctx.Prefixes); p != "" {
		sections = append(sections, "Here are the prefixes for the ontology:\n"+p)
	}
	return strings.Join(sections, "\n\n")
}

// capabilities numbers one line per offered tool.
func capabilities(specs []protocol.ToolSpec) string {
	if len(specs) == 0 {
		return "None."
	}
	var bld strings.Builder
	for i, s := range specs {
		fmt.Fprintf(&bld, "%d. %s\n", i+1, capability(s.Name))
	}
	return strings.TrimSuffix(bld.String(), "\n")
}

func capability(name string) string {
	switch name {
	case schemas.GraphQueryTool:
		return "Execute SPARQL queries directly on the uploaded RDF graph."
	case schemas.RetrievalTool:
		return "Retrieve information from an uploaded ontology file using Retrieval Augmented Generation (RAG)."
	default:
		return name
	}
}
