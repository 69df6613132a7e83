package schemas

import (
	"fmt"
	"strings"
)

// Tool names as the model sees them.
const (
	GraphQueryTool = "query_uploaded_rdf_graph"
	RetrievalTool  = "query_text_with_rag"
)

// Parameter names.
const (
	ParamSPARQLQuery = "sparql_query"
	ParamQueryText   = "query_text"
	ParamK           = "k"
)

// GraphQuery describes the structured query tool. prefixes are the
// prefix names mentioned as examples in the description.
func GraphQuery(prefixes ...string) *Schema {
	if len(prefixes) == 0 {
		prefixes = []string{"rdf", "rdfs", "owl"}
	}
	like := make([]string, len(prefixes))
	for i, p := range prefixes {
		like[i] = p + ":"
	}
	return NewSchema(GraphQueryTool,
		fmt.Sprintf("Execute a SPARQL query directly on the previously uploaded RDF ontology file. "+
			"Use this for precise queries about classes, properties, relationships, and instances. "+
			"Ensure you use the correct prefixes (like %s) provided in the system prompt. "+
			"Always provide the full SPARQL query.", strings.Join(like, ", "))).
		AddParam(ParamSPARQLQuery, "string",
			"The SPARQL query string to execute on the uploaded graph. E.g., 'SELECT DISTINCT ?class WHERE { ?class a owl:Class }'", true).
		Build()
}
