package schemas

import "fmt"

// Retrieval describes the semantic search tool.
func Retrieval(defaultK, maxK int) *Schema {
	return NewSchema(RetrievalTool,
		"Retrieve information from the uploaded ontology based on natural language queries using "+
			"Retrieval Augmented Generation (RAG). This is useful for understanding concepts, "+
			"descriptions, or relationships described in the ontology.").
		AddParam(ParamQueryText, "string", "The natural language query to retrieve context for.", true).
		AddParam(ParamK, "integer",
			fmt.Sprintf("The number of top relevant documents to retrieve (default is %d). Max is %d.", defaultK, maxK), false).
		Minimum(ParamK, 1).
		Build()
}
