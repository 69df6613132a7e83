// Package protocol provides the wire types shared by the bridge surfaces.
// These types can be imported by external clients.
package protocol

import "time"

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the final answer.
type ChatResponse struct {
	Response string `json:"response"`
}

// UploadResponse reports the outcome of POST /upload-ontology.
type UploadResponse struct {
	Status   string `json:"status"` // success, error
	Message  string `json:"message"`
	FileName string `json:"file_name,omitempty"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ToolsResponse lists the tools currently offered to the model.
type ToolsResponse struct {
	Generation uint64     `json:"generation"`
	Tools      []ToolSpec `json:"tools"`
}

// StatusResponse describes the published snapshot.
type StatusResponse struct {
	Generation  uint64    `json:"generation"`
	Source      string    `json:"source,omitempty"`
	Format      string    `json:"format,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at,omitzero"`
	GraphLoaded bool      `json:"graph_loaded"`
	Triples     int       `json:"triples"`
	IndexReady  bool      `json:"index_ready"`
	Chunks      int       `json:"chunks"`
	GraphError  string    `json:"graph_error,omitempty"`
	IndexError  string    `json:"index_error,omitempty"`
	Tools       []string  `json:"tools"`
	Stats       any       `json:"stats,omitempty"`
	Usage       any       `json:"usage,omitempty"`
}

// Exchange is one answered question as recorded in the audit ledger.
type Exchange struct {
	ID         int64     `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	ToolCalls  int       `json:"tool_calls"`
	Model      string    `json:"model,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Generation uint64    `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
}
