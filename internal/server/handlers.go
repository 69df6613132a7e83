package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/ontology"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	// multipartSlack covers boundaries and headers around the file part.
	multipartSlack = 1 << 20
)

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartSlack)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeUpload(w, http.StatusRequestEntityTooLarge, "error", "file exceeds the upload size limit.", "")
		case r.MultipartForm != nil && len(r.MultipartForm.Value["file"]) > 0:
			// A part named file without a filename is an empty selection.
			writeUpload(w, http.StatusBadRequest, "error", "No selected file.", "")
		default:
			writeUpload(w, http.StatusBadRequest, "error", "No file part in the request.", "")
		}
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeUpload(w, http.StatusBadRequest, "error", "No selected file.", "")
		return
	}
	if err := ontology.CheckExtension(header.Filename, s.cfg.Upload.AllowedExtensions); err != nil {
		writeUpload(w, http.StatusBadRequest, "error", apperrors.UserMessage(err)+".", "")
		return
	}

	path, _, err := ontology.Save(s.cfg.Paths.UploadDir, header.Filename, file, maxBytes)
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.GetCategory(err) == apperrors.CategoryUser {
			status = http.StatusBadRequest
		}
		s.logger.Warn("upload not stored", "file_name", header.Filename, "error", err)
		writeUpload(w, status, "error", apperrors.UserMessage(err)+".", "")
		return
	}
	s.stats.RecordUpload()

	snap, err := s.bridge.Upload(r.Context(), path)
	name := ontology.SanitizeName(header.Filename)
	if snap.Source != nil {
		name = snap.Source.Name
	}
	if err != nil || !snap.HasGraph() {
		s.logger.Error("failed to load ontology graph", "file_name", name, "error", err)
		writeUpload(w, http.StatusInternalServerError, "error",
			fmt.Sprintf("Failed to load ontology graph from '%s'. Please check logs for details.", name), "")
		return
	}

	msg := fmt.Sprintf("Ontology '%s' uploaded and loaded successfully!", name)
	s.logger.Info(msg, "generation", snap.Generation, "triples", snap.Graph.Len(), "chunks", snap.Index.Len())
	writeUpload(w, http.StatusOK, "success", msg, name)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ChatResponse{Response: "No message provided."})
		return
	}
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, protocol.ErrorResponse{
			Error: "too many questions, slow down",
			Code:  apperrors.CodeModelRateLimit,
		})
		return
	}

	ans, err := s.agent.Ask(r.Context(), req.Message)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("chat failed", "error", err)
		}
		text := apperrors.UserMessage(err)
		if apperrors.Code(err) != apperrors.CodeInvalidInput {
			text = "An error occurred: " + text
		}
		writeJSON(w, status, protocol.ChatResponse{Response: text})
		return
	}
	writeJSON(w, http.StatusOK, protocol.ChatResponse{Response: ans.Text})
}

func (s *Server) tools(w http.ResponseWriter, _ *http.Request) {
	snap := s.bridge.Snapshot()
	writeJSON(w, http.StatusOK, protocol.ToolsResponse{
		Generation: snap.Generation,
		Tools:      snap.Tools.Specs(),
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap := s.bridge.Snapshot()
	resp := protocol.StatusResponse{
		Generation:  snap.Generation,
		GraphLoaded: snap.HasGraph(),
		IndexReady:  snap.HasIndex(),
		Chunks:      snap.Index.Len(),
		Tools:       snap.Tools.Names(),
	}
	if snap.Source != nil {
		resp.Source = snap.Source.Name
		resp.Format = string(snap.Source.Format)
		resp.UploadedAt = snap.Source.UploadedAt
	}
	if snap.HasGraph() {
		resp.Triples = snap.Graph.Len()
	}
	if snap.GraphErr != nil {
		resp.GraphError = apperrors.UserMessage(snap.GraphErr)
	}
	if snap.IndexErr != nil {
		resp.IndexError = apperrors.UserMessage(snap.IndexErr)
	}

	var (
		dbSize int64
		dbPath string
	)
	if s.ledger != nil {
		dbSize, dbPath = s.ledger.Size(), s.ledger.Path()
	}
	resp.Stats = s.stats.Collect(dbSize, dbPath)
	if s.usage != nil {
		resp.Usage = s.usage.Usage()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  apperrors.CodeInvalidInput,
			})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	exchanges := []protocol.Exchange{}
	if s.ledger != nil {
		var err error
		exchanges, err = s.ledger.RecentExchanges(r.Context(), limit)
		if err != nil {
			s.logger.Error("history lookup failed", "error", err)
			writeError(w, err)
			return
		}
	}
	if exchanges == nil {
		exchanges = []protocol.Exchange{}
	}
	writeJSON(w, http.StatusOK, exchanges)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case apperrors.IsTimeout(err):
		return http.StatusServiceUnavailable
	case apperrors.GetCategory(err) == apperrors.CategoryUser:
		return http.StatusBadRequest
	case apperrors.GetCategory(err) == apperrors.CategoryTemporary:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), protocol.ErrorResponse{
		Error:       apperrors.UserMessage(err),
		Code:        apperrors.Code(err),
		Suggestions: apperrors.GetSuggestions(err),
	})
}

func writeUpload(w http.ResponseWriter, status int, outcome, message, fileName string) {
	writeJSON(w, status, protocol.UploadResponse{Status: outcome, Message: message, FileName: fileName})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
