// Package ontology identifies and stores uploaded knowledge-graph sources.
package ontology

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/graph"
)

// Source is one ingested file. At most one source is active at a time.
type Source struct {
	ID         string       `json:"id"`
	Path       string       `json:"path"`
	Name       string       `json:"name"`
	Format     graph.Format `json:"format"`
	UploadedAt time.Time    `json:"uploaded_at"`
	SizeBytes  int64        `json:"size_bytes"`
}

// sniffLen is how much of a file DetectFormat needs for .owl sniffing.
const sniffLen = 512

// Open stats path and detects its format.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewBuilder(apperrors.CodeLoadError, "ontology source is not readable").
			Permanent().
			Wrap(err).
			WithContext("path", path).
			Build()
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLoadError, "ontology source is not readable", apperrors.CategoryPermanent)
	}
	if info.IsDir() {
		return nil, apperrors.Permanent(apperrors.CodeLoadError, "ontology source is a directory")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperrors.Wrap(err, apperrors.CodeLoadError, "ontology source is not readable", apperrors.CategoryPermanent)
	}

	format, err := DetectFormat(path, head[:n])
	if err != nil {
		return nil, err
	}

	return &Source{
		ID:         uuid.NewString(),
		Path:       path,
		Name:       filepath.Base(path),
		Format:     format,
		UploadedAt: time.Now(),
		SizeBytes:  info.Size(),
	}, nil
}

// Extension returns the lowercased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// CheckExtension rejects empty names and extensions outside allowed.
func CheckExtension(name string, allowed []string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.User(apperrors.CodeUploadRejected, "No selected file")
	}
	ext := Extension(name)
	if ext == "" || !slices.Contains(allowed, ext) {
		return apperrors.NewBuilder(apperrors.CodeUploadRejected, "Invalid file type").
			User().
			WithContext("file_name", name).
			WithSuggestion(fmt.Sprintf("Allowed extensions: %s", strings.Join(allowed, ", "))).
			Build()
	}
	return nil
}

// DetectFormat maps a file extension to a serialization. OWL files
// carry either RDF/XML or Turtle, so their leading bytes decide.
func DetectFormat(path string, head []byte) (graph.Format, error) {
	switch Extension(path) {
	case "ttl":
		return graph.FormatTurtle, nil
	case "nt":
		return graph.FormatNTriples, nil
	case "rdf", "xml":
		return graph.FormatRDFXML, nil
	case "owl":
		trimmed := bytes.TrimLeftFunc(head, unicode.IsSpace)
		trimmed = bytes.TrimPrefix(trimmed, []byte("\xef\xbb\xbf"))
		if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.Contains(head, []byte("<rdf:RDF")) {
			return graph.FormatRDFXML, nil
		}
		return graph.FormatTurtle, nil
	}
	return "", apperrors.NewBuilder(apperrors.CodeLoadError, "unrecognized ontology format").
		Permanent().
		WithContext("path", path).
		Build()
}

// SanitizeName reduces name to a safe basename made of letters, digits,
// dots, dashes and underscores. It returns "" when nothing usable remains.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}

// Save writes r to dir under the sanitized form of name. Writes larger
// than maxBytes are rejected and the partial file removed.
func Save(dir, name string, r io.Reader, maxBytes int64) (string, int64, error) {
	safe := SanitizeName(name)
	if safe == "" || Extension(safe) == "" {
		return "", 0, apperrors.User(apperrors.CodeUploadRejected, "No selected file")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, apperrors.Wrap(err, apperrors.CodeUploadRejected, "could not prepare upload directory", apperrors.CategorySystem)
	}

	path := filepath.Join(dir, safe)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, apperrors.Wrap(err, apperrors.CodeUploadRejected, "could not store upload", apperrors.CategorySystem)
	}

	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxBytes {
		err = apperrors.NewBuilder(apperrors.CodeUploadRejected, "file exceeds the upload size limit").
			User().
			WithContext("max_bytes", maxBytes).
			Build()
	}
	if err != nil {
		os.Remove(path)
		if apperrors.Code(err) != "" {
			return "", 0, err
		}
		return "", 0, apperrors.Wrap(err, apperrors.CodeUploadRejected, "could not store upload", apperrors.CategorySystem)
	}
	return path, n, nil
}
