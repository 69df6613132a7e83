// Package connector loads ontology sources into queryable graphs and runs
// structured queries against them.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/ontology"
	"github.com/flynn-ai/kgbridge/internal/sparql"
)

// GraphStore parses sources and executes queries. It holds no handle of
// its own; callers own the handle it returns and swap it as a whole.
type GraphStore struct {
	ns     *graph.Namespaces
	logger *slog.Logger
}

// NewGraphStore creates a store that binds ns on every loaded graph.
func NewGraphStore(ns *graph.Namespaces, logger *slog.Logger) *GraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{ns: ns, logger: logger}
}

// Namespaces returns the closed prefix table applied to every query.
func (s *GraphStore) Namespaces() *graph.Namespaces { return s.ns }

// Load parses src into a fully built handle. Any failure returns a
// LOAD_ERROR and no handle.
func (s *GraphStore) Load(ctx context.Context, src *ontology.Source) (*graph.Handle, error) {
	if src == nil {
		return nil, apperrors.Permanent(apperrors.CodeLoadError, "no ontology source given")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, s.loadError(src, err)
	}
	defer f.Close()

	h, err := graph.Parse(f, src.Format, s.ns)
	if err != nil {
		return nil, s.loadError(src, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("graph loaded",
		"source", src.Name,
		"format", src.Format,
		"triples", h.Len(),
		"duration", time.Since(start))
	return h, nil
}

func (s *GraphStore) loadError(src *ontology.Source, err error) error {
	s.logger.Error("graph load failed", "source", src.Path, "format", src.Format, "error", err)
	return apperrors.NewBuilder(apperrors.CodeLoadError, fmt.Sprintf("could not parse %s", src.Name)).
		Permanent().
		Wrap(err).
		WithContext("path", src.Path).
		WithSuggestion("Check that the file is valid Turtle, RDF/XML or N-Triples").
		Build()
}

var formPattern = regexp.MustCompile(`(?i)\b(SELECT|ASK)\b`)

// Query runs text against h. A nil handle yields NOT_LOADED and a query
// with neither SELECT nor ASK yields INVALID_QUERY, both before any
// execution. Execution failures on a loaded graph do not return an error:
// they come back as an empty result with ExecErr set and are logged.
func (s *GraphStore) Query(ctx context.Context, h *graph.Handle, text string) (*QueryResult, error) {
	if h == nil {
		return nil, apperrors.NotLoaded()
	}
	if !formPattern.MatchString(text) {
		return nil, apperrors.InvalidQuery("Invalid SPARQL query. Must contain SELECT or ASK.")
	}

	ns := h.Namespaces()
	if ns == nil {
		ns = s.ns
	}
	full := InjectPrefixes(ns, text)

	start := time.Now()
	res, err := sparql.Exec(ctx, h, full)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.BackendTimeout("graph query", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.Warn("graph query failed",
			"error", err,
			"query", full)
		return &QueryResult{
			Rows: []map[string]any{},
			ExecErr: apperrors.NewBuilder(apperrors.CodeQueryError, "query execution failed").
				User().
				Wrap(err).
				Build(),
		}, nil
	}

	out := Normalize(ns, res)
	s.logger.Debug("graph query",
		"rows", len(out.Rows),
		"duration", time.Since(start))
	return out, nil
}

// InjectPrefixes prepends a PREFIX declaration for every binding in ns
// that text does not already declare. Declarations already present win.
func InjectPrefixes(ns *graph.Namespaces, text string) string {
	declared := declaredPrefixes(text)
	var b strings.Builder
	for _, bnd := range ns.Bindings() {
		if declared[bnd.Prefix] {
			continue
		}
		fmt.Fprintf(&b, "PREFIX %s: <%s>\n", bnd.Prefix, bnd.Namespace)
	}
	if b.Len() == 0 {
		return text
	}
	b.WriteString(text)
	return b.String()
}

var prefixDecl = regexp.MustCompile(`(?i:\bPREFIX)\s+([^\s:]*)\s*:`)

// declaredPrefixes returns the prefix names text declares. Names are
// case-sensitive; only the PREFIX keyword is not.
func declaredPrefixes(text string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range prefixDecl.FindAllStringSubmatch(text, -1) {
		out[m[1]] = true
	}
	return out
}
