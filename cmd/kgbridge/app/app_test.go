package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/kgbridge/internal/testutil"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

// writeConfig writes a config that needs no network or home directory.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
[retrieval]
embedder = "tfidf"
chunk_size = 300
chunk_overlap = 50

[paths]
data_dir = "` + dir + `"
upload_dir = "` + filepath.Join(dir, "uploads") + `"
cache_dir = "` + filepath.Join(dir, "cache") + `"
audit_db = "` + filepath.Join(dir, "audit.db") + `"

[log]
level = "error"
`
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestToolsCommand(t *testing.T) {
	cfg := writeConfig(t)
	src := testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle)

	out, err := run(t, "--config", cfg, "tools", "--source", src)
	require.NoError(t, err)

	var specs []protocol.ToolSpec
	require.NoError(t, json.Unmarshal([]byte(out), &specs), out)
	require.Len(t, specs, 2)
	assert.Equal(t, schemas.GraphQueryTool, specs[0].Name)
	assert.Equal(t, schemas.RetrievalTool, specs[1].Name)
}

func TestQueryCommand(t *testing.T) {
	cfg := writeConfig(t)
	src := testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle)

	out, err := run(t, "--config", cfg, "--no-audit", "query", "-s", src, testutil.FaultyVehicleQuery)
	require.NoError(t, err)
	assert.Equal(t, `[{"vehicle":"dvt:vehicle1"}]`, strings.TrimSpace(out))
}

func TestQueryCommandRequiresGraph(t *testing.T) {
	cfg := writeConfig(t)
	src := testutil.WriteFile(t, "broken.ttl", "this is <not turtle")

	_, err := run(t, "--config", cfg, "query", "-s", src, "ASK { ?s ?p ?o }")
	assert.Error(t, err)
}

func TestSourceFlagRequired(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "query", "SELECT ?s WHERE { ?s ?p ?o }")
	assert.ErrorContains(t, err, "source")
}

func TestCommandsRegistered(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "ask", "chat", "mcp", "tools", "query"})
}
